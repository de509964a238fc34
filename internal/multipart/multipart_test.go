package multipart

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	stdmultipart "mime/multipart"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBoundary = "0123456789abcdef0123456789abcdef"

// chunkReader returns at most n bytes per Read.
type chunkReader struct {
	r io.Reader
	n int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.n {
		p = p[:c.n]
	}
	return c.r.Read(p)
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + i/7)
	}
	return b
}

type decoded struct {
	name, filename, contentType string
	body                        []byte
}

func decodeAll(t *testing.T, r *Reader) []decoded {
	t.Helper()
	var out []decoded
	for {
		p, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		body, err := p.ReadAll()
		require.NoError(t, err)
		out = append(out, decoded{p.Name, p.Filename, p.ContentType, body})
	}
}

func encodeAll(t *testing.T, fields ...Field) []byte {
	t.Helper()
	enc, err := NewEncoderWithBoundary(Fields(fields...), testBoundary)
	require.NoError(t, err)
	data, err := io.ReadAll(enc)
	require.NoError(t, err)
	return data
}

func TestRoundTrip_FeedSizes(t *testing.T) {
	delimLen := len("\r\n--" + testBoundary)
	tricky := []byte("line\r\n--" + testBoundary[:10] + "\r\n--\r\n")

	makeFields := func(tracker *closeTracker) []Field {
		return []Field{
			{Name: "changes", Data: []byte(`{"version":3}`)},
			{Name: "empty", Data: nil},
			{Name: "data/survey.gpkg", Filename: "data/survey.gpkg", ContentType: "application/octet-stream", Body: tracker},
			{Name: "tricky", Filename: "t.bin", Data: tricky},
			{Name: `quote"d\name`, Filename: `a "b".txt`, ContentType: "text/plain", Data: []byte("q")},
			{Name: "lookahead", Data: pattern(delimLen + headerSlack)},
			{Name: "chunk-edge", Data: pattern(DefaultChunkSize - 1)},
		}
	}
	large := pattern(200_000)

	for _, feed := range []int{1, 7, 100, 4096, DefaultChunkSize + 3} {
		for _, chunk := range []int{MinChunkSize, DefaultChunkSize} {
			t.Run(fmt.Sprintf("feed=%d/chunk=%d", feed, chunk), func(t *testing.T) {
				tracker := &closeTracker{Reader: bytes.NewReader(large)}
				fields := makeFields(tracker)
				enc, err := NewEncoderWithBoundary(Fields(fields...), testBoundary)
				require.NoError(t, err)

				r := NewReaderSize(&chunkReader{r: enc, n: feed}, testBoundary, chunk)
				got := decodeAll(t, r)

				require.Len(t, got, len(fields))
				assert.True(t, tracker.closed, "file body not closed after encoding")
				for i, f := range fields {
					want := f.Data
					if f.Body != nil {
						want = large
					}
					assert.Equal(t, f.Name, got[i].name)
					assert.Equal(t, f.Filename, got[i].filename)
					assert.Equal(t, f.ContentType, got[i].contentType)
					assert.Truef(t, bytes.Equal(want, got[i].body), "field %q body mismatch: got %d bytes, want %d", f.Name, len(got[i].body), len(want))
				}
			})
		}
	}
}

func TestRoundTrip_BodyAroundLookaheadWindow(t *testing.T) {
	lookahead := len("\r\n--"+testBoundary) + headerSlack
	for _, size := range []int{lookahead - 1, lookahead, lookahead + 1, MinChunkSize, MinChunkSize + lookahead} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			body := pattern(size)
			data := encodeAll(t, Field{Name: "f", Data: body})

			r := NewReaderSize(iotest.OneByteReader(bytes.NewReader(data)), testBoundary, MinChunkSize)
			got := decodeAll(t, r)
			require.Len(t, got, 1)
			assert.Equal(t, body, got[0].body)
		})
	}
}

func TestReader_HandWrittenStream(t *testing.T) {
	stream := "--B\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n\r\n" +
		"hello\r\n" +
		"--B\r\n" +
		"Content-Type: multipart/form-data\r\n" +
		"Content-Disposition: form-data; name=\"b\"; filename=\"b.txt\"\r\n" +
		"Content-Type: application/octet-stream\r\n\r\n" +
		"\r\n" +
		"--B--\r\n"

	_, err := NewReader(strings.NewReader(stream), "B").NextPart()
	require.NoError(t, err)

	r := NewReader(strings.NewReader(strings.Replace(stream, "Content-Type: multipart/form-data\r\n", "", 1)), "B")
	got := decodeAll(t, r)
	require.Len(t, got, 2)
	assert.Equal(t, decoded{name: "a", body: []byte("hello")}, got[0])
	assert.Equal(t, "b.txt", got[1].filename)
	assert.Equal(t, "application/octet-stream", got[1].contentType)
	assert.Empty(t, got[1].body)
}

func TestReader_Truncated(t *testing.T) {
	data := encodeAll(t,
		Field{Name: "a", Data: []byte("first body")},
		Field{Name: "b", Data: pattern(5000)},
	)
	terminal := len("\r\n--" + testBoundary + "--\r\n")

	t.Run("missing terminal boundary", func(t *testing.T) {
		r := NewReader(bytes.NewReader(data[:len(data)-terminal]), testBoundary)
		p, err := r.NextPart()
		require.NoError(t, err)
		_, err = p.ReadAll()
		require.NoError(t, err)

		p, err = r.NextPart()
		require.NoError(t, err)
		_, err = p.ReadAll()
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("stream ends in the middle of a body", func(t *testing.T) {
		r := NewReader(bytes.NewReader(data[:len(data)-2000]), testBoundary)
		_, err := r.NextPart()
		require.NoError(t, err)
		_, err = r.NextPart()
		require.NoError(t, err)
		_, err = r.NextPart()
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("stream ends inside a header", func(t *testing.T) {
		cut := bytes.Index(data, []byte("name=\"a\""))
		r := NewReader(bytes.NewReader(data[:cut]), testBoundary)
		_, err := r.NextPart()
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("empty stream", func(t *testing.T) {
		_, err := NewReader(bytes.NewReader(nil), testBoundary).NextPart()
		assert.ErrorIs(t, err, ErrTruncated)
	})
}

func TestReader_MalformedHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "unknown header", header: "X-Custom: 1\r\nContent-Disposition: form-data; name=\"a\"\r\n"},
		{name: "missing disposition", header: "Content-Type: text/plain\r\n"},
		{name: "not form-data", header: "Content-Disposition: attachment; name=\"a\"\r\n"},
		{name: "unquoted name", header: "Content-Disposition: form-data; name=a\r\n"},
		{name: "no header at all", header: ""},
		{name: "garbage line", header: "garbage\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := "--B\r\n" + tt.header + "\r\nbody\r\n--B--\r\n"
			_, err := NewReader(strings.NewReader(stream), "B").NextPart()
			assert.ErrorIs(t, err, ErrMalformedHeader)
		})
	}
}

func TestPart_ReadAfterEnd(t *testing.T) {
	data := encodeAll(t, Field{Name: "a", Data: []byte("xyz")})
	r := NewReader(bytes.NewReader(data), testBoundary)

	p, err := r.NextPart()
	require.NoError(t, err)

	buf := make([]byte, 2)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "xy", string(buf[:n]))

	rest, err := p.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "z", string(rest))

	for i := 0; i < 3; i++ {
		n, err = p.Read(buf)
		assert.Equal(t, 0, n)
		assert.ErrorIs(t, err, io.EOF)
	}

	_, err = r.NextPart()
	assert.ErrorIs(t, err, io.EOF)
	_, err = r.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_NextPartSkipsUnreadBody(t *testing.T) {
	data := encodeAll(t,
		Field{Name: "skipped", Data: pattern(50_000)},
		Field{Name: "wanted", Data: []byte("value")},
	)
	r := NewReaderSize(bytes.NewReader(data), testBoundary, MinChunkSize)

	_, err := r.NextPart()
	require.NoError(t, err)
	p, err := r.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "wanted", p.Name)
	body, err := p.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "value", string(body))
}

func TestReader_PropagatesStreamError(t *testing.T) {
	data := encodeAll(t, Field{Name: "a", Data: pattern(40_000)})
	boom := errors.New("connection reset")
	src := io.MultiReader(bytes.NewReader(data[:20_000]), iotest.ErrReader(boom))

	r := NewReaderSize(src, testBoundary, MinChunkSize)
	p, err := r.NextPart()
	require.NoError(t, err)
	_, err = p.ReadAll()
	assert.ErrorIs(t, err, boom)
}

func TestEncoder_NoFields(t *testing.T) {
	data := encodeAll(t)
	got := decodeAll(t, NewReader(bytes.NewReader(data), testBoundary))
	assert.Empty(t, got)
}

func TestEncoder_WireFormat(t *testing.T) {
	data := encodeAll(t,
		Field{Name: "a", Data: []byte("1")},
		Field{Name: "f", Filename: "x.txt", ContentType: "text/plain", Data: []byte("2")},
	)
	want := "--" + testBoundary + "\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n\r\n1" +
		"\r\n--" + testBoundary + "\r\n" +
		"Content-Disposition: form-data; name=\"f\"; filename=\"x.txt\"\r\n" +
		"Content-Type: text/plain\r\n\r\n2" +
		"\r\n--" + testBoundary + "--\r\n"
	assert.Equal(t, want, string(data))
}

func TestEncoder_SourceError(t *testing.T) {
	boom := errors.New("listing failed")
	calls := 0
	enc := NewEncoder(FieldFunc(func() (*Field, error) {
		calls++
		if calls == 1 {
			return &Field{Name: "a", Data: []byte("x")}, nil
		}
		return nil, boom
	}))
	_, err := io.ReadAll(enc)
	assert.ErrorIs(t, err, boom)
}

func TestEncoder_RejectsLineBreaks(t *testing.T) {
	enc := NewEncoder(Fields(Field{Name: "bad\r\nname", Data: []byte("x")}))
	_, err := io.ReadAll(enc)
	assert.Error(t, err)
}

func TestEncoder_ContentTypeRoundTrip(t *testing.T) {
	enc := NewEncoder(Fields())
	boundary, err := ParseBoundary(enc.ContentType())
	require.NoError(t, err)
	assert.Equal(t, enc.Boundary(), boundary)
	assert.Len(t, boundary, 32)

	_, err = ParseBoundary("application/json")
	assert.Error(t, err)
	_, err = ParseBoundary("multipart/form-data")
	assert.Error(t, err)
}

func TestInterop_StandardLibraryDecodesEncoderOutput(t *testing.T) {
	data := encodeAll(t,
		Field{Name: "changes", Data: []byte("{}")},
		Field{Name: `dir/"odd".gpkg`, Filename: `dir/"odd".gpkg`, ContentType: "application/octet-stream", Data: pattern(3000)},
	)

	mr := stdmultipart.NewReader(bytes.NewReader(data), testBoundary)
	p, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "changes", p.FormName())

	p, err = mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, `dir/"odd".gpkg`, p.FormName())
	body, err := io.ReadAll(p)
	require.NoError(t, err)
	assert.Equal(t, pattern(3000), body)

	_, err = mr.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestInterop_DecodesStandardLibraryWriter(t *testing.T) {
	var buf bytes.Buffer
	w := stdmultipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("changes", `{"version":1}`))
	fw, err := w.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("note body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	boundary, err := ParseBoundary(w.FormDataContentType())
	require.NoError(t, err)

	got := decodeAll(t, NewReader(&buf, boundary))
	require.Len(t, got, 2)
	assert.Equal(t, `{"version":1}`, string(got[0].body))
	assert.Equal(t, "notes.txt", got[1].filename)
	assert.Equal(t, "application/octet-stream", got[1].contentType)
	assert.Equal(t, "note body", string(got[1].body))
}

func TestSniffContentType(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "application/octet-stream"},
		{"text", "hello world\n", "text/plain; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, r, err := SniffContentType(strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ct)

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(got))
		})
	}
}

func TestSniffField_KeepsLargeBodyIntact(t *testing.T) {
	body := strings.Repeat("0123456789", 200)
	f, err := SniffField("file", "data.bin", io.NopCloser(strings.NewReader(body)))
	require.NoError(t, err)
	assert.Equal(t, "file", f.Name)
	assert.Equal(t, "data.bin", f.Filename)
	assert.NotEmpty(t, f.ContentType)

	got, err := io.ReadAll(f.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
	_, isCloser := f.Body.(io.Closer)
	assert.True(t, isCloser)
}
