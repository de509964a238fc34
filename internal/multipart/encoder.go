package multipart

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/google/uuid"
)

// Field is one value to encode. Exactly one of Data or Body supplies the
// content; Body is read incrementally and closed once drained if it
// implements io.Closer.
type Field struct {
	Name        string
	Filename    string
	ContentType string
	Data        []byte
	Body        io.Reader
}

// FieldSource yields fields lazily. Next returns io.EOF when exhausted.
type FieldSource interface {
	Next() (*Field, error)
}

// FieldFunc adapts a function to a FieldSource.
type FieldFunc func() (*Field, error)

func (f FieldFunc) Next() (*Field, error) { return f() }

// Fields returns a FieldSource over a fixed list.
func Fields(fields ...Field) FieldSource {
	i := 0
	return FieldFunc(func() (*Field, error) {
		if i >= len(fields) {
			return nil, io.EOF
		}
		f := &fields[i]
		i++
		return f, nil
	})
}

// Encoder serializes fields into a multipart stream on demand. It implements
// io.Reader: each Read drains the pending header bytes, then the current
// field body, then opens the next field, and finally emits the terminal
// boundary. Only one field body is open at a time.
type Encoder struct {
	boundary string
	src      FieldSource

	pending []byte
	body    io.Reader
	closer  io.Closer
	started bool
	done    bool
	err     error
}

// NewEncoder returns an Encoder with a random boundary.
func NewEncoder(src FieldSource) *Encoder {
	return &Encoder{
		boundary: strings.ReplaceAll(uuid.New().String(), "-", ""),
		src:      src,
	}
}

// NewEncoderWithBoundary returns an Encoder using the given boundary.
func NewEncoderWithBoundary(src FieldSource, boundary string) (*Encoder, error) {
	if err := validateBoundary(boundary); err != nil {
		return nil, err
	}
	return &Encoder{boundary: boundary, src: src}, nil
}

// Boundary returns the boundary separating parts.
func (e *Encoder) Boundary() string { return e.boundary }

// ContentType returns the Content-Type header value for the encoded body.
func (e *Encoder) ContentType() string {
	return mime.FormatMediaType("multipart/form-data", map[string]string{"boundary": e.boundary})
}

// Read fills p with the next bytes of the encoded stream.
func (e *Encoder) Read(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if len(e.pending) > 0 {
			n := copy(p, e.pending)
			e.pending = e.pending[n:]
			return n, nil
		}

		if e.body != nil {
			n, err := e.body.Read(p)
			if err == io.EOF {
				e.closeBody()
				if n > 0 {
					return n, nil
				}
				continue
			}
			if err != nil {
				e.closeBody()
				e.err = err
				return n, err
			}
			if n > 0 {
				return n, nil
			}
			continue
		}

		if e.done {
			return 0, io.EOF
		}

		f, err := e.src.Next()
		if errors.Is(err, io.EOF) {
			e.pending = []byte("\r\n--" + e.boundary + "--\r\n")
			e.done = true
			continue
		}
		if err != nil {
			e.err = err
			return 0, err
		}

		header, err := e.header(f)
		if err != nil {
			e.err = err
			return 0, err
		}
		e.pending = header
		if f.Body != nil {
			e.body = f.Body
			if c, ok := f.Body.(io.Closer); ok {
				e.closer = c
			}
		} else {
			e.body = bytes.NewReader(f.Data)
		}
	}
}

// Close releases the body of a partially consumed field, if any.
func (e *Encoder) Close() error {
	var err error
	if e.closer != nil {
		err = e.closer.Close()
		e.closer = nil
	}
	e.body = nil
	return err
}

func (e *Encoder) closeBody() {
	if e.closer != nil {
		e.closer.Close()
		e.closer = nil
	}
	e.body = nil
}

func (e *Encoder) header(f *Field) ([]byte, error) {
	if f.Name == "" {
		return nil, errors.New("multipart: field without name")
	}
	for _, v := range []string{f.Name, f.Filename, f.ContentType} {
		if strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("multipart: line break in field %q", f.Name)
		}
	}

	var b bytes.Buffer
	if e.started {
		b.WriteString("\r\n")
	}
	e.started = true
	b.WriteString("--" + e.boundary + "\r\n")
	b.WriteString(`Content-Disposition: form-data; name="` + escapeQuotes(f.Name) + `"`)
	if f.Filename != "" {
		b.WriteString(`; filename="` + escapeQuotes(f.Filename) + `"`)
	}
	b.WriteString("\r\n")
	if f.ContentType != "" {
		b.WriteString("Content-Type: " + f.ContentType + "\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes(), nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// ParseBoundary extracts the boundary parameter of a multipart Content-Type.
func ParseBoundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("parsing content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("not a multipart content type: %s", mediaType)
	}
	boundary := params["boundary"]
	if err := validateBoundary(boundary); err != nil {
		return "", err
	}
	return boundary, nil
}

func validateBoundary(b string) error {
	if len(b) < 1 || len(b) > 70 {
		return fmt.Errorf("multipart: invalid boundary length %d", len(b))
	}
	for _, c := range b {
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		case strings.ContainsRune("'()+_,-./:=? ", c):
		default:
			return fmt.Errorf("multipart: invalid boundary character %q", c)
		}
	}
	return nil
}
