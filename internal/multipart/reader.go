// Package multipart streams multipart/form-data bodies in both directions
// with memory bounded by a fixed chunk size, independent of payload size.
package multipart

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultChunkSize is the number of bytes requested from the underlying
// stream per refill.
const DefaultChunkSize = 16 * 1024

// MinChunkSize is the smallest accepted chunk size.
const MinChunkSize = 1024

// headerSlack is added to the delimiter length to form the lookahead window.
const headerSlack = 8

var (
	// ErrTruncated is returned when the stream ends before the terminal
	// boundary or inside a part header.
	ErrTruncated = errors.New("multipart: unexpected end of stream")

	// ErrMalformedHeader is returned for a part header that does not match
	// the accepted grammar.
	ErrMalformedHeader = errors.New("multipart: malformed part header")
)

// Reader decodes a multipart stream into a sequence of Parts.
//
// The reader keeps a single buffer of fixed capacity. Unread bytes live in
// buf[start:end]. Before scanning for a delimiter the buffer is refilled so it
// holds the requested amount plus the lookahead window, which guarantees a
// delimiter split across two reads of the underlying stream is still found.
type Reader struct {
	r         io.Reader
	delim     []byte // "\r\n--" + boundary
	chunkSize int
	lookahead int

	buf        []byte
	start, end int
	eof        bool
	err        error

	current *Part
	done    bool
}

// NewReader returns a Reader over r for the given boundary using the default
// chunk size.
func NewReader(r io.Reader, boundary string) *Reader {
	return NewReaderSize(r, boundary, DefaultChunkSize)
}

// NewReaderSize returns a Reader that refills its buffer chunkSize bytes at a time.
func NewReaderSize(r io.Reader, boundary string, chunkSize int) *Reader {
	if chunkSize < MinChunkSize {
		chunkSize = MinChunkSize
	}
	delim := []byte("\r\n--" + boundary)
	lookahead := len(delim) + headerSlack

	rd := &Reader{
		r:         r,
		delim:     delim,
		chunkSize: chunkSize,
		lookahead: lookahead,
		buf:       make([]byte, 2*chunkSize+lookahead),
	}
	// The first delimiter is usually not preceded by CRLF; pretend it is.
	rd.end = copy(rd.buf, "\r\n")
	return rd
}

// buffered returns the unread bytes.
func (r *Reader) buffered() []byte {
	return r.buf[r.start:r.end]
}

func (r *Reader) consume(n int) {
	r.start += n
	if r.start == r.end {
		r.start, r.end = 0, 0
	}
}

// fill reads from the underlying stream until at least min bytes are buffered,
// the buffer is full, or the stream is exhausted.
func (r *Reader) fill(min int) error {
	if r.err != nil {
		return r.err
	}
	if r.start > 0 {
		r.end = copy(r.buf, r.buf[r.start:r.end])
		r.start = 0
	}
	for r.end < min && !r.eof && r.end < len(r.buf) {
		limit := r.end + r.chunkSize
		if limit > len(r.buf) {
			limit = len(r.buf)
		}
		n, err := r.r.Read(r.buf[r.end:limit])
		r.end += n
		if err == io.EOF {
			r.eof = true
			break
		}
		if err != nil {
			r.err = err
			return err
		}
	}
	return nil
}

// NextPart advances to the next part. Any unread remainder of the previous
// part is discarded. It returns io.EOF once the terminal boundary is reached.
func (r *Reader) NextPart() (*Part, error) {
	if r.done {
		return nil, io.EOF
	}
	if r.current != nil {
		if _, err := io.Copy(io.Discard, r.current); err != nil {
			return nil, err
		}
		r.current = nil
	}

	if err := r.skipToDelimiter(); err != nil {
		return nil, err
	}

	// Decide between the terminal "--" and a part introduced by CRLF.
	if err := r.fill(len(r.delim) + 2); err != nil {
		return nil, err
	}
	b := r.buffered()
	if len(b) < len(r.delim)+2 {
		return nil, ErrTruncated
	}
	suffix := b[len(r.delim) : len(r.delim)+2]
	switch {
	case bytes.Equal(suffix, []byte("--")):
		r.done = true
		r.consume(len(b))
		return nil, io.EOF
	case bytes.Equal(suffix, []byte("\r\n")):
		r.consume(len(r.delim) + 2)
	default:
		return nil, fmt.Errorf("%w: unexpected bytes after boundary", ErrMalformedHeader)
	}

	part, err := r.readHeader()
	if err != nil {
		return nil, err
	}
	r.current = part
	return part, nil
}

// skipToDelimiter discards bytes until the buffer starts with the delimiter.
func (r *Reader) skipToDelimiter() error {
	for {
		if err := r.fill(r.chunkSize + r.lookahead); err != nil {
			return err
		}
		b := r.buffered()
		if idx := bytes.Index(b, r.delim); idx >= 0 {
			r.consume(idx)
			return nil
		}
		if r.eof {
			return ErrTruncated
		}
		// Keep a tail that could be the start of a split delimiter.
		if keep := len(r.delim) - 1; len(b) > keep {
			r.consume(len(b) - keep)
		}
	}
}

// readHeader parses the header block that follows a delimiter line.
func (r *Reader) readHeader() (*Part, error) {
	terminator := []byte("\r\n\r\n")
	var idx int
	for {
		b := r.buffered()
		if bytes.HasPrefix(b, []byte("\r\n")) {
			return nil, fmt.Errorf("%w: missing Content-Disposition", ErrMalformedHeader)
		}
		idx = bytes.Index(b, terminator)
		if idx >= 0 {
			break
		}
		if r.eof || r.end-r.start >= r.chunkSize {
			if r.eof {
				return nil, ErrTruncated
			}
			return nil, fmt.Errorf("%w: header block too large", ErrMalformedHeader)
		}
		if err := r.fill(r.end - r.start + r.lookahead); err != nil {
			return nil, err
		}
		if r.eof && bytes.Index(r.buffered(), terminator) < 0 {
			return nil, ErrTruncated
		}
	}

	block := string(r.buffered()[:idx])
	r.consume(idx + len(terminator))

	part := &Part{r: r}
	seenDisposition, seenType := false, false
	for _, line := range strings.Split(block, "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		value = strings.TrimSpace(value)
		switch {
		case strings.EqualFold(name, "Content-Disposition") && !seenDisposition:
			n, fn, err := parseDisposition(value)
			if err != nil {
				return nil, err
			}
			part.Name, part.Filename = n, fn
			seenDisposition = true
		case strings.EqualFold(name, "Content-Type") && !seenType:
			if value == "" {
				return nil, fmt.Errorf("%w: empty Content-Type", ErrMalformedHeader)
			}
			part.ContentType = value
			seenType = true
		default:
			return nil, fmt.Errorf("%w: unexpected header %q", ErrMalformedHeader, name)
		}
	}
	if !seenDisposition {
		return nil, fmt.Errorf("%w: missing Content-Disposition", ErrMalformedHeader)
	}
	return part, nil
}

// parseDisposition parses `form-data; name="N"[; filename="F"]`.
func parseDisposition(v string) (name, filename string, err error) {
	rest, ok := strings.CutPrefix(v, "form-data")
	if !ok {
		return "", "", fmt.Errorf("%w: disposition %q", ErrMalformedHeader, v)
	}
	seenName := false
	for rest != "" {
		rest = strings.TrimLeft(rest, " ")
		if !strings.HasPrefix(rest, ";") {
			return "", "", fmt.Errorf("%w: disposition %q", ErrMalformedHeader, v)
		}
		rest = strings.TrimLeft(rest[1:], " ")
		key, after, ok := strings.Cut(rest, "=")
		if !ok {
			return "", "", fmt.Errorf("%w: disposition %q", ErrMalformedHeader, v)
		}
		val, remaining, err := unquote(after)
		if err != nil {
			return "", "", err
		}
		switch key {
		case "name":
			if seenName {
				return "", "", fmt.Errorf("%w: duplicate name", ErrMalformedHeader)
			}
			name, seenName = val, true
		case "filename":
			if !seenName {
				return "", "", fmt.Errorf("%w: filename before name", ErrMalformedHeader)
			}
			filename = val
		default:
			return "", "", fmt.Errorf("%w: disposition parameter %q", ErrMalformedHeader, key)
		}
		rest = remaining
	}
	if !seenName {
		return "", "", fmt.Errorf("%w: disposition without name", ErrMalformedHeader)
	}
	return name, filename, nil
}

// unquote reads a quoted string with backslash escapes from the start of s.
func unquote(s string) (val, rest string, err error) {
	if !strings.HasPrefix(s, `"`) {
		return "", "", fmt.Errorf("%w: unquoted parameter", ErrMalformedHeader)
	}
	var sb strings.Builder
	for i := 1; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			if i+1 >= len(s) {
				return "", "", fmt.Errorf("%w: dangling escape", ErrMalformedHeader)
			}
			i++
			sb.WriteByte(s[i])
		case '"':
			return sb.String(), s[i+1:], nil
		default:
			sb.WriteByte(c)
		}
	}
	return "", "", fmt.Errorf("%w: unterminated quote", ErrMalformedHeader)
}

// Part is one section of a multipart stream. Its body is read with Read;
// the part ends at the next boundary.
type Part struct {
	Name        string
	Filename    string
	ContentType string

	r    *Reader
	done bool
}

// Read reads up to len(p) bytes of the part body. It returns io.EOF at the end
// of the part and keeps returning 0, io.EOF afterwards.
func (p *Part) Read(b []byte) (int, error) {
	if p.done {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}
	r := p.r

	want := len(b)
	if want > r.chunkSize {
		want = r.chunkSize
	}
	for {
		if r.end-r.start < want+r.lookahead && !r.eof {
			if err := r.fill(want + r.lookahead); err != nil {
				return 0, err
			}
		}
		buf := r.buffered()

		avail := len(buf)
		if idx := bytes.Index(buf, r.delim); idx >= 0 {
			if idx == 0 {
				p.done = true
				return 0, io.EOF
			}
			avail = idx
		} else if r.eof {
			return 0, ErrTruncated
		} else {
			// A delimiter may straddle the end of the buffer.
			avail = len(buf) - (len(r.delim) - 1)
		}

		if avail <= 0 {
			if err := r.fill(r.end - r.start + r.chunkSize); err != nil {
				return 0, err
			}
			continue
		}

		n := copy(b, buf[:avail])
		r.consume(n)
		return n, nil
	}
}

// ReadAll reads the remaining part body into memory.
func (p *Part) ReadAll() ([]byte, error) {
	return io.ReadAll(p)
}
