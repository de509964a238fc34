package multipart

import (
	"bytes"
	"errors"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen is how much of a body is inspected to detect its content type.
const sniffLen = 512

// SniffContentType detects the content type of r from its first bytes. The
// returned reader yields the complete body, including the inspected bytes.
func SniffContentType(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	head = head[:n]
	body := io.MultiReader(bytes.NewReader(head), r)
	if n == 0 {
		return "application/octet-stream", body, nil
	}
	return mimetype.Detect(head).String(), body, nil
}

// sniffedBody keeps the closer of the original body.
type sniffedBody struct {
	io.Reader
	io.Closer
}

// SniffField builds a field whose content type is detected from body. The
// body is closed once drained when it implements io.Closer.
func SniffField(name, filename string, body io.Reader) (*Field, error) {
	ct, r, err := SniffContentType(body)
	if err != nil {
		if c, ok := body.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	f := &Field{Name: name, Filename: filename, ContentType: ct, Body: r}
	if c, ok := body.(io.Closer); ok {
		f.Body = sniffedBody{Reader: r, Closer: c}
	}
	return f, nil
}
