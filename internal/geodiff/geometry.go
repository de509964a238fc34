package geodiff

import (
	"errors"
	"fmt"

	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// gpkgHeaderSize is the fixed part of a GeoPackage geometry header:
// magic (2), version (1), flags (1), srs_id (4).
const gpkgHeaderSize = 8

// envelopeSizes maps the 3-bit envelope indicator to the envelope size in
// bytes: none, xy, xyz, xym, xyzm.
var envelopeSizes = [...]int{0, 32, 48, 48, 64}

// ErrInvalidGeometry is returned for a geometry blob that cannot be decoded.
var ErrInvalidGeometry = errors.New("invalid geometry blob")

// EnvelopeSize returns the envelope size encoded in a GeoPackage flags byte.
func EnvelopeSize(flags byte) (int, error) {
	code := (flags & 0x0E) >> 1
	if int(code) >= len(envelopeSizes) {
		return 0, fmt.Errorf("%w: envelope indicator %d", ErrInvalidGeometry, code)
	}
	return envelopeSizes[code], nil
}

// StripGeometryHeader removes the GeoPackage header from a geometry blob and
// returns the standard WKB that follows it.
func StripGeometryHeader(blob []byte) ([]byte, error) {
	if len(blob) < gpkgHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidGeometry, len(blob))
	}
	if blob[0] != 'G' || blob[1] != 'P' {
		return nil, fmt.Errorf("%w: missing GP magic", ErrInvalidGeometry)
	}
	envelope, err := EnvelopeSize(blob[3])
	if err != nil {
		return nil, err
	}
	size := gpkgHeaderSize + envelope
	if len(blob) < size {
		return nil, fmt.Errorf("%w: header of %d bytes in %d byte blob", ErrInvalidGeometry, size, len(blob))
	}
	return blob[size:], nil
}

// GeometryWKT decodes a GeoPackage geometry blob into WKT.
func GeometryWKT(blob []byte) (string, error) {
	raw, err := StripGeometryHeader(blob)
	if err != nil {
		return "", err
	}
	g, err := wkb.Unmarshal(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	s, err := wkt.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	return s, nil
}
