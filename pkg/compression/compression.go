// Package compression decodes compressed HTTP response streams.
//
// Bulk result sets can run to gigabytes, so they are requested with
// Accept-Encoding and decoded as they are read rather than buffered.
//
// # Supported encodings
//
//   - gzip
//   - deflate (raw, as sent by most servers)
//   - zstd
//   - identity (no encoding)
//
// # Basic Usage
//
//	alg, err := compression.ParseEncoding(resp.Header.Get("Content-Encoding"))
//	body, err := compression.NewReader(alg, resp.Body)
//	defer body.Close()
package compression

import (
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ajitpratap0/crmsync/pkg/errors"
)

// Algorithm is a content encoding.
type Algorithm string

const (
	// None is the identity encoding
	None Algorithm = "identity"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
)

// AcceptEncoding is the Accept-Encoding value advertising every supported algorithm.
const AcceptEncoding = "gzip, deflate"

// ParseEncoding maps a Content-Encoding header value to an Algorithm.
// An empty value is the identity encoding.
func ParseEncoding(header string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "", "identity":
		return None, nil
	case "gzip", "x-gzip":
		return Gzip, nil
	case "deflate":
		return Deflate, nil
	case "zstd":
		return Zstd, nil
	default:
		return "", errors.New(errors.ErrorTypeData, "unsupported content encoding").
			WithDetail("encoding", header)
	}
}

var gzipReaders sync.Pool

// NewReader wraps body so that reads return decoded bytes.
// Closing the returned reader releases the decoder and closes body.
func NewReader(alg Algorithm, body io.ReadCloser) (io.ReadCloser, error) {
	switch alg {
	case None:
		return body, nil
	case Gzip:
		var zr *gzip.Reader
		if v := gzipReaders.Get(); v != nil {
			zr = v.(*gzip.Reader)
			if err := zr.Reset(body); err != nil {
				gzipReaders.Put(zr)
				return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid gzip stream")
			}
		} else {
			var err error
			if zr, err = gzip.NewReader(body); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid gzip stream")
			}
		}
		return &decoder{Reader: zr, body: body, release: func() {
			_ = zr.Close()
			gzipReaders.Put(zr)
		}}, nil
	case Deflate:
		fr := flate.NewReader(body)
		return &decoder{Reader: fr, body: body, release: func() { _ = fr.Close() }}, nil
	case Zstd:
		zr, err := zstd.NewReader(body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid zstd stream")
		}
		return &decoder{Reader: zr, body: body, release: zr.Close}, nil
	default:
		return nil, errors.New(errors.ErrorTypeData, "unsupported content encoding").
			WithDetail("encoding", string(alg))
	}
}

type decoder struct {
	io.Reader
	body    io.Closer
	release func()
	once    sync.Once
}

func (d *decoder) Read(p []byte) (int, error) {
	n, err := d.Reader.Read(p)
	if err != nil && err != io.EOF {
		err = errors.Wrap(err, errors.ErrorTypeData, "corrupt compressed stream")
	}
	return n, err
}

func (d *decoder) Close() error {
	d.once.Do(d.release)
	return d.body.Close()
}
