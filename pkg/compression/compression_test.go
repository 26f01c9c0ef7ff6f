package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/crmsync/pkg/errors"
)

const payload = `<queryResult><records><Id>001A</Id></records></queryResult>`

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func encode(t *testing.T, alg Algorithm) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch alg {
	case Gzip:
		w := gzip.NewWriter(&buf)
		_, err := w.Write([]byte(payload))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case Deflate:
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
		_, err = w.Write([]byte(payload))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case Zstd:
		w, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write([]byte(payload))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	default:
		buf.WriteString(payload)
	}
	return buf.Bytes()
}

func TestNewReader(t *testing.T) {
	for _, alg := range []Algorithm{None, Gzip, Deflate, Zstd} {
		t.Run(string(alg), func(t *testing.T) {
			body := &trackingBody{Reader: bytes.NewReader(encode(t, alg))}
			r, err := NewReader(alg, body)
			require.NoError(t, err)

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, string(got))

			require.NoError(t, r.Close())
			assert.True(t, body.closed)
		})
	}
}

func TestGzipReadersAreReused(t *testing.T) {
	for i := 0; i < 3; i++ {
		r, err := NewReader(Gzip, io.NopCloser(bytes.NewReader(encode(t, Gzip))))
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, payload, string(got))
		require.NoError(t, r.Close())
		require.NoError(t, r.Close())
	}
}

func TestInvalidStreams(t *testing.T) {
	_, err := NewReader(Gzip, io.NopCloser(bytes.NewReader([]byte("not gzip"))))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	truncated := encode(t, Gzip)
	r, err := NewReader(Gzip, io.NopCloser(bytes.NewReader(truncated[:len(truncated)-6])))
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		header string
		want   Algorithm
		ok     bool
	}{
		{"", None, true},
		{"identity", None, true},
		{"gzip", Gzip, true},
		{" X-GZIP ", Gzip, true},
		{"deflate", Deflate, true},
		{"zstd", Zstd, true},
		{"br", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := ParseEncoding(tt.header)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
