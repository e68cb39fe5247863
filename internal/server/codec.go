package server

import (
	"bytes"
	"io"
	"os"

	"github.com/bhakti-db/bhakti/internal/errors"
)

// DefaultEOF is the frame terminator used when the config does not override
// it. The marker cannot occur inside a JSON payload.
const DefaultEOF = "<eof>"

// ReadFrame accumulates buffered reads until the EOF marker appears and
// returns the payload with the marker stripped. The caller bounds the read
// with a deadline on the connection; an expired deadline surfaces as
// ErrCodeReadTimeout.
func ReadFrame(r io.Reader, eof []byte, bufferSize int) ([]byte, error) {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	var acc bytes.Buffer
	chunk := make([]byte, bufferSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			acc.Write(chunk[:n])
			if i := bytes.Index(acc.Bytes(), eof); i >= 0 {
				payload := make([]byte, i)
				copy(payload, acc.Bytes()[:i])
				return payload, nil
			}
		}
		if err != nil {
			if os.IsTimeout(err) {
				return nil, errors.New(errors.ErrCodeReadTimeout,
					"frame not complete within the read timeout", err)
			}
			if err == io.EOF {
				return nil, errors.New(errors.ErrCodeProtocolDecode,
					"connection closed before frame terminator", err)
			}
			return nil, errors.Wrap(errors.ErrCodeProtocolDecode, err)
		}
	}
}

// WriteFrame writes the payload followed by the EOF marker.
func WriteFrame(w io.Writer, payload, eof []byte) error {
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(errors.ErrCodeProtocolDecode, err)
	}
	if _, err := w.Write(eof); err != nil {
		return errors.Wrap(errors.ErrCodeProtocolDecode, err)
	}
	return nil
}
