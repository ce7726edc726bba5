package readers

import (
	"io"

	"github.com/t2bot/image-loader/common"
)

// LimitReaderWithOverrunError reads at most n bytes from r. Unlike io.LimitReader, a stream with
// more data than allowed fails with common.ErrImageTooLarge instead of being silently truncated.
func LimitReaderWithOverrunError(r io.ReadCloser, n int64) io.ReadCloser {
	return &limitedReader{r: r, n: n}
}

type limitedReader struct {
	r io.ReadCloser
	n int64
}

func (r *limitedReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.n <= 0 {
		// See if we can read one more byte, indicating the stream is too big
		b := make([]byte, 1)
		n, err := r.r.Read(b)
		if n > 0 {
			return 0, common.ErrImageTooLarge
		}
		if err != nil {
			return 0, io.EOF
		}
		return 0, io.EOF
	}

	if int64(len(p)) > r.n {
		p = p[:r.n]
	}
	n, err := r.r.Read(p)
	r.n -= int64(n)
	return n, err
}

func (r *limitedReader) Close() error {
	return r.r.Close()
}
