package httpclient

import (
	"errors"
	"io"
	"time"
)

// ErrReadTimeout reports that the gap between two downstream reads
// exceeded the configured read timeout.
var ErrReadTimeout = errors.New("read timeout: no data from downstream")

// IsReadTimeout reports whether err is a read-gap timeout.
func IsReadTimeout(err error) bool {
	return errors.Is(err, ErrReadTimeout)
}

type readResult struct {
	data []byte
	err  error
}

// timeoutBody enforces a per-read deadline on a response body. A reader
// goroutine owns the inner body; Read waits for its chunks with a timer.
type timeoutBody struct {
	inner   io.ReadCloser
	timeout time.Duration
	ch      chan readResult
	rem     []byte
	err     error
}

func newTimeoutBody(inner io.ReadCloser, timeout time.Duration) io.ReadCloser {
	b := &timeoutBody{
		inner:   inner,
		timeout: timeout,
		// Room for one data chunk plus the final error, so the reader
		// goroutine can always exit even after an abandoned timeout.
		ch: make(chan readResult, 2),
	}
	go b.readLoop()
	return b
}

func (b *timeoutBody) readLoop() {
	for {
		buf := make([]byte, 32*1024)
		n, err := b.inner.Read(buf)
		b.ch <- readResult{data: buf[:n], err: err}
		if err != nil {
			return
		}
	}
}

func (b *timeoutBody) Read(p []byte) (int, error) {
	if len(b.rem) > 0 {
		n := copy(p, b.rem)
		b.rem = b.rem[n:]
		return n, nil
	}
	if b.err != nil {
		return 0, b.err
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case r := <-b.ch:
		b.rem = r.data
		if r.err != nil {
			b.err = r.err
		}
		n := copy(p, b.rem)
		b.rem = b.rem[n:]
		if n > 0 {
			return n, nil
		}
		if b.err != nil {
			return 0, b.err
		}
		return 0, nil

	case <-timer.C:
		b.inner.Close()
		b.err = ErrReadTimeout
		return 0, ErrReadTimeout
	}
}

func (b *timeoutBody) Close() error {
	return b.inner.Close()
}
