package middlewares

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/jake-scott/iotctl/internal/pkg/logging"
)

// Wrapper around an io.ReadCloser that logs every read as a string
type loggingReader struct {
	io.ReadCloser
	ctx context.Context
}

func newLoggingReader(ctx context.Context, rc io.ReadCloser) io.ReadCloser {
	return loggingReader{
		ReadCloser: rc,
		ctx:        ctx,
	}
}

func (lr loggingReader) Read(b []byte) (size int, err error) {
	size, err = lr.ReadCloser.Read(b)
	if size > 0 {
		logging.Logger(lr.ctx).Debugf("read %d bytes: --:--%s--:--", size, b[:size])
	}

	return size, err
}

type LoggingMw struct {
	logRequests bool
	next        http.RoundTripper
}

func NewLoggingMw(reqLogging bool) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return NewLogging(reqLogging, next)
	}
}

func NewLogging(reqLogging bool, next http.RoundTripper) *LoggingMw {
	return &LoggingMw{next: next, logRequests: reqLogging}
}

func (mw *LoggingMw) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	startTime := time.Now()

	if mw.logRequests {
		logging.Logger(ctx).Debugf("request headers: %+v", redactHeaders(r.Header))
	}

	resp, err := mw.next.RoundTrip(r)
	if err != nil {
		logging.Logger(ctx).WithError(err).Debugf("%s %s failed after %s", r.Method, r.URL.Path, time.Since(startTime))
		return nil, err
	}

	logging.Logger(ctx).Debugf("%s %s: %s in %s", r.Method, r.URL.Path, resp.Status, time.Since(startTime))

	// Replace the Body reader with a logging wrapper if we're logging requests
	if mw.logRequests && resp.Body != nil {
		resp.Body = newLoggingReader(ctx, resp.Body)
	}

	return resp, nil
}

func redactHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, k := range []string{"Token", "Authorization"} {
		if out.Get(k) != "" {
			out.Set(k, "<redacted>")
		}
	}
	return out
}
