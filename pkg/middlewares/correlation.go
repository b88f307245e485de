package middlewares

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/jake-scott/iotctl/internal/pkg/logging"
)

var correlationIDRegexp = regexp.MustCompile(`^[\w-]{3,64}$`)

type CorrelationMw struct {
	headerName string
	next       http.RoundTripper
}

func NewCorrelationMw(headerName string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return NewCorrelation(headerName, next)
	}
}

func NewCorrelation(headerName string, next http.RoundTripper) *CorrelationMw {
	return &CorrelationMw{headerName: headerName, next: next}
}

// RoundTrip stamps the request with the transaction ID of its context,
// or a fresh one when the context has none
func (mw *CorrelationMw) RoundTrip(r *http.Request) (*http.Response, error) {
	id := logging.TxnID(r.Context())
	if !correlationIDRegexp.MatchString(id) {
		id = uuid.New().String()
	}

	r = r.Clone(r.Context())
	r.Header.Set(mw.headerName, id)

	return mw.next.RoundTrip(r)
}
