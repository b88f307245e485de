package middlewares

import (
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
)

// TokenMw puts the access token from a TokenSource into a bare request
// header; the platform does not accept a bearer Authorization header.
type TokenMw struct {
	headerName string
	source     oauth2.TokenSource
	next       http.RoundTripper
}

func NewTokenMw(headerName string, source oauth2.TokenSource) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return &TokenMw{headerName: headerName, source: source, next: next}
	}
}

func (mw *TokenMw) RoundTrip(r *http.Request) (*http.Response, error) {
	tok, err := mw.source.Token()
	if err != nil {
		var ae *apperror.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperror.Auth(err, "obtaining access token: %v", err)
	}

	r = r.Clone(r.Context())
	r.Header.Set(mw.headerName, tok.AccessToken)

	return mw.next.RoundTrip(r)
}
