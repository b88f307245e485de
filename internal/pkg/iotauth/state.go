package iotauth

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
)

// State holds the credentials for one platform
type State struct {
	BaseURL string
	AppID   string

	// non-exported
	appSecret   string
	staticToken string
	ctx         context.Context
	client      *http.Client
}

func hashOf(s string) string {
	if s == "" {
		return ""
	}
	sum := sha1.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// obfuscate tokens/secrets when stringified
func (s State) String() string {
	return fmt.Sprintf("BaseURL [%s], AppID [%s], appSecret [%s], staticToken [%s]",
		s.BaseURL, s.AppID, hashOf(s.appSecret), hashOf(s.staticToken))
}

func NewState(baseURL string) State {
	return State{
		BaseURL: strings.TrimRight(baseURL, "/"),
		ctx:     context.Background(),
		client:  http.DefaultClient,
	}
}

func (s State) WithContext(ctx context.Context) State {
	s.ctx = ctx
	return s
}

func (s State) WithAppSecret(secret string) State {
	s.appSecret = secret
	return s
}

func (s State) WithStaticToken(token string) State {
	s.staticToken = token
	return s
}

// WithHTTPClient sets the client used for the credential exchange.  It must
// not itself inject tokens.
func (s State) WithHTTPClient(hc *http.Client) State {
	s.client = hc
	return s
}

// TokenSource prefers a static token and falls back to exchanging the app
// credentials, at most once per source
func (s State) TokenSource() (oauth2.TokenSource, error) {
	if s.staticToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.staticToken}), nil
	}

	if s.AppID == "" || s.appSecret == "" {
		return nil, apperror.New(apperror.CodeMissingEnv, "configure IOT_TOKEN or IOT_APP_ID + IOT_APP_SECRET")
	}

	return oauth2.ReuseTokenSource(nil, &exchangeSource{state: s}), nil
}
