package iotauth

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
	"github.com/jake-scott/iotctl/internal/pkg/logging"
)

const authPath = "/api/v1/oauth/auth"

type authRequest struct {
	AppID     string `json:"appId"`
	AppSecret string `json:"appSecret"`
}

type authResponse struct {
	Success      bool            `json:"success"`
	Code         int             `json:"code"`
	Data         json.RawMessage `json:"data"`
	ErrorMessage string          `json:"errorMessage"`
}

// exchangeSource trades the app ID and secret for an access token
type exchangeSource struct {
	state State
}

func (es *exchangeSource) Token() (*oauth2.Token, error) {
	s := es.state
	ctxLogger := logging.Logger(s.ctx)

	reqBody, err := json.Marshal(authRequest{AppID: s.AppID, AppSecret: s.appSecret})
	if err != nil {
		return nil, errors.Wrap(err, "encoding credential exchange request")
	}

	url := s.BaseURL + authPath
	ctxLogger.Debugf("Sending credential exchange request to [%s] for app %s", url, s.AppID)

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "building credential exchange request")
	}
	req.Header.Set("Content-Type", "application/json")

	// Send request
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperror.Network(err, "executing credential exchange: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Network(err, "reading credential exchange response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusBadGateway, resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusGatewayTimeout:
		return nil, apperror.New(apperror.CodeNetworkError, "credential exchange: HTTP %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, apperror.New(apperror.CodeAuthFailed, "credential exchange: HTTP %d (%s)", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	tokenResp := authResponse{}
	if err := json.Unmarshal(bodyBytes, &tokenResp); err != nil {
		return nil, apperror.Auth(err, "decoding credential exchange response")
	}

	if !tokenResp.Success || tokenResp.Code != http.StatusOK {
		msg := tokenResp.ErrorMessage
		if msg == "" {
			msg = "unknown error"
		}
		return nil, apperror.New(apperror.CodeAuthFailed, "authentication failed: %s", msg)
	}

	var token string
	if err := json.Unmarshal(tokenResp.Data, &token); err != nil || token == "" {
		return nil, apperror.New(apperror.CodeAuthFailed, "authentication response carried no token")
	}

	ctxLogger.Debug("credential exchange succeeded")
	return &oauth2.Token{AccessToken: token}, nil
}
