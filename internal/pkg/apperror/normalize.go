package apperror

import (
	"context"
	"io"
	"net"
	"regexp"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// Detail is the rendered form of a failure in the response envelope
type Detail struct {
	Code    string `json:"errorCode"`
	Type    Type   `json:"errorType"`
	Message string `json:"message"`
}

var (
	codePrefixRegexp = regexp.MustCompile(`^([A-Z][A-Z0-9_]{2,}):(.*)$`)
	networkRegexp    = regexp.MustCompile(`(?i)ECONNREFUSED|ECONNRESET|ETIMEDOUT|ENOTFOUND|EAI_AGAIN|socket hang up|connection refused|connection reset|no such host|i/o timeout|network is unreachable|broken pipe`)
	authRegexp       = regexp.MustCompile(`(?i)unauthori[sz]ed|forbidden|invalid token|token (is )?expired|token invalid`)
)

// Normalize turns any error into an envelope detail.  Order matters: typed
// errors win over the CODE:message convention, which wins over heuristics.
func Normalize(err error) Detail {
	if err == nil {
		return Detail{}
	}

	var ae *Error
	if errors.As(err, &ae) {
		return Detail{Code: ae.Code, Type: ae.Type, Message: ae.Message}
	}

	msg := err.Error()
	if m := codePrefixRegexp.FindStringSubmatch(msg); m != nil {
		return Detail{Code: m[1], Type: TypeOf(m[1]), Message: strings.TrimSpace(m[2])}
	}

	if isNetwork(err) {
		return Detail{Code: CodeNetworkError, Type: TypeNetwork, Message: msg}
	}

	if authRegexp.MatchString(msg) {
		return Detail{Code: CodeAuthFailed, Type: TypeAuth, Message: msg}
	}

	return Detail{Code: CodeUnexpected, Type: TypeUnknown, Message: msg}
}

// IsNetwork reports whether the failure is eligible for a read retry
func IsNetwork(err error) bool {
	return err != nil && Normalize(err).Type == TypeNetwork
}

func isNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return networkRegexp.MatchString(err.Error())
}
