package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

// Error codes reported to callers when the upstream produced no response.
const (
	CodeTimeout      = "ETIMEDOUT"
	CodeCanceled     = "ECANCELED"
	CodeNotFound     = "ENOTFOUND"
	CodeConnRefused  = "ECONNREFUSED"
	CodeConnReset    = "ECONNRESET"
	CodeProtocol     = "EPROTO"
	CodeUpstreamFail = "EUPSTREAM"
)

// ErrorCode classifies a transport error into a stable, errno-style code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return CodeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return CodeTimeout
		}
		return CodeNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return CodeConnReset
	}

	if isProtocolError(err) {
		return CodeProtocol
	}

	return CodeUpstreamFail
}

// protocolMessages are fragments of unexported net/http and crypto/tls errors
// that carry no type to match on.
var protocolMessages = []string{
	"tls: ",
	"malformed HTTP",
	"unsupported protocol scheme",
	"no Host in request URL",
}

// isProtocolError reports TLS failures, garbled HTTP responses and upstream
// URLs the transport refused to dial.
func isProtocolError(err error) bool {
	var (
		certErr    *tls.CertificateVerificationError
		recErr     tls.RecordHeaderError
		alertErr   tls.AlertError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	if errors.As(err, &certErr) || errors.As(err, &recErr) || errors.As(err, &alertErr) ||
		errors.As(err, &unknownCA) || errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return true
	}
	if errors.Is(err, http.ErrSchemeMismatch) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return true
	}

	msg := err.Error()
	for _, frag := range protocolMessages {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
