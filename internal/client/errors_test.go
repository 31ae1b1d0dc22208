package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"testing"
)

func TestErrorCode(t *testing.T) {
	opErr := func(errno error) error {
		return &url.Error{Op: "Get", URL: "https://upstream.test/x", Err: &net.OpError{
			Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", errno),
		}}
	}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"canceled", fmt.Errorf("upstream request: %w", context.Canceled), CodeCanceled},
		{"deadline", fmt.Errorf("upstream request: %w", context.DeadlineExceeded), CodeTimeout},
		{"dns", fmt.Errorf("wrap: %w", &net.DNSError{Err: "no such host", Name: "upstream.test"}), CodeNotFound},
		{"dns timeout", &net.DNSError{Err: "i/o timeout", Name: "upstream.test", IsTimeout: true}, CodeTimeout},
		{"refused", opErr(syscall.ECONNREFUSED), CodeConnRefused},
		{"reset", opErr(syscall.ECONNRESET), CodeConnReset},
		{"eof", &url.Error{Op: "Get", URL: "https://upstream.test", Err: io.EOF}, CodeConnReset},
		{"tls alert", &url.Error{Op: "Get", URL: "https://upstream.test", Err: &net.OpError{
			Op: "remote error", Net: "tcp", Err: tls.AlertError(40),
		}}, CodeProtocol},
		{"tls record header", &url.Error{Op: "Get", URL: "https://upstream.test", Err: tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}}, CodeProtocol},
		{"unknown authority", &url.Error{Op: "Get", URL: "https://upstream.test", Err: &tls.CertificateVerificationError{
			Err: x509.UnknownAuthorityError{},
		}}, CodeProtocol},
		{"tls handshake message", &url.Error{Op: "Get", URL: "https://upstream.test", Err: errors.New("tls: handshake failure")}, CodeProtocol},
		{"malformed response", &url.Error{Op: "Get", URL: "https://upstream.test", Err: errors.New(`net/http: HTTP/1.x transport connection broken: malformed HTTP response "garbage"`)}, CodeProtocol},
		{"scheme mismatch", &url.Error{Op: "Get", URL: "https://upstream.test", Err: http.ErrSchemeMismatch}, CodeProtocol},
		{"unsupported scheme", &url.Error{Op: "Get", URL: "gopher://upstream.test", Err: errors.New(`unsupported protocol scheme "gopher"`)}, CodeProtocol},
		{"unparsable url", &url.Error{Op: "parse", URL: "://nope", Err: errors.New("missing protocol scheme")}, CodeProtocol},
		{"unknown", errors.New("something odd"), CodeUpstreamFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}
