package poller

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jpalmerr/pingkeeper/internal/store"
)

// TimestampLayout is the UTC ISO-8601 layout used for record timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Error classes recorded for transport failures.
const (
	ClassTimeout          = "Timeout"
	ClassDNS              = "DNSError"
	ClassConnection       = "ConnectionError"
	ClassSSL              = "SSLError"
	ClassTooManyRedirects = "TooManyRedirects"
	ClassInvalidURL       = "InvalidURL"
	ClassRequest          = "RequestError"
)

// Outcome is what a single probe observed.
type Outcome struct {
	StatusCode int
	Err        error
}

// OK reports whether the response counts as healthy (any status below 400).
func (o Outcome) OK() bool {
	return o.Err == nil && o.StatusCode > 0 && o.StatusCode < 400
}

// Next folds a probe outcome into the record that follows prev.
//
// An ok response yields live, or recovered when prev was down. A non-ok
// response yields down with the code attached. A transport failure yields
// down without a code and with the error class as the message.
func Next(prev store.Status, o Outcome, at time.Time) store.Record {
	rec := store.Record{Timestamp: at.UTC().Format(TimestampLayout)}

	switch {
	case o.Err != nil:
		class := ErrorClass(o.Err)
		rec.Status = store.StatusDown
		rec.Error = &class
	case o.OK():
		code := o.StatusCode
		rec.Status = store.StatusLive
		if prev == store.StatusDown {
			rec.Status = store.StatusRecovered
		}
		rec.Code = &code
	default:
		code := o.StatusCode
		msg := fmt.Sprintf("HTTP %d", code)
		rec.Status = store.StatusDown
		rec.Code = &code
		rec.Error = &msg
	}
	return rec
}

// ErrorClass names the kind of transport failure behind err.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrInvalidURL) {
		return ClassInvalidURL
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassDNS
	}

	var (
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidCert x509.CertificateInvalidError
		headerErr   tls.RecordHeaderError
	)
	if errors.As(err, &certErr) || errors.As(err, &unknownAuth) || errors.As(err, &hostErr) ||
		errors.As(err, &invalidCert) || errors.As(err, &headerErr) {
		return ClassSSL
	}

	msg := err.Error()
	if strings.Contains(msg, "stopped after") && strings.Contains(msg, "redirects") {
		return ClassTooManyRedirects
	}
	if strings.Contains(msg, "unsupported protocol scheme") {
		return ClassInvalidURL
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassConnection
	}
	return ClassRequest
}
