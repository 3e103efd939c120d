package datasource

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/retry"
)

// ClassifyConnectionError turns a failure from opening or testing a connection
// into a connection error with a subkind. Typed errors pass through unchanged so
// configuration problems stay configuration problems.
func ClassifyConnectionError(err error, isAuth func(error) bool) error {
	if err == nil {
		return nil
	}
	var typed *apperrors.Error
	if errors.As(err, &typed) {
		return err
	}

	switch {
	case isAuth != nil && isAuth(err):
		return apperrors.Connection(apperrors.SubkindAuthRejected, err)
	case isTLSError(err):
		return apperrors.Connection(apperrors.SubkindTLS, err)
	default:
		return apperrors.Connection(apperrors.SubkindUnreachable, err)
	}
}

// ClassifyExecutionError wraps a failed statement. The compiled text is attached
// sanitized and truncated; bound values are never included.
func ClassifyExecutionError(err error, query string, isSyntax func(error) bool) error {
	if err == nil {
		return nil
	}
	var typed *apperrors.Error
	if errors.As(err, &typed) {
		return err
	}

	var sub apperrors.Subkind
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		sub = apperrors.SubkindTimeout
	case isSyntax != nil && isSyntax(err):
		sub = apperrors.SubkindSyntax
	case retry.IsRetryable(err):
		sub = apperrors.SubkindTransient
	}
	return apperrors.Execution(sub, logging.SanitizeQuery(query), err)
}

func isTLSError(err error) bool {
	var (
		recordErr   tls.RecordHeaderError
		verifyErr   *tls.CertificateVerificationError
		authority   x509.UnknownAuthorityError
		hostname    x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	if errors.As(err, &recordErr) || errors.As(err, &verifyErr) || errors.As(err, &authority) ||
		errors.As(err, &hostname) || errors.As(err, &invalidCert) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"tls:", "x509:", "ssl is not enabled", "server does not support ssl", "certificate"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
