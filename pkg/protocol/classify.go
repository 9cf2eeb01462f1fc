package protocol

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"

	dberrors "github.com/systmms/dbrotate/internal/errors"
)

// MySQL server and client error numbers the rotation cares about
const (
	CodeAccessDenied   uint16 = 1045
	CodeDBAccessDenied uint16 = 1044
	CodeNoSuchGrant    uint16 = 1141
	CodeCannotConnect  uint16 = 2003
	CodeUnknownHost    uint16 = 2005
	CodeServerGone     uint16 = 2006
	CodeLostConnection uint16 = 2013
)

// Classify maps a driver error onto the rotation error taxonomy. op names the
// step that failed and is used for DatabaseError. sql.ErrNoRows passes through
// unchanged.
func Classify(err error, op string, endpoint Endpoint, user string) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case CodeAccessDenied:
			return &dberrors.AuthError{User: user, Host: endpoint.Host, Code: mysqlErr.Number, Err: err}
		case CodeCannotConnect, CodeUnknownHost, CodeServerGone, CodeLostConnection:
			return &dberrors.ConnectivityError{Host: endpoint.Host, Port: endpoint.Port, Err: err}
		default:
			return &dberrors.DatabaseError{Op: op, Code: mysqlErr.Number, Err: err}
		}
	}

	if isConnectivity(err) {
		return &dberrors.ConnectivityError{Host: endpoint.Host, Port: endpoint.Port, Err: err}
	}
	return &dberrors.DatabaseError{Op: op, Err: err}
}

func isConnectivity(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var (
		unknownAuthority x509.UnknownAuthorityError
		hostnameErr      x509.HostnameError
		invalidCert      x509.CertificateInvalidError
		recordHeader     tls.RecordHeaderError
		certVerify       *tls.CertificateVerificationError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &recordHeader) ||
		errors.As(err, &certVerify)
}
