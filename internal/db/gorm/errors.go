package gorm

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/thebtf/learnlog/pkg/models"
)

// classifyError turns driver failures that are worth retrying into
// models.StorageUnavailableError. Everything else passes through.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var su *models.StorageUnavailableError
	if errors.As(err, &su) || models.IsValidation(err) || models.IsNotFound(err) {
		return err
	}
	if isUnavailable(err) {
		return &models.StorageUnavailableError{Op: op, Err: err}
	}
	return err
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception, 57P0x: operator intervention / shutdown.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "unable to open database")
}

// errorClass labels an error for metrics.
func errorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case models.IsRetryable(err):
		return "unavailable"
	case models.IsNotFound(err), errors.Is(err, gorm.ErrRecordNotFound):
		return "not_found"
	case models.IsValidation(err):
		return "validation"
	}
	return "other"
}
