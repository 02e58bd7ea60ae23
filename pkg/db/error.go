package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsTransientErr reports errors worth retrying: lock timeouts,
// serialization failures and dropped connections.
func IsTransientErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"deadlock",                   // mysql 1213 / postgres 40P01
		"could not serialize access", // postgres 40001
		"lock wait timeout",          // mysql 1205
		"database is locked",         // sqlite busy
		"connection refused",
		"connection reset",
		"broken pipe",
	} {
		if strings.Contains(strings.ToLower(msg), marker) {
			return true
		}
	}
	return false
}
