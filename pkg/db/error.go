package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports whether err is a unique constraint violation on
// any of the supported dialects.
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

// LockingClause returns the row-lock suffix for raw queries. SQLite has no
// SELECT ... FOR UPDATE; its single-writer model serializes writers anyway.
func LockingClause(tx *gorm.DB) string {
	if tx == nil || tx.Dialector == nil {
		return ""
	}
	if tx.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

// SkipLockedClause returns the batch-claim suffix used by background jobs.
func SkipLockedClause(tx *gorm.DB) string {
	if tx == nil || tx.Dialector == nil {
		return ""
	}
	if tx.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE SKIP LOCKED"
}
