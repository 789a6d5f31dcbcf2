package db

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Kind classifies store failures once, at the adapter boundary, so engine
// code never branches on driver-specific codes or message strings.
type Kind int

const (
	KindOther Kind = iota
	KindNotFound
	KindDuplicate
	KindSerialization
	KindTimeout
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDuplicate:
		return "duplicate"
	case KindSerialization:
		return "serialization"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	default:
		return "other"
	}
}

// Classify maps a store error onto the closed Kind enumeration.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return KindNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return KindDuplicate
	}
	// A foreign key violation means the referenced row does not exist.
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return KindNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}

	msg := err.Error()
	switch {
	// PostgreSQL 23505
	case strings.Contains(msg, "duplicate key value violates unique constraint"),
		// MySQL 1062
		strings.Contains(msg, "Error 1062"),
		// SQLite 2067
		strings.Contains(msg, "UNIQUE constraint failed"):
		return KindDuplicate

	// PostgreSQL 23503
	case strings.Contains(msg, "violates foreign key constraint"),
		// MySQL 1452
		strings.Contains(msg, "Error 1452"),
		// SQLite 787
		strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return KindNotFound

	// PostgreSQL 40001 / 40P01
	case strings.Contains(msg, "could not serialize access"),
		strings.Contains(msg, "deadlock detected"),
		// MySQL 1213
		strings.Contains(msg, "Error 1213"):
		return KindSerialization

	// SQLite writer contention
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"):
		return KindSerialization

	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"):
		return KindTimeout

	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "bad connection"):
		return KindUnavailable
	}

	return KindOther
}

// IsDuplicateKeyErr reports whether err is a unique constraint violation.
func IsDuplicateKeyErr(err error) bool {
	return err != nil && Classify(err) == KindDuplicate
}

// IsRetryable reports whether the failure is transient and an idempotent
// operation may safely retry it.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch Classify(err) {
	case KindSerialization, KindTimeout, KindUnavailable:
		return true
	default:
		return false
	}
}
