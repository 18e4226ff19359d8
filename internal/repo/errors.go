package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound aliases gorm.ErrRecordNotFound so callers need not import gorm.
	ErrNotFound = gorm.ErrRecordNotFound

	// ErrDuplicate reports a unique-key collision: idempotency key, identity
	// subject, subscription id, billing event id or a concurrent first rating.
	ErrDuplicate = errors.New("duplicate")
)

// isUniqueViolation recognizes unique-constraint failures. The pure-Go
// SQLite driver reports them as text rather than gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "constraint failed: unique")
}
