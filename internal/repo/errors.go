package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// isUniqueViolation covers both translated errors and drivers that only
// report constraint failures as text.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}

// IsForeignKeyViolation reports whether err is a foreign key failure from any
// supported driver.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "foreign key constraint") ||
		strings.Contains(low, "violates foreign key")
}
