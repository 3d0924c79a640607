// Package repository implements persistence on MySQL. Storage errors are
// translated here into the stable kinds declared by the auth package so
// that callers never see raw driver errors for expected conditions.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error for a duplicate entry in a unique index.
const errDupEntry = 1062

// isDuplicateKey reports whether err is a unique constraint violation.
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDupEntry
}
