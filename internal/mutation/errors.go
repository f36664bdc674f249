package mutation

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"modelql/internal/gqlerr"
	"modelql/internal/model"
)

// MySQL server error numbers surfaced as typed constraint failures.
const (
	mysqlErrDupEntry        = 1062
	mysqlErrRowIsReferenced = 1451
	mysqlErrNoReferencedRow = 1452
	mysqlErrBadNull         = 1048
	mysqlErrNoDefault       = 1364
	mysqlErrCheckViolated   = 3819
)

// translateError maps a database error to a typed constraint error. When the
// failing constraint is declared on the model with a message, that message
// replaces the raw server text.
func translateError(err error, m *model.Model) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return err
	}

	message := mysqlErr.Message
	if m != nil {
		for _, c := range m.Constraints {
			if c.Name != "" && strings.Contains(mysqlErr.Message, c.Name) {
				message = c.Message
				break
			}
		}
	}

	var code string
	switch mysqlErr.Number {
	case mysqlErrDupEntry:
		code = "unique_violation"
	case mysqlErrRowIsReferenced, mysqlErrNoReferencedRow:
		code = "foreign_key_violation"
	case mysqlErrBadNull, mysqlErrNoDefault:
		code = "not_null_violation"
	case mysqlErrCheckViolated:
		code = "check_violation"
	default:
		return err
	}

	return gqlerr.Wrap(gqlerr.KindConstraint, err, "%s", message).
		WithMeta("code", code).
		WithMeta("mysql_code", mysqlErr.Number)
}

// notFoundError reports a lookup miss, naming the model and the key that
// failed to match.
func notFoundError(m *model.Model, key string, value any) error {
	return gqlerr.New(gqlerr.KindNotFound, "%s matching %s=%v does not exist", m.Name, key, value).
		WithMeta("model", m.Name).
		WithMeta("key", key)
}
