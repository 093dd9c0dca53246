package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EnsureDatabase creates the DSN's database when it does not exist yet,
// connecting through the "postgres" maintenance database.
func EnsureDatabase(ctx context.Context, dsn string) (created bool, err error) {
	name, err := DatabaseName(dsn)
	if err != nil {
		return false, err
	}
	if !identRe.MatchString(name) {
		return false, fmt.Errorf("refusing to create database with name %q", name)
	}
	metaDSN, err := WithDBName(dsn, "postgres")
	if err != nil {
		return false, fmt.Errorf("meta dsn: %w", err)
	}
	meta, err := Open(metaDSN)
	if err != nil {
		return false, err
	}
	defer meta.Close()

	var exists bool
	if err := meta.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			exists = false
		} else {
			return false, fmt.Errorf("lookup database %q: %w", name, err)
		}
	}
	if exists {
		return false, nil
	}
	// identifiers cannot be bound as parameters; name is validated above
	if _, err := meta.ExecContext(ctx, `CREATE DATABASE "`+name+`"`); err != nil {
		return false, fmt.Errorf("create database %q: %w", name, err)
	}
	return true, nil
}
