package db

import (
	"errors"
	"net/url"
	"strings"
)

// parseDSN parses a postgres URL, adding the scheme when it was left out.
func parseDSN(dsn string) (*url.URL, error) {
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, errors.New("dsn scheme must be postgres or postgresql")
	}
	return u, nil
}

// WithDBName points dsn at another database on the same server, keeping
// credentials and query parameters.
func WithDBName(dsn, database string) (string, error) {
	u, err := parseDSN(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// DatabaseName returns the database path of a postgres DSN.
func DatabaseName(dsn string) (string, error) {
	u, err := parseDSN(dsn)
	if err != nil {
		return "", err
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "", errors.New("dsn has no database name")
	}
	return name, nil
}
