package sqliteutil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Config selects either a local sqlite file or a remote libsql
// database. When Url is set it takes priority over File.
type Config struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (c Config) Open(schema string) (*sql.DB, error) {
	if c.Url != "" {
		connStr := c.Url
		if c.AuthToken != "" {
			connStr = fmt.Sprintf("%s?authToken=%s", c.Url, c.AuthToken)
		}
		db, err := sql.Open("libsql", connStr)
		if err != nil {
			return nil, err
		}
		_, err = db.Exec(schema)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	return OpenDB(schema, c.File)
}

// opens a local sqlite database file, creating parent directories as
// needed, and applies the given schema (schemas are expected to be
// written with CREATE TABLE IF NOT EXISTS).
func OpenDB(schema, path string) (*sql.DB, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0755)
		if err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
