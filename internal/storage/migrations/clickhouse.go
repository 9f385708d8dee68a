package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "renex/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the target database if needed, applies
// the embedded clickhouse migrations, and returns a connection to the
// target database for reuse.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	adminConn, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	if err := adminConn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
		adminConn.Close()
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}
	if err := adminConn.Close(); err != nil {
		return nil, fmt.Errorf("close admin connection: %w", err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}

	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read embedded clickhouse migrations: %w", err)
	}

	for _, file := range files {
		// The driver runs one statement per Exec, so multi-statement
		// files have to be cut up first.
		stmts, err := splitStatements(file.sql)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("split migration %s: %w", file.name, err)
		}
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", file.name, err)
			}
		}
	}

	return conn, nil
}

// splitStatements cuts a migration file into statements on the semicolons
// that sit outside single-quoted strings. Line comments are dropped.
// Block comments and dollar quoting are not handled, so migration files
// must not use them; an unterminated string literal is an error.
func splitStatements(input string) ([]string, error) {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(input, "\n") {
		if !inString && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for i := 0; i < len(line); i++ {
			ch := line[i]
			switch {
			case ch == '\'':
				// A doubled quote inside a string is an escape, not
				// a terminator.
				if inString && i+1 < len(line) && line[i+1] == '\'' {
					current.WriteString("''")
					i++
					continue
				}
				inString = !inString
				current.WriteByte(ch)
			case ch == ';' && !inString:
				flush()
			default:
				current.WriteByte(ch)
			}
		}
		current.WriteByte('\n')
	}
	if inString {
		return nil, fmt.Errorf("unterminated string literal")
	}
	flush()
	return stmts, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}
