package migrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSemicolonInString is returned for ClickHouse migrations the statement
// splitter cannot handle.
var ErrSemicolonInString = errors.New("semicolon inside string literal")

// ChExecer is satisfied by clickhouse driver.Conn.
type ChExecer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// ApplyClickhouse runs every embedded ClickHouse migration. The driver
// rejects multi-statement queries, so files are split on semicolons and
// executed one statement at a time. Statements must be idempotent
// (IF NOT EXISTS) since nothing records which files ran.
func ApplyClickhouse(ctx context.Context, conn ChExecer) ([]string, error) {
	migs, err := Load(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(migs))
	for _, m := range migs {
		if err := validateNoSemicolonInStrings(m.SQL); err != nil {
			return applied, fmt.Errorf("validate migration %s: %w", m.Name, err)
		}
		for _, stmt := range splitStatements(m.SQL) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return applied, fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
		applied = append(applied, m.Name)
	}
	return applied, nil
}

// splitStatements drops -- comment lines and splits on semicolons. It does
// not understand quoting; validateNoSemicolonInStrings guards that.
func splitStatements(input string) []string {
	var kept []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects SQL with a ';' inside a single-quoted
// literal. Doubled quotes ('') are escapes.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if inString && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return fmt.Errorf("%w at offset %d", ErrSemicolonInString, i)
			}
		}
	}
	return nil
}
