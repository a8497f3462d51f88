package migrations

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
)

func TestSplitStatements(t *testing.T) {
	input := `-- header
CREATE TABLE a (x Int32) ENGINE = Memory;

-- second
CREATE TABLE b (y String) ENGINE = Memory;
`
	stmts := splitStatements(input)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.HasPrefix(stmts[0], "CREATE TABLE a") || !strings.HasPrefix(stmts[1], "CREATE TABLE b") {
		t.Errorf("unexpected statements: %q", stmts)
	}
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{"plain", "SELECT 1;", false},
		{"string without semicolon", "SELECT 'a';", false},
		{"escaped quote", "SELECT 'it''s';", false},
		{"semicolon in string", "SELECT 'a;b';", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateNoSemicolonInStrings(tt.sql)
			if (err != nil) != tt.wantErr || (err != nil && !errors.Is(err, ErrSemicolonInString)) {
				t.Errorf("validateNoSemicolonInStrings(%q) err = %v, wantErr %v", tt.sql, err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_runs.sql":   {Data: []byte("CREATE TABLE runs (id TEXT);")},
		"pg/001_trades.sql": {Data: []byte("CREATE TABLE trades (id TEXT);")},
		"pg/003_empty.sql":  {Data: []byte("  \n")},
		"pg/README.md":      {Data: []byte("notes")},
	}

	migs, err := Load(fsys, "pg")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(migs) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migs))
	}
	if migs[0].Version != "001" || migs[0].Name != "001_trades.sql" {
		t.Errorf("first = %+v, want 001_trades.sql", migs[0])
	}
	if migs[1].Version != "002" {
		t.Errorf("second version = %q, want 002", migs[1].Version)
	}
}

type recordingExecer struct {
	stmts []string
	fail  string
}

func (r *recordingExecer) Exec(_ context.Context, query string, _ ...any) error {
	if r.fail != "" && strings.Contains(query, r.fail) {
		return errors.New("boom")
	}
	r.stmts = append(r.stmts, query)
	return nil
}

func TestApplyClickhouse(t *testing.T) {
	conn := &recordingExecer{}
	applied, err := ApplyClickhouse(context.Background(), conn)
	if err != nil {
		t.Fatalf("ApplyClickhouse: %v", err)
	}
	if len(applied) != 3 || applied[0] != "001_daily_bars.sql" {
		t.Errorf("applied = %v", applied)
	}
	for _, stmt := range conn.stmts {
		if strings.HasSuffix(stmt, ";") || strings.HasPrefix(stmt, "--") {
			t.Errorf("statement not split cleanly: %q", stmt)
		}
	}
}

func TestApplyClickhouse_StopsOnError(t *testing.T) {
	conn := &recordingExecer{fail: "indicator_values"}
	applied, err := ApplyClickhouse(context.Background(), conn)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "002_indicator_values.sql") {
		t.Errorf("error should name the file: %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("expected only the first file applied, got %v", applied)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, tc := range []struct {
		fsys  fs.FS
		dir   string
		table string
	}{
		{PostgresFS, "postgres", "backtest_runs"},
		{PostgresFS, "postgres", "trade_records"},
		{ClickhouseFS, "clickhouse", "daily_bars"},
		{ClickhouseFS, "clickhouse", "indicator_values"},
		{ClickhouseFS, "clickhouse", "strategy_aggregates"},
	} {
		entries, err := fs.ReadDir(tc.fsys, tc.dir)
		if err != nil {
			t.Fatalf("read %s: %v", tc.dir, err)
		}
		found := false
		for _, e := range entries {
			data, err := fs.ReadFile(tc.fsys, tc.dir+"/"+e.Name())
			if err != nil {
				t.Fatalf("read %s: %v", e.Name(), err)
			}
			if strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+tc.table) {
				found = true
			}
		}
		if !found {
			t.Errorf("no %s migration creates %s", tc.dir, tc.table)
		}
	}
}
