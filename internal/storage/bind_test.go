package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBind_NamedParameters(t *testing.T) {
	stmt := Statement{
		SQL:    "SELECT * FROM entries WHERE entry_key = :key AND updated_at > :since",
		Params: map[string]any{"key": "balance", "since": "2026-01-01"},
	}

	query, args, err := stmt.bind()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM entries WHERE entry_key = ? AND updated_at > ?", query)
	assert.Equal(t, []any{"balance", "2026-01-01"}, args)
}

func TestBind_RepeatedParameter(t *testing.T) {
	stmt := Statement{
		SQL:    "SELECT :v AS a, :v AS b",
		Params: map[string]any{"v": int64(7)},
	}

	query, args, err := stmt.bind()
	require.NoError(t, err)
	assert.Equal(t, "SELECT ? AS a, ? AS b", query)
	assert.Equal(t, []any{int64(7), int64(7)}, args)
}

func TestBind_LeavesLiteralsAndCommentsAlone(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"single quoted", "SELECT ':nope', :x", "SELECT ':nope', ?"},
		{"escaped quote", "SELECT 'it''s :nope', :x", "SELECT 'it''s :nope', ?"},
		{"double quoted", `SELECT ":nope" FROM t WHERE a = :x`, `SELECT ":nope" FROM t WHERE a = ?`},
		{"backticks", "SELECT `:nope` FROM t WHERE a = :x", "SELECT `:nope` FROM t WHERE a = ?"},
		{"line comment", "SELECT :x -- :nope\n", "SELECT ? -- :nope\n"},
		{"block comment", "SELECT /* :nope */ :x", "SELECT /* :nope */ ?"},
		{"cast operator", "SELECT :x::text", "SELECT ?::text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := Statement{SQL: tt.sql, Params: map[string]any{"x": 1}}
			query, args, err := stmt.bind()
			require.NoError(t, err)
			assert.Equal(t, tt.want, query)
			assert.Len(t, args, 1)
		})
	}
}

func TestBind_MissingParameter(t *testing.T) {
	stmt := Statement{SQL: "SELECT :a, :b", Params: map[string]any{"a": 1}}

	_, _, err := stmt.bind()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"b"`)
}

func TestBind_Errors(t *testing.T) {
	_, _, err := Statement{SQL: "   "}.bind()
	assert.Error(t, err, "empty statement")

	_, _, err = Statement{
		SQL:    "SELECT :a, ?",
		Params: map[string]any{"a": 1},
		Args:   []any{2},
	}.bind()
	assert.Error(t, err, "mixed parameters")
}

func TestBind_PositionalArgs(t *testing.T) {
	stmt := Statement{SQL: "INSERT INTO t VALUES (?, ?)", Args: []any{"a", 1}}

	query, args, err := stmt.bind()
	require.NoError(t, err)
	assert.Equal(t, stmt.SQL, query)
	assert.Equal(t, []any{"a", 1}, args)
}

func TestBind_StructuredValuesBecomeJSON(t *testing.T) {
	stmt := Statement{
		SQL: "INSERT INTO t VALUES (:obj, :list)",
		Params: map[string]any{
			"obj":  map[string]any{"amount": 100},
			"list": []any{"a", "b"},
		},
	}

	_, args, err := stmt.bind()
	require.NoError(t, err)
	assert.Equal(t, []any{`{"amount":100}`, `["a","b"]`}, args)
}

func TestIsReadStatement(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", true},
		{"  select * from entries", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"(SELECT 1)", true},
		{"-- comment\nSELECT 1", true},
		{"/* c */ PRAGMA table_info(entries)", true},
		{"SHOW TABLES", true},
		{"EXPLAIN SELECT 1", true},
		{"INSERT INTO t VALUES (1)", false},
		{"UPDATE t SET a = 1", false},
		{"DELETE FROM t", false},
		{"DROP TABLE t", false},
		{"WITH x AS (SELECT 1) DELETE FROM t", false},
		{"WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x", false},
		{"with recursive n(i) as (select 1 union all select i + 1 from n where i < 5) update t set a = 1", false},
		{"WITH a AS (SELECT 1), b (v) AS (SELECT 2) SELECT * FROM a, b", true},
		{"WITH x AS (SELECT 'DELETE') SELECT * FROM x", true},
		{"PRAGMA journal_mode", true},
		{"PRAGMA journal_mode=DELETE", false},
		{"PRAGMA main.journal_mode = WAL", false},
		{"PRAGMA query_only(0)", false},
		{"PRAGMA optimize", false},
		{"EXPLAIN QUERY PLAN SELECT * FROM t", true},
		{"EXPLAIN ANALYZE DELETE FROM t", false},
		{"SELECT * INTO OUTFILE '/tmp/x' FROM t", false},
		{"SELECT 1; DELETE FROM t", false},
		{"SELECT 1;", true},
		{"SELECT ';DELETE FROM t' AS s", true},
		{"", false},
		{"-- only a comment", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isReadStatement(tt.sql), tt.sql)
	}
}
