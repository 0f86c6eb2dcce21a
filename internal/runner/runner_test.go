package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/planfmt/internal/runner"
)

func TestExplainSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
		opts runner.Options
		want string
	}{
		{
			name: "plain",
			sql:  "SELECT * FROM users",
			want: "EXPLAIN (FORMAT JSON) SELECT * FROM users",
		},
		{
			name: "analyze",
			sql:  "SELECT * FROM users",
			opts: runner.Options{Analyze: true},
			want: "EXPLAIN (ANALYZE, FORMAT JSON) SELECT * FROM users",
		},
		{
			name: "analyze verbose",
			sql:  "  SELECT 1  ",
			opts: runner.Options{Analyze: true, Verbose: true},
			want: "EXPLAIN (ANALYZE, VERBOSE, FORMAT JSON) SELECT 1",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := runner.ExplainSQL(tc.sql, tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExplainSQLEmptyStatement(t *testing.T) {
	t.Parallel()

	_, err := runner.ExplainSQL("   ", runner.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty sql statement")
}

func TestRunRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := runner.Run(context.Background(), "", "SELECT 1", runner.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty DSN")

	_, err = runner.Run(context.Background(), "postgres://localhost/app", "", runner.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty sql statement")
}
