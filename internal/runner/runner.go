package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Options customises how EXPLAIN is executed.
type Options struct {
	Timeout time.Duration
	// Analyze actually runs the statement to collect row counts and timings.
	Analyze bool
	// Verbose asks the planner for output column lists.
	Verbose bool
}

// ExplainSQL wraps the statement in the EXPLAIN form matching opts.
func ExplainSQL(sqlStatement string, opts Options) (string, error) {
	query := strings.TrimSpace(sqlStatement)
	if query == "" {
		return "", fmt.Errorf("runner: empty sql statement")
	}

	modes := make([]string, 0, 3)
	if opts.Analyze {
		modes = append(modes, "ANALYZE")
	}
	if opts.Verbose {
		modes = append(modes, "VERBOSE")
	}
	modes = append(modes, "FORMAT JSON")
	return fmt.Sprintf("EXPLAIN (%s) %s", strings.Join(modes, ", "), query), nil
}

// Run executes EXPLAIN for the provided SQL statement and returns the raw
// JSON plan document.
func Run(ctx context.Context, dsn, sqlStatement string, opts Options) ([]byte, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("runner: empty DSN")
	}
	explainSQL, err := ExplainSQL(sqlStatement, opts)
	if err != nil {
		return nil, err
	}

	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("runner: connect: %w", err)
	}
	defer conn.Close(ctx)

	var payload []byte
	if err := conn.QueryRow(ctx, explainSQL).Scan(&payload); err != nil {
		return nil, fmt.Errorf("runner: query: %w", err)
	}
	return payload, nil
}
