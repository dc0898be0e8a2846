package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/snapspectre/internal/models"
	"github.com/ppiankov/snapspectre/internal/retry"
	"github.com/ppiankov/snapspectre/pkg/config"
)

// QueryError reports a failed or unreadable job history query.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("job history query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// JobIDError reports a job id column value that is not an integer.
type JobIDError struct {
	Row   int
	Value any
}

func (e *JobIDError) Error() string {
	return fmt.Sprintf("row %d: job id %v (%T) is not an integer", e.Row, e.Value, e.Value)
}

// SQLSource loads the registry with one read-only query
type SQLSource struct {
	db       *sql.DB
	endpoint string
	query    string
	readOnly bool // run the query in a read-only transaction
	timeout  time.Duration
	policy   retry.Policy
}

// NewSQLSource opens and pings the job history database.
func NewSQLSource(ctx context.Context, cfg config.DatabaseConfig) (*SQLSource, error) {
	db, endpoint, err := openDB(cfg)
	if err != nil {
		return nil, &models.ConnectionError{System: "database", Endpoint: endpoint, Err: err}
	}

	// The registry needs a single connection for a single query.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	src := newSQLSource(db, endpoint, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := retry.Do(pingCtx, src.policy, func() error { return db.PingContext(pingCtx) }); err != nil {
		db.Close()
		return nil, &models.ConnectionError{System: "database", Endpoint: endpoint, Err: err}
	}

	slog.Debug("connected to job history database",
		slog.String("driver", cfg.Driver),
		slog.String("endpoint", endpoint),
	)

	return src, nil
}

func newSQLSource(db *sql.DB, endpoint string, cfg config.DatabaseConfig) *SQLSource {
	policy := retry.DefaultPolicy()
	policy.Permanent = func(err error) bool {
		var idErr *JobIDError
		return isDriverAuthError(err) || errors.As(err, &idErr)
	}

	return &SQLSource{
		db:       db,
		endpoint: endpoint,
		query:    buildQuery(cfg),
		readOnly: supportsReadOnlyTx(cfg.Driver),
		timeout:  cfg.QueryTimeout,
		policy:   policy,
	}
}

// Load runs the job id query. Any failure is fatal: a partial registry would
// turn retained jobs into deletion candidates.
func (s *SQLSource) Load(ctx context.Context) (Registry, error) {
	if err := config.CheckReadOnlyQuery(s.query); err != nil {
		return nil, &QueryError{Query: s.query, Err: err}
	}

	ctx, cancel := retry.WithTotalTimeout(ctx, s.timeout)
	defer cancel()

	slog.Debug("loading job registry", slog.String("query", s.query))

	var reg Registry
	err := retry.Do(ctx, s.policy, func() error {
		loaded, err := s.fetch(ctx)
		if err != nil {
			return err
		}
		reg = loaded
		return nil
	})
	if err != nil {
		if retry.IsAuthError(err) || isDriverAuthError(err) {
			return nil, &models.ConnectionError{System: "database", Endpoint: s.endpoint, Err: err}
		}
		return nil, &QueryError{Query: s.query, Err: err}
	}

	slog.Debug("job registry loaded", slog.Int("jobs", reg.Len()))
	return reg, nil
}

func (s *SQLSource) fetch(ctx context.Context) (Registry, error) {
	var q interface {
		QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	} = s.db
	if s.readOnly {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
		}
		defer tx.Rollback()
		q = tx
	}

	rows, err := q.QueryContext(ctx, s.query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reg := Registry{}
	rowNum := 0
	for rows.Next() {
		rowNum++
		var value any
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", rowNum, err)
		}

		id, err := parseJobID(value)
		if err != nil {
			return nil, &JobIDError{Row: rowNum, Value: value}
		}
		reg[id] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed after %d rows: %w", rowNum, err)
	}

	return reg, nil
}

// parseJobID accepts integer column types and base-10 integer text.
func parseJobID(value any) (models.JobID, error) {
	switch v := value.(type) {
	case int64:
		return models.JobID(v), nil
	case int32:
		return models.JobID(v), nil
	case int16:
		return models.JobID(v), nil
	case int:
		return models.JobID(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("job id %d overflows int64", v)
		}
		return models.JobID(v), nil
	case uint32:
		return models.JobID(v), nil
	case []byte:
		return parseJobIDText(string(v))
	case string:
		return parseJobIDText(v)
	default:
		return 0, fmt.Errorf("unsupported job id type %T", value)
	}
}

func parseJobIDText(s string) (models.JobID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return models.JobID(id), nil
}

// Close releases the database handle.
func (s *SQLSource) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
