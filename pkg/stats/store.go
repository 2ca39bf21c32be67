// Package stats implements the node statistics store: per-node registration
// rows and a weekly check-in matrix, persisted in Postgres using raw pgx
// queries (no code-generated query layer — this domain's matrix tables are
// created dynamically per node, one per registered name, so there is no
// fixed schema for a generator to target).
package stats

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecondsPerCheckIn is the bucket width in seconds.
const SecondsPerCheckIn = 10

// BucketsPerDay is the number of buckets in a day (86400 / 10).
const BucketsPerDay = 86400 / SecondsPerCheckIn

// namePattern restricts node names to a charset safe for identifier
// interpolation into the per-node table and index names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ErrInvalidName is returned when a node name fails the identifier charset check.
var ErrInvalidName = errors.New("stats: node name must match ^[A-Za-z0-9_]+$")

// ErrNotRegistered is returned by operations on a node with no registration row.
var ErrNotRegistered = errors.New("stats: node not registered")

// Store is the Postgres-backed node statistics store.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureDatabase idempotently bootstraps the global schema. The `nodes_usage`
// table itself is created by a golang-migrate migration at startup (see
// internal/platform.RunMigrations); per-node matrix tables are created
// dynamically by RegisterNode, not by migration files, so there is nothing
// further to bootstrap here beyond confirming connectivity.
func (s *Store) EnsureDatabase(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ensure_database: %w", err)
	}
	return nil
}

func matrixTable(name string) string {
	return "nodes_usage_details_" + name
}

func matrixIndex(name string) string {
	return "nodes_usage_details_" + name + "_bucket_idx"
}

// RegisterNode registers name if it is not already registered. It returns
// true in both the "newly registered" and "already registered" cases — the
// only failure is a transactional error, reported via err.
func (s *Store) RegisterNode(ctx context.Context, name string) (bool, error) {
	if !namePattern.MatchString(name) {
		return false, ErrInvalidName
	}

	already, err := s.NodeRegistered(ctx, name)
	if err != nil {
		return false, fmt.Errorf("register_node: checking existing registration: %w", err)
	}
	if already {
		return true, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("register_node: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO nodes_usage (name, registration_time, abrupt_disconnects) VALUES ($1, now(), 0)
		 ON CONFLICT (name) DO NOTHING`,
		name,
	)
	if err != nil {
		return false, fmt.Errorf("register_node: inserting registration row: %w", err)
	}

	table := matrixTable(name)
	createTable := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			day_of_week SMALLINT NOT NULL,
			bucket SMALLINT NOT NULL,
			check_in_count INTEGER NOT NULL DEFAULT 0
		)`, table)
	if _, err := tx.Exec(ctx, createTable); err != nil {
		return false, fmt.Errorf("register_node: creating matrix table: %w", err)
	}

	if err := bulkInitMatrix(ctx, tx, table); err != nil {
		return false, fmt.Errorf("register_node: initializing matrix: %w", err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (bucket)`, matrixIndex(name), table)
	if _, err := tx.Exec(ctx, createIndex); err != nil {
		return false, fmt.Errorf("register_node: creating bucket index: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("register_node: commit: %w", err)
	}

	return true, nil
}

// bulkInitMatrix inserts all 7*BucketsPerDay = 60480 zeroed rows using
// pgx's batch pipeline, matching the original's bulk execute_values insert.
func bulkInitMatrix(ctx context.Context, tx pgx.Tx, table string) error {
	const batchSize = 2000
	insertSQL := fmt.Sprintf(`INSERT INTO %s (day_of_week, bucket, check_in_count) VALUES ($1, $2, 0)`, table)

	batch := &pgx.Batch{}
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				return err
			}
		}
		batch = &pgx.Batch{}
		return nil
	}

	for day := 0; day < 7; day++ {
		for bucket := 0; bucket < BucketsPerDay; bucket++ {
			batch.Queue(insertSQL, day, bucket)
			if batch.Len() >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

// NodeRegistered reports whether name has a registration row.
func (s *Store) NodeRegistered(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM nodes_usage WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("node_registered: %w", err)
	}
	return exists, nil
}

// secondsSinceMidnightBucket returns floor(seconds_since_midnight(ts) / SecondsPerCheckIn).
func secondsSinceMidnightBucket(ts time.Time) int {
	midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	return int(ts.Sub(midnight).Seconds()) / SecondsPerCheckIn
}

// weekday maps time.Time's Sunday=0 weekday to the 0..6 day-of-week index
// used throughout the matrix; the scheme is arbitrary as long as it is
// applied consistently between writes (UpdateNode) and reads (GetCheckIns).
func weekday(ts time.Time) int {
	return int(ts.Weekday())
}

// UpdateNode increments the check-in count for the bucket corresponding to
// ts. It is a no-op returning false if name is not registered.
func (s *Store) UpdateNode(ctx context.Context, name string, ts time.Time) (bool, error) {
	if !namePattern.MatchString(name) {
		return false, ErrInvalidName
	}

	registered, err := s.NodeRegistered(ctx, name)
	if err != nil {
		return false, fmt.Errorf("update_node: %w", err)
	}
	if !registered {
		return false, nil
	}

	day := weekday(ts)
	bucket := secondsSinceMidnightBucket(ts)

	query := fmt.Sprintf(
		`UPDATE %s SET check_in_count = check_in_count + 1 WHERE day_of_week = $1 AND bucket = $2`,
		matrixTable(name))
	if _, err := s.pool.Exec(ctx, query, day, bucket); err != nil {
		return false, fmt.Errorf("update_node: incrementing bucket: %w", err)
	}
	return true, nil
}

// CheckIn is one (bucket, count) observation for a single day.
type CheckIn struct {
	Bucket int
	Count  int
}

// GetCheckIns returns the observed buckets in [startBucket, endBucket] for
// every day in dayRange. The bucket range is applied identically to every
// day in the range, regardless of whether the interval genuinely spans that
// many calendar days — this is the documented, preserved semantics (see
// the design note on bucket range semantics); callers that need a
// day-varying range must call this once per day themselves.
func (s *Store) GetCheckIns(ctx context.Context, name string, dayRange []int, startBucket, endBucket int) (map[int][]CheckIn, error) {
	if !namePattern.MatchString(name) {
		return nil, ErrInvalidName
	}

	registered, err := s.NodeRegistered(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get_check_ins: %w", err)
	}
	if !registered {
		return nil, ErrNotRegistered
	}

	result := make(map[int][]CheckIn, len(dayRange))
	table := matrixTable(name)
	query := fmt.Sprintf(
		`SELECT bucket, check_in_count FROM %s WHERE day_of_week = $1 AND bucket BETWEEN $2 AND $3 ORDER BY bucket`,
		table)

	for _, day := range dayRange {
		rows, err := s.pool.Query(ctx, query, day, startBucket, endBucket)
		if err != nil {
			return nil, fmt.Errorf("get_check_ins: querying day %d: %w", day, err)
		}

		var checkIns []CheckIn
		for rows.Next() {
			var c CheckIn
			if err := rows.Scan(&c.Bucket, &c.Count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("get_check_ins: scanning row: %w", err)
			}
			checkIns = append(checkIns, c)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("get_check_ins: iterating day %d: %w", day, err)
		}

		result[day] = checkIns
	}

	return result, nil
}

// GetRegistrationTime returns the registration timestamp for name.
func (s *Store) GetRegistrationTime(ctx context.Context, name string) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx, `SELECT registration_time FROM nodes_usage WHERE name = $1`, name).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNotRegistered
		}
		return time.Time{}, fmt.Errorf("get_registration_time: %w", err)
	}
	return ts, nil
}

// IncrementAbruptDisconnect bumps the disconnect counter for name by one.
// Returns false if name is not registered.
func (s *Store) IncrementAbruptDisconnect(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE nodes_usage SET abrupt_disconnects = abrupt_disconnects + 1 WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("increment_abrupt_disconnect: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetAbruptDisconnectCount returns the disconnect counter for name, or -1 if
// the node is not registered.
func (s *Store) GetAbruptDisconnectCount(ctx context.Context, name string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT abrupt_disconnects FROM nodes_usage WHERE name = $1`, name).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return -1, nil
		}
		return -1, fmt.Errorf("get_abrupt_disconnect_count: %w", err)
	}
	return count, nil
}

// DaysBetween returns [a, a+1, ..., b] walking forward modulo 7, always
// starting with a and ending with b inclusive.
func DaysBetween(a, b int) []int {
	a = ((a % 7) + 7) % 7
	b = ((b % 7) + 7) % 7

	days := []int{a}
	for days[len(days)-1] != b {
		next := (days[len(days)-1] + 1) % 7
		days = append(days, next)
	}
	return days
}
