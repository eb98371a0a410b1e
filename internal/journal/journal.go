package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/nerrad567/brokerwatch/internal/supervisor"
)

// Journal configuration constants.
const (
	// dirPermissions is the permission mode for the journal directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the journal file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// recordTimeout bounds a write made on behalf of the supervisor.
	recordTimeout = 2 * time.Second

	// timeLayout is how occurred_at is stored. It sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrClosed is returned when using a Journal after Close.
var ErrClosed = errors.New("journal: closed")

// Config contains journal storage options.
// These map to the journal section of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite file.
	// The directory will be created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a lock (seconds).
	BusyTimeout int
}

// Entry is one persisted transition.
type Entry struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	Detail     string    `json:"detail,omitempty"`
}

// Logger interface for optional logging support.
type Logger interface {
	Warn(msg string, args ...any)
}

// Journal is an append-only SQLite log of supervision transitions.
// It implements supervisor.Observer.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Journal struct {
	db   *sql.DB
	path string

	logger   Logger
	loggerMu sync.RWMutex
}

// Open opens (creating if needed) the journal and brings its schema up to date.
//
// It performs the following setup:
//  1. Creates the directory if it doesn't exist
//  2. Opens the SQLite file with busy timeout and optional WAL mode
//  3. Verifies the connection with a ping
//  4. Applies pending schema migrations
//
// Parameters:
//   - ctx: Bounds the ping and migrations
//   - cfg: Journal configuration
//
// Returns:
//   - *Journal: Ready to record
//   - error: If the file cannot be opened or migrated
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal: path is required")
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	// See: https://github.com/mattn/go-sqlite3#connection-string
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.Path, cfg.BusyTimeout*msPerSecond)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// One writer; the supervisor is the only producer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}

	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File may be created lazily

	j := &Journal{db: db, path: cfg.Path}
	if err := j.migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("migrating journal: %w", err)
	}

	return j, nil
}

// SetLogger sets a logger for write failures during observation.
func (j *Journal) SetLogger(logger Logger) {
	j.loggerMu.Lock()
	j.logger = logger
	j.loggerMu.Unlock()
}

func (j *Journal) getLogger() Logger {
	j.loggerMu.RLock()
	defer j.loggerMu.RUnlock()
	return j.logger
}

// Path returns the filesystem path to the journal file.
func (j *Journal) Path() string {
	return j.path
}

// Record appends an entry. A zero OccurredAt is replaced with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) (int64, error) {
	if e.Kind == "" {
		return 0, fmt.Errorf("journal: entry kind is required")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}

	res, err := j.db.ExecContext(ctx,
		"INSERT INTO transitions (occurred_at, kind, state, detail) VALUES (?, ?, ?, ?)",
		e.OccurredAt.UTC().Format(timeLayout), e.Kind, e.State, e.Detail,
	)
	if err != nil {
		return 0, j.wrap("recording transition", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading transition id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, occurred_at, kind, state, detail FROM transitions ORDER BY occurred_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, j.wrap("querying transitions", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var occurred string
		if err := rows.Scan(&e.ID, &occurred, &e.Kind, &e.State, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning transition row: %w", err)
		}
		e.OccurredAt, _ = time.Parse(timeLayout, occurred) //nolint:errcheck // Format is controlled
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return entries, nil
}

// CountByKind returns how many entries of each kind are stored.
func (j *Journal) CountByKind(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM transitions GROUP BY kind")
	if err != nil {
		return nil, j.wrap("counting transitions", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// Prune deletes entries older than cutoff and reports how many were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM transitions WHERE occurred_at < ?",
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, j.wrap("pruning transitions", err)
	}
	return res.RowsAffected()
}

// HealthCheck verifies the journal is accessible.
func (j *Journal) HealthCheck(ctx context.Context) error {
	var result int
	if err := j.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return j.wrap("journal health check failed", err)
	}
	return nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	return nil
}

// ObserveProbe implements supervisor.Observer. Individual probes are not
// journalled; failures show up as probe_failed transitions.
func (j *Journal) ObserveProbe(supervisor.ProbeResult) {}

// ObserveTransition implements supervisor.Observer.
func (j *Journal) ObserveTransition(t supervisor.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	_, err := j.Record(ctx, Entry{
		OccurredAt: t.At,
		Kind:       string(t.Kind),
		State:      string(t.State),
		Detail:     t.Detail,
	})
	if err != nil {
		if logger := j.getLogger(); logger != nil {
			logger.Warn("journal write failed", "kind", t.Kind, "error", err)
		}
	}
}

// wrap adds context and maps the closed-database error to ErrClosed.
func (j *Journal) wrap(op string, err error) error {
	if err.Error() == "sql: database is closed" {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}
