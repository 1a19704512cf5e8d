// Package registry records live fixtures in a SQLite database so that
// daemons orphaned by a crashed test binary can be found and reaped later.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const createFixturesTable = `
CREATE TABLE IF NOT EXISTS fixtures (
	id         TEXT PRIMARY KEY,
	owner_pid  INTEGER NOT NULL,
	pid        INTEGER NOT NULL,
	workdir    TEXT NOT NULL,
	temporary  INTEGER NOT NULL,
	rpc_url    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
)`

var columns = []string{"id", "owner_pid", "pid", "workdir", "temporary", "rpc_url", "created_at"}

// Entry is one registered fixture.
type Entry struct {
	ID string
	// OwnerPid is the process that started the fixture.
	OwnerPid  int
	Pid       int
	WorkDir   string
	Temporary bool
	RPCURL    string
	CreatedAt time.Time
}

// Registry is a handle on the registry database. Safe for concurrent use.
type Registry struct {
	db *sql.DB
}

// DefaultPath returns <user cache dir>/nodefixture/registry.db.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}
	return filepath.Join(dir, "nodefixture", "registry.db"), nil
}

// Open opens or creates the registry at path.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	// Many test binaries may share one registry.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	if _, err := db.Exec(createFixturesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create registry schema: %w", err)
	}

	return &Registry{db: db}, nil
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Register records e and returns its id. A missing ID is generated and a
// zero OwnerPid defaults to the current process.
func (r *Registry) Register(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OwnerPid == 0 {
		e.OwnerPid = os.Getpid()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := sq.Insert("fixtures").
		Columns(columns...).
		Values(e.ID, e.OwnerPid, e.Pid, e.WorkDir, e.Temporary, e.RPCURL, e.CreatedAt.UnixNano()).
		RunWith(r.db).
		ExecContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to register fixture: %w", err)
	}
	return e.ID, nil
}

// Unregister removes the entry with id. Unknown ids are not an error.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	_, err := sq.Delete("fixtures").
		Where(sq.Eq{"id": id}).
		RunWith(r.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to unregister fixture %s: %w", id, err)
	}
	return nil
}

// List returns all entries, oldest first.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	rows, err := sq.Select(columns...).
		From("fixtures").
		OrderBy("created_at", "id").
		RunWith(r.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fixtures: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.OwnerPid, &e.Pid, &e.WorkDir, &e.Temporary, &e.RPCURL, &created); err != nil {
			return nil, fmt.Errorf("failed to scan fixture: %w", err)
		}
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReapOptions control Reap.
type ReapOptions struct {
	// DryRun reports orphans without touching them.
	DryRun bool

	// Alive reports whether pid is running; defaults to a signal-0 probe.
	Alive func(pid int) bool
	// Kill stops an orphaned daemon; defaults to a forced kill.
	Kill func(pid int) error
}

// Reap finds entries whose owning process is gone, kills their daemon if
// it is still running, removes temporary workdirs and deletes the entries.
// Pids can be reused by the OS, so a stale entry may point at an unrelated
// process; only reap registries owned by the current user.
func (r *Registry) Reap(ctx context.Context, opts ReapOptions) ([]Entry, error) {
	if opts.Alive == nil {
		opts.Alive = processAlive
	}
	if opts.Kill == nil {
		opts.Kill = killProcess
	}

	entries, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var reaped []Entry
	var errs []error
	for _, e := range entries {
		if e.OwnerPid == os.Getpid() || opts.Alive(e.OwnerPid) {
			continue
		}
		reaped = append(reaped, e)
		if opts.DryRun {
			continue
		}

		if e.Pid > 0 && opts.Alive(e.Pid) {
			if err := opts.Kill(e.Pid); err != nil {
				errs = append(errs, fmt.Errorf("failed to kill pid %d: %w", e.Pid, err))
				continue
			}
		}
		if e.Temporary && e.WorkDir != "" {
			if err := os.RemoveAll(e.WorkDir); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", e.WorkDir, err))
				continue
			}
		}
		if err := r.Unregister(ctx, e.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return reaped, errors.Join(errs...)
}
