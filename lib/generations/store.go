// Copyright 2026 The Flox Authors
// SPDX-License-Identifier: Apache-2.0

package generations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/flox/flox/lib/clock"
	"github.com/flox/flox/lib/environment"
	"github.com/flox/flox/lib/sqlitepool"
)

// ProgramName is recorded as argv[0] of every history command.
const ProgramName = "flox"

const schema = `
CREATE TABLE IF NOT EXISTS generations (
	id          INTEGER PRIMARY KEY,
	created     INTEGER NOT NULL,
	last_active INTEGER NOT NULL,
	description TEXT    NOT NULL,
	manifest    BLOB    NOT NULL,
	lock        BLOB
);
CREATE TABLE IF NOT EXISTS history (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	generation  INTEGER NOT NULL REFERENCES generations(id),
	timestamp   INTEGER NOT NULL,
	description TEXT    NOT NULL,
	argv        TEXT    NOT NULL,
	author      TEXT    NOT NULL,
	hostname    TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const currentKey = "current_gen"

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("generations: zstd encoder initialization failed: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("generations: zstd decoder initialization failed: " + err.Error())
	}
}

// Metadata describes the command that produced a history event.
type Metadata struct {
	// Description is the one-line summary, such as "installed package
	// 'hello'".
	Description string

	// Args are the command-line arguments after the program name.
	Args []string

	Author   string
	Hostname string
}

// Command returns the recorded argv: [ProgramName] followed by the
// arguments.
func (m Metadata) Command() []string {
	return append([]string{ProgramName}, m.Args...)
}

// Generation is one stored snapshot.
type Generation struct {
	ID          int       `json:"id"`
	Created     time.Time `json:"created"`
	LastActive  time.Time `json:"last_active"`
	Description string    `json:"description"`
	Current     bool      `json:"current"`
}

// Event is one history entry: a generation becoming live.
type Event struct {
	Generation  int       `json:"generation"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Command     []string  `json:"command"`
	Author      string    `json:"author"`
	Hostname    string    `json:"hostname"`
}

// Config configures [Open].
type Config struct {
	Path   string
	Clock  clock.Clock
	Logger *slog.Logger
}

// Store is the generation database of one environment.
type Store struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// Open opens or creates the generation database.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Logger: cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening generations: %w", err)
	}
	return &Store{pool: pool, clock: cfg.Clock}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.pool.Close() }

// Add stores source as a new generation and makes it live.
func (s *Store) Add(ctx context.Context, source environment.Source, metadata Metadata) (id int, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("generations: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, "SELECT COALESCE(MAX(id), 0) + 1 FROM generations", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("generations: next id: %w", err)
	}

	now := s.clock.Now().Unix()
	var lock any
	if source.Lockfile != nil {
		lock = encoder.EncodeAll(source.Lockfile, nil)
	}
	err = sqlitex.Execute(conn,
		"INSERT INTO generations (id, created, last_active, description, manifest, lock) VALUES (?, ?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{id, now, now, metadata.Description, encoder.EncodeAll(source.Manifest, nil), lock}})
	if err != nil {
		return 0, fmt.Errorf("generations: insert generation %d: %w", id, err)
	}
	if err = s.makeLive(conn, id, now, metadata); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) makeLive(conn *sqlite.Conn, id int, now int64, metadata Metadata) error {
	argv, err := json.Marshal(metadata.Command())
	if err != nil {
		return fmt.Errorf("generations: encoding command: %w", err)
	}
	err = sqlitex.Execute(conn,
		"INSERT INTO history (generation, timestamp, description, argv, author, hostname) VALUES (?, ?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{id, now, metadata.Description, string(argv), metadata.Author, metadata.Hostname}})
	if err != nil {
		return fmt.Errorf("generations: recording history: %w", err)
	}
	err = sqlitex.Execute(conn, "UPDATE generations SET last_active = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{now, id}})
	if err != nil {
		return fmt.Errorf("generations: updating generation %d: %w", id, err)
	}
	err = sqlitex.Execute(conn,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		&sqlitex.ExecOptions{Args: []any{currentKey, strconv.Itoa(id)}})
	if err != nil {
		return fmt.Errorf("generations: setting live generation: %w", err)
	}
	return nil
}

// Resolve returns the snapshot of generation id.
func (s *Store) Resolve(ctx context.Context, id int) (environment.Source, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return environment.Source{}, err
	}
	defer s.pool.Put(conn)
	return resolve(conn, id)
}

func resolve(conn *sqlite.Conn, id int) (environment.Source, error) {
	var (
		found              bool
		manifestData, lock []byte
	)
	err := sqlitex.Execute(conn, "SELECT manifest, lock FROM generations WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			manifestData = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, manifestData)
			if !stmt.ColumnIsNull(1) {
				lock = make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, lock)
			}
			return nil
		},
	})
	if err != nil {
		return environment.Source{}, fmt.Errorf("generations: reading generation %d: %w", id, err)
	}
	if !found {
		return environment.Source{}, &NotFoundError{Generation: id}
	}

	var source environment.Source
	if source.Manifest, err = decoder.DecodeAll(manifestData, nil); err != nil {
		return environment.Source{}, fmt.Errorf("generations: decompressing manifest of generation %d: %w", id, err)
	}
	if lock != nil {
		if source.Lockfile, err = decoder.DecodeAll(lock, nil); err != nil {
			return environment.Source{}, fmt.Errorf("generations: decompressing lockfile of generation %d: %w", id, err)
		}
	}
	return source, nil
}

// Current returns the live generation. ok is false for an empty
// database.
func (s *Store) Current(ctx context.Context) (id int, ok bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, false, err
	}
	defer s.pool.Put(conn)
	return current(conn)
}

func current(conn *sqlite.Conn) (int, bool, error) {
	var (
		value string
		found bool
	)
	err := sqlitex.Execute(conn, "SELECT value FROM meta WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{currentKey},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return 0, false, fmt.Errorf("generations: reading live generation: %w", err)
	}
	if !found {
		return 0, false, nil
	}
	id, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("generations: corrupt live generation %q", value)
	}
	return id, true, nil
}

// Switch makes generation id live and returns its snapshot.
func (s *Store) Switch(ctx context.Context, id int, metadata Metadata) (source environment.Source, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return environment.Source{}, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return environment.Source{}, fmt.Errorf("generations: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if source, err = resolve(conn, id); err != nil {
		return environment.Source{}, err
	}
	live, ok, err := current(conn)
	if err != nil {
		return environment.Source{}, err
	}
	if ok && live == id {
		return environment.Source{}, &AlreadyLiveError{Generation: id}
	}
	if err = s.makeLive(conn, id, s.clock.Now().Unix(), metadata); err != nil {
		return environment.Source{}, err
	}
	return source, nil
}

// List returns every generation in ascending order.
func (s *Store) List(ctx context.Context) ([]Generation, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	live, _, err := current(conn)
	if err != nil {
		return nil, err
	}
	var list []Generation
	err = sqlitex.Execute(conn, "SELECT id, created, last_active, description FROM generations ORDER BY id", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id := stmt.ColumnInt(0)
			list = append(list, Generation{
				ID:          id,
				Created:     time.Unix(stmt.ColumnInt64(1), 0),
				LastActive:  time.Unix(stmt.ColumnInt64(2), 0),
				Description: stmt.ColumnText(3),
				Current:     id == live,
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generations: listing: %w", err)
	}
	return list, nil
}

// History returns every event in the order generations became live.
func (s *Store) History(ctx context.Context) ([]Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var events []Event
	err = sqlitex.Execute(conn,
		"SELECT generation, timestamp, description, argv, author, hostname FROM history ORDER BY seq",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				event := Event{
					Generation:  stmt.ColumnInt(0),
					Timestamp:   time.Unix(stmt.ColumnInt64(1), 0),
					Description: stmt.ColumnText(2),
					Author:      stmt.ColumnText(4),
					Hostname:    stmt.ColumnText(5),
				}
				if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &event.Command); err != nil {
					return fmt.Errorf("decoding command of generation %d: %w", event.Generation, err)
				}
				events = append(events, event)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("generations: reading history: %w", err)
	}
	return events, nil
}
