package main

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// ErrStorage wraps persistence backend failures. Store mutations that hit it
// have already been applied in memory; the caller may retry the persist or
// surface the error, the session keeps working either way.
var ErrStorage = errors.New("storage error")

// Storage is a durable key-value snapshot store. Each key holds one JSON
// blob. Get returns found=false for absent keys rather than an error.
type Storage interface {
	Get(key string) (value []byte, found bool, err error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// memoryStorage backs dev mode and tests. No durability.
type memoryStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{data: make(map[string][]byte)}
}

func (m *memoryStorage) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *memoryStorage) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *memoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStorage) Close() error { return nil }

// sqlStorage serves both SQL backends; only the upsert syntax differs.
type sqlStorage struct {
	db     *sql.DB
	upsert string
}

// ensureKV creates the kv table if it doesn't exist.
func ensureKV(db *sql.DB, ddl string) error {
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("ensure kv table: %w", err)
	}
	return nil
}

// openSQLiteStorage opens (or creates) a single-file store. This is the
// default backend: one local file per session, like the browser profile the
// original app persisted into.
func openSQLiteStorage(path string) (*sqlStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ensureKV(db, `CREATE TABLE IF NOT EXISTS kv (
        k TEXT PRIMARY KEY,
        v BLOB NOT NULL
    )`); err != nil {
		db.Close()
		return nil, err
	}
	return &sqlStorage{
		db:     db,
		upsert: `INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
	}, nil
}

// openMySQLStorage connects to a MySQL/TiDB instance via DSN.
func openMySQLStorage(dsn string) (*sqlStorage, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if err := ensureKV(db, `CREATE TABLE IF NOT EXISTS kv (
        k VARCHAR(191) PRIMARY KEY,
        v MEDIUMBLOB NOT NULL
    )`); err != nil {
		db.Close()
		return nil, err
	}
	return &sqlStorage{
		db:     db,
		upsert: `INSERT INTO kv (k, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)`,
	}, nil
}

func (s *sqlStorage) Get(key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrStorage, key, err)
	}
	return v, true, nil
}

func (s *sqlStorage) Set(key string, value []byte) error {
	if _, err := s.db.Exec(s.upsert, key, value); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStorage, key, err)
	}
	return nil
}

func (s *sqlStorage) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE k = ?`, key); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorage, key, err)
	}
	return nil
}

func (s *sqlStorage) Close() error { return s.db.Close() }
