// Package store persists the message history. The embedded device keeps a
// tiny append-only flash log; a desktop-class node gets a real database.
package store

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MessageRecord is one delivered Data message as stored.
type MessageRecord struct {
	ID         int64     `db:"id"`
	MsgID      int64     `db:"msg_id"` // 32-bit wire ID, widened for SQL
	Sender     string    `db:"sender"`
	Nick       string    `db:"nick"`
	Body       string    `db:"body"`
	RSSI       float32   `db:"rssi"`
	Relayed    bool      `db:"relayed"`
	KeyName    string    `db:"key_name"`
	ReceivedAt time.Time `db:"received_at"`
}

type HistoryStore interface {
	Append(rec *MessageRecord) error
	Recent(limit int) ([]*MessageRecord, error)
}

type postgresHistoryStore struct {
	db *sqlx.DB
}

// Open connects to Postgres and applies pending schema migrations.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func NewHistory(db *sqlx.DB) HistoryStore {
	return &postgresHistoryStore{db: db}
}

func (s *postgresHistoryStore) Append(rec *MessageRecord) error {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}
	_, err := s.db.NamedExec(`
		INSERT INTO messages (msg_id, sender, nick, body, rssi, relayed, key_name, received_at)
		VALUES (:msg_id, :sender, :nick, :body, :rssi, :relayed, :key_name, :received_at)`,
		rec)
	return err
}

func (s *postgresHistoryStore) Recent(limit int) ([]*MessageRecord, error) {
	recs := []*MessageRecord{}
	err := s.db.Select(&recs, `
		SELECT * FROM messages ORDER BY received_at DESC LIMIT $1`, limit)
	return recs, err
}
