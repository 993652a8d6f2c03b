package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"studynotes-server/core"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	documentsTable   = "studynotes_documents"
	roomsTable       = "studynotes_rooms"
	operationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// DocumentStore connects lazily, so a database that is down at startup
// surfaces as failed saves instead of a crash.
type DocumentStore struct {
	dsn    string
	prefix string
	openDB sqlOpenFunc

	mu    sync.Mutex
	ready bool
	db    *sql.DB
}

func NewDocumentStore(dsn string) (*DocumentStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	return &DocumentStore{dsn: dsn, openDB: sql.Open}, nil
}

func (s *DocumentStore) table(name string) string {
	return pq.QuoteIdentifier(s.prefix + name)
}

// ensureReady opens the pool and creates the tables. Only success is
// remembered; after a failure the next call tries again.
func (s *DocumentStore) ensureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	db, err := s.openDB("postgres", s.dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	// Schema setup outlives the request that happened to trigger it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), operationTimeout)
	defer cancel()

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			room_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table(documentsTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			room_id TEXT PRIMARY KEY,
			last_active TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table(roomsTable)),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			logrus.WithError(err).Warn("Postgres schema setup failed, will retry")
			return fmt.Errorf("create postgres schema: %w", err)
		}
	}
	s.db = db
	s.ready = true
	return nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, operationTimeout)
}

func (s *DocumentStore) Load(ctx context.Context, roomID string) (*core.Document, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var doc core.Document
	query := fmt.Sprintf("SELECT content, updated_at FROM %s WHERE room_id = $1", s.table(documentsTable))
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(&doc.Content, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", roomID, core.ErrDocumentNotFound)
	}
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to retrieve document")
		return nil, err
	}
	return &doc, nil
}

func (s *DocumentStore) Save(ctx context.Context, roomID string, document *core.Document) error {
	if roomID == "" {
		return core.ErrInvalidRoomID
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (room_id, content, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (room_id)
		DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()`, s.table(documentsTable))
	if _, err := s.db.ExecContext(ctx, query, roomID, document.Content); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to save document")
		return err
	}
	return nil
}

func (s *DocumentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return core.ErrInvalidRoomID
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (room_id, last_active) VALUES ($1, NOW())
		ON CONFLICT (room_id) DO UPDATE SET last_active = NOW()`, s.table(roomsTable))
	_, err := s.db.ExecContext(ctx, query, roomID)
	return err
}

func (s *DocumentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("SELECT room_id, last_active FROM %s ORDER BY last_active DESC, room_id ASC", s.table(roomsTable))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []core.Room
	for rows.Next() {
		var (
			id   string
			last time.Time
		)
		if err := rows.Scan(&id, &last); err != nil {
			return nil, err
		}
		rooms = append(rooms, core.Room{ID: id, LastActive: last.UnixMilli()})
	}
	return rooms, rows.Err()
}

func (s *DocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
