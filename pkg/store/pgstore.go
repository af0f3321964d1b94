package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations

	"github.com/conclave-ai/conclave/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// PGStore persists each conversation as one JSONB document row.
// Mutations load the row FOR UPDATE inside a transaction, so
// concurrent writers to one conversation serialize on the row lock.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects the pool, applies pending migrations and returns
// the store.
func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// runMigrations applies the embedded migrations through a short-lived
// database/sql connection. Migration files are embedded so deployments
// never need them on disk.
func runMigrations(databaseURL string) error {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "conclave", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return sourceDriver.Close()
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func encodeDocument(c *models.Conversation) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversation %s: %w", c.ID, err)
	}
	return data, nil
}

func decodeDocument(data []byte) (*models.Conversation, error) {
	var c models.Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode conversation document: %w", err)
	}
	return &c, nil
}

func (s *PGStore) Create(ctx context.Context, id string) (*models.Conversation, error) {
	c := models.NewConversation(id)
	doc, err := encodeDocument(c)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (id, created_at, title, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET created_at = EXCLUDED.created_at,
		    title = EXCLUDED.title,
		    document = EXCLUDED.document`,
		c.ID, c.CreatedAt, c.Title, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation %s: %w", id, err)
	}
	return c, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM conversations WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	return decodeDocument(doc)
}

func (s *PGStore) Save(ctx context.Context, c *models.Conversation) error {
	doc, err := encodeDocument(c)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET created_at = $2, title = $3, document = $4
		WHERE id = $1`,
		c.ID, c.CreatedAt, c.Title, doc)
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) List(ctx context.Context) ([]models.ConversationMetadata, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	metas := []models.ConversationMetadata{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		c, err := decodeDocument(doc)
		if err != nil {
			continue
		}
		metas = append(metas, c.Metadata())
	}
	return metas, rows.Err()
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}

// updateTx runs fn on the locked document and writes it back when fn
// reports a change.
func (s *PGStore) updateTx(ctx context.Context, id string, fn func(*models.Conversation) (bool, error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doc []byte
	err = tx.QueryRow(ctx,
		`SELECT document FROM conversations WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock conversation %s: %w", id, err)
	}

	c, err := decodeDocument(doc)
	if err != nil {
		return err
	}
	changed, err := fn(c)
	if err != nil {
		return err
	}
	if !changed {
		return tx.Commit(ctx)
	}

	updated, err := encodeDocument(c)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE conversations
		SET created_at = $2, title = $3, document = $4
		WHERE id = $1`,
		c.ID, c.CreatedAt, c.Title, updated); err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

func (s *PGStore) AddUserMessage(ctx context.Context, id, content string) error {
	return s.updateTx(ctx, id, func(c *models.Conversation) (bool, error) {
		c.Messages = append(c.Messages, models.NewUserMessage(content))
		return true, nil
	})
}

func (s *PGStore) AddAssistantMessage(ctx context.Context, id string, stage1 []models.ModelResponse, stage2 []models.ModelRanking, stage3 models.ChairmanAnswer) error {
	return s.updateTx(ctx, id, func(c *models.Conversation) (bool, error) {
		c.Messages = append(c.Messages, models.NewAssistantMessage(stage1, stage2, stage3))
		return true, nil
	})
}

func (s *PGStore) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	return s.updateTx(ctx, id, func(c *models.Conversation) (bool, error) {
		c.Messages = append(c.Messages, msg)
		return true, nil
	})
}

func (s *PGStore) SetLastUserStatus(ctx context.Context, id string, status models.UserMessageStatus) (bool, error) {
	found := false
	err := s.updateTx(ctx, id, func(c *models.Conversation) (bool, error) {
		found = setLastUserStatus(c, status)
		return found, nil
	})
	return found, err
}

func (s *PGStore) LastUserMessage(ctx context.Context, id string) (*models.Message, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return lastUserMessage(c), nil
}

func (s *PGStore) RemovePendingUserMessages(ctx context.Context, id string, keepLast bool) (int, error) {
	removed := 0
	err := s.updateTx(ctx, id, func(c *models.Conversation) (bool, error) {
		removed = removePendingUserMessages(c, keepLast)
		return removed > 0, nil
	})
	return removed, err
}

func (s *PGStore) UpdateTitle(ctx context.Context, id, title string) error {
	return s.updateTx(ctx, id, func(c *models.Conversation) (bool, error) {
		c.Title = title
		return true, nil
	})
}
