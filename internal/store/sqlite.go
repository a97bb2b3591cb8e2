package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/andthedropout/claude-dev/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Tickets ---

func (s *SQLiteStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if t.ID == "" {
		t.ID = newULID()
	}
	if t.Status == "" {
		t.Status = models.TicketStatusBacklog
	}
	if t.Priority == "" {
		t.Priority = models.TicketPriorityMedium
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, title, description, prd, status, priority, branch, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.PRD, string(t.Status), string(t.Priority), t.Branch, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	t := &models.Ticket{}
	var status, priority string
	var closedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, prd, status, priority, branch, created_at, updated_at, closed_at
		FROM tickets WHERE id = ?`, id,
	).Scan(&t.ID, &t.Title, &t.Description, &t.PRD, &status, &priority, &t.Branch,
		&t.CreatedAt, &t.UpdatedAt, &closedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ticket not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}

	t.Status = models.TicketStatus(status)
	t.Priority = models.TicketPriority(priority)
	if closedAt.Valid {
		t.ClosedAt = &closedAt.Time
	}
	return t, nil
}

func (s *SQLiteStore) ListTickets(ctx context.Context, filter TicketListFilter) ([]*models.Ticket, error) {
	query := `SELECT id, title, description, prd, status, priority, branch, created_at, updated_at, closed_at FROM tickets`
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conds = append(conds, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tickets []*models.Ticket
	for rows.Next() {
		t := &models.Ticket{}
		var status, priority string
		var closedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.PRD, &status, &priority, &t.Branch,
			&t.CreatedAt, &t.UpdatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		t.Status = models.TicketStatus(status)
		t.Priority = models.TicketPriority(priority)
		if closedAt.Valid {
			t.ClosedAt = &closedAt.Time
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	t.UpdatedAt = time.Now().UTC()
	var closedAt any
	if t.ClosedAt != nil {
		closedAt = *t.ClosedAt
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET title=?, description=?, prd=?, status=?, priority=?, branch=?, updated_at=?, closed_at=?
		WHERE id=?`,
		t.Title, t.Description, t.PRD, string(t.Status), string(t.Priority), t.Branch, t.UpdatedAt, closedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket not found: %s", t.ID)
	}
	return nil
}

func (s *SQLiteStore) UpdateTicketStatus(ctx context.Context, id string, status models.TicketStatus) error {
	now := time.Now().UTC()
	var closedAt any
	if status == models.TicketStatusDone {
		closedAt = now
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET status=?, updated_at=?, closed_at=? WHERE id=?`,
		string(status), now, closedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteTicket(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tickets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket not found: %s", id)
	}
	return nil
}

// --- Messages ---

func (s *SQLiteStore) AppendMessage(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = newULID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, ticket_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.TicketID, string(m.Sender), m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, ticketID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticket_id, sender, content, created_at FROM messages
		WHERE ticket_id = ? ORDER BY created_at, id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var sender string
		if err := rows.Scan(&m.ID, &m.TicketID, &sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = models.Sender(sender)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
