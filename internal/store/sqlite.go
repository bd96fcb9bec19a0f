package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/xrev/internal/models"

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

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors.
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

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.ReviewSession) error {
	if session.ID == "" {
		session.ID = newULID()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}

	filesJSON, err := json.Marshal(session.Files)
	if err != nil {
		filesJSON = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, directory, files, target_score, max_iterations, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Directory, string(filesJSON),
		session.TargetScore, session.MaxIterations,
		string(session.State), session.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.ReviewSession, error) {
	session := &models.ReviewSession{}
	var state, filesJSON string
	var endedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, directory, files, target_score, max_iterations, state, started_at, ended_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.Directory, &filesJSON,
		&session.TargetScore, &session.MaxIterations,
		&state, &session.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	session.State = models.SessionState(state)
	_ = json.Unmarshal([]byte(filesJSON), &session.Files)
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}

	// Load history
	iterations, err := s.ListIterations(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	session.Iterations = iterations

	return session, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*models.ReviewSession, error) {
	query := `SELECT id, directory, files, target_score, max_iterations, state, started_at, ended_at
		FROM sessions`
	var args []any

	if filter.State != "" {
		query += " WHERE state = ?"
		args = append(args, string(filter.State))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.ReviewSession
	for rows.Next() {
		session := &models.ReviewSession{}
		var state, filesJSON string
		var endedAt sql.NullTime

		if err := rows.Scan(&session.ID, &session.Directory, &filesJSON,
			&session.TargetScore, &session.MaxIterations,
			&state, &session.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		session.State = models.SessionState(state)
		_ = json.Unmarshal([]byte(filesJSON), &session.Files)
		if endedAt.Valid {
			session.EndedAt = &endedAt.Time
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) FinishSession(ctx context.Context, session *models.ReviewSession) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state=?, ended_at=? WHERE id=?`,
		string(session.State), session.EndedAt, session.ID,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %s", session.ID)
	}
	return nil
}

// --- Iterations ---

func (s *SQLiteStore) AppendIteration(ctx context.Context, sessionID string, rec *models.IterationRecord) error {
	if rec.ID == "" {
		rec.ID = newULID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	scoresJSON, err := json.Marshal(rec.Scores)
	if err != nil {
		scoresJSON = []byte("{}")
	}
	consensusJSON, err := json.Marshal(rec.Consensus)
	if err != nil {
		consensusJSON = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO iterations (id, session_id, idx, scores, average_score, contributors, consensus, repairs_attempted, repairs_applied, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, sessionID, rec.Index,
		string(scoresJSON), rec.AverageScore, rec.Contributors,
		string(consensusJSON), rec.RepairsTried, rec.RepairsOK,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append iteration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListIterations(ctx context.Context, sessionID string) ([]models.IterationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, idx, scores, average_score, contributors, consensus, repairs_attempted, repairs_applied, created_at
		FROM iterations WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []models.IterationRecord
	for rows.Next() {
		var rec models.IterationRecord
		var scoresJSON, consensusJSON string

		if err := rows.Scan(&rec.ID, &rec.Index,
			&scoresJSON, &rec.AverageScore, &rec.Contributors,
			&consensusJSON, &rec.RepairsTried, &rec.RepairsOK,
			&rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}

		_ = json.Unmarshal([]byte(scoresJSON), &rec.Scores)
		_ = json.Unmarshal([]byte(consensusJSON), &rec.Consensus)
		records = append(records, rec)
	}
	return records, rows.Err()
}
