package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/qwery/backend/internal/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_id ON chat_messages(chat_id, id);
`

// SQLiteStore keeps chat messages in a local SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	limit int
}

// OpenSQLite opens (creating if needed) the database at path. limit bounds
// how many entries LoadHistory returns (most recent, oldest first); zero
// means no bound.
func OpenSQLite(path string, limit int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &SQLiteStore{db: db, limit: limit}, nil
}

func (s *SQLiteStore) LoadHistory(ctx context.Context, chatID string) ([]chat.Entry, error) {
	query := `SELECT role, content FROM chat_messages WHERE chat_id = ? ORDER BY id ASC`
	args := []any{chatID}
	if s.limit > 0 {
		// Trailing window: most recent rows, returned oldest first.
		query = `SELECT role, content FROM (
			SELECT id, role, content FROM chat_messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
		args = append(args, s.limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var entries []chat.Entry
	for rows.Next() {
		var e chat.Entry
		if err := rows.Scan(&e.Role, &e.Content); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Append(ctx context.Context, chatID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (chat_id, role, content) VALUES (?, ?, ?)`,
		chatID, role, content)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
