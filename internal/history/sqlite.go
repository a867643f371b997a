package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	prompt     TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	author          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_messages_conv_seq ON messages(conversation_id, seq);
`

// openDB opens the snapshot database, creating parent directories and the
// schema as needed.
func openDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	// WAL for crash safety, busy_timeout so a concurrent snapshot blocks
	// instead of failing.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// Persist writes a full snapshot of all conversations to the SQLite file
// at path, replacing any previous snapshot.
func (s *Store) Persist(path string) error {
	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}

	for _, id := range s.Conversations() {
		conv := s.get(id)
		conv.mu.Lock()
		msgs := make([]snapshotMessage, 0, len(conv.messages))
		for i, m := range conv.messages {
			msgs = append(msgs, snapshotMessage{
				seq: i, role: m.Role, content: m.Content, author: m.Name,
			})
		}
		prompt := conv.prompt
		updated := conv.updated
		conv.mu.Unlock()

		if updated.IsZero() {
			updated = time.Now()
		}
		if _, err := tx.Exec(
			`INSERT INTO conversations (id, prompt, updated_at) VALUES (?, ?, ?)`,
			id, prompt, updated,
		); err != nil {
			return fmt.Errorf("save conversation %s: %w", id, err)
		}
		for _, m := range msgs {
			mid, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("generate message id: %w", err)
			}
			if _, err := tx.Exec(
				`INSERT INTO messages (id, conversation_id, seq, role, content, author) VALUES (?, ?, ?, ?, ?, ?)`,
				mid.String(), id, m.seq, m.role, m.content, m.author,
			); err != nil {
				return fmt.Errorf("save message: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	s.logger.Debug("history snapshot saved", "path", path)
	return nil
}

type snapshotMessage struct {
	seq                   int
	role, content, author string
}

// Restore loads a previously persisted snapshot. A missing file is not an
// error; the store simply starts empty. Logs longer than the configured
// maximum are trimmed to the newest entries.
func (s *Store) Restore(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, prompt FROM conversations`)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	type convMeta struct{ id, prompt string }
	var metas []convMeta
	for rows.Next() {
		var m convMeta
		if err := rows.Scan(&m.id, &m.prompt); err != nil {
			rows.Close()
			return fmt.Errorf("scan conversation: %w", err)
		}
		metas = append(metas, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate conversations: %w", err)
	}

	restored := 0
	for _, meta := range metas {
		mrows, err := db.Query(
			`SELECT role, content, author FROM messages WHERE conversation_id = ? ORDER BY seq`,
			meta.id,
		)
		if err != nil {
			return fmt.Errorf("load messages for %s: %w", meta.id, err)
		}
		for mrows.Next() {
			var role, content, author string
			if err := mrows.Scan(&role, &content, &author); err != nil {
				mrows.Close()
				return fmt.Errorf("scan message: %w", err)
			}
			s.Append(meta.id, role, content, author)
			restored++
		}
		mrows.Close()
		if err := mrows.Err(); err != nil {
			return fmt.Errorf("iterate messages: %w", err)
		}
		if meta.prompt != "" {
			s.SetActivePrompt(meta.id, meta.prompt)
		}
	}

	s.logger.Info("history restored", "conversations", len(metas), "messages", restored)
	return nil
}
