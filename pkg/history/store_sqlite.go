package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLedger persists turns so exports survive restarts.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger creates/opens the ledger database at path.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process ledger. Use one shared connection to avoid writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ledger := &SQLiteLedger{db: db}
	if err := ledger.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ledger, nil
}

func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *SQLiteLedger) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS turns_user_idx ON turns(user_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("init ledger schema: %w", err)
		}
	}
	return nil
}

func (l *SQLiteLedger) Append(user string, speaker Speaker, text string) error {
	_, err := l.db.Exec(
		`INSERT INTO turns (user_id, speaker, content, created_at_ms) VALUES (?, ?, ?, ?)`,
		user, string(speaker), text, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) ReadAll(user string) ([]ChatTurn, error) {
	rows, err := l.db.Query(
		`SELECT speaker, content FROM turns WHERE user_id = ? ORDER BY id`,
		user,
	)
	if err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	defer rows.Close()

	var turns []ChatTurn
	for rows.Next() {
		var speaker, content string
		if err := rows.Scan(&speaker, &content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, ChatTurn{Speaker: Speaker(speaker), Text: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	if turns == nil {
		turns = []ChatTurn{}
	}
	return turns, nil
}

func (l *SQLiteLedger) HasHistory(user string) (bool, error) {
	var one int
	err := l.db.QueryRow(`SELECT 1 FROM turns WHERE user_id = ? LIMIT 1`, user).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return true, nil
}
