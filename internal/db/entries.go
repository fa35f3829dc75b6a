package db

import (
	"database/sql"
	"fmt"
	"time"
)

// EntryRow is a sealed credential as stored in a backup archive. The
// password stays encrypted under the vault's session key.
type EntryRow struct {
	ID         string
	Service    string
	Username   string
	Nonce      []byte
	Ciphertext []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// InsertEntries stores rows in a single transaction.
func InsertEntries(d *DB, rows []EntryRow) error {
	if d == nil || d.sql == nil {
		return fmt.Errorf("database handle is nil")
	}

	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO entries (id, service, username, nonce, ciphertext, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(
			r.ID,
			r.Service,
			r.Username,
			r.Nonce,
			r.Ciphertext,
			r.CreatedAt.UTC().Format(time.RFC3339Nano),
			r.UpdatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert entry %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// ListEntries returns every row ordered by service and username.
func ListEntries(d *DB) ([]EntryRow, error) {
	if d == nil || d.sql == nil {
		return nil, fmt.Errorf("database handle is nil")
	}

	rows, err := d.sql.Query(
		`SELECT id, service, username, nonce, ciphertext, created_at, updated_at
		 FROM entries
		 ORDER BY service, username`,
	)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var results []EntryRow
	for rows.Next() {
		var (
			r                EntryRow
			created, updated string
		)
		if err := rows.Scan(
			&r.ID,
			&r.Service,
			&r.Username,
			&r.Nonce,
			&r.Ciphertext,
			&created,
			&updated,
		); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("entry %s: created_at: %w", r.ID, err)
		}
		if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("entry %s: updated_at: %w", r.ID, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry rows: %w", err)
	}

	return results, nil
}

// SetMeta stores or replaces a metadata value.
func SetMeta(d *DB, key string, value []byte) error {
	if d == nil || d.sql == nil {
		return fmt.Errorf("database handle is nil")
	}
	_, err := d.sql.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// GetMeta returns a metadata value. It returns sql.ErrNoRows if key is unset.
func GetMeta(d *DB, key string) ([]byte, error) {
	if d == nil || d.sql == nil {
		return nil, fmt.Errorf("database handle is nil")
	}

	var value []byte
	err := d.sql.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}
