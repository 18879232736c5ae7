// ABOUTME: Key/value entry persistence on top of any storage backend
// ABOUTME: Values are JSON documents stored as compact text

package entries

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/haushaltbuch/moneypilot/internal/storage"
)

// MaxKeyLength is the longest key accepted, in bytes.
const MaxKeyLength = 191

// Common errors
var (
	ErrNotFound     = errors.New("entry not found")
	ErrInvalidKey   = errors.New("invalid entry key")
	ErrInvalidValue = errors.New("entry value is not valid JSON")
)

// Entry is one stored key/value pair.
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store reads and writes entries through a storage.Backend.
type Store struct {
	backend storage.Backend
	now     func() time.Time
}

// NewStore creates a Store over backend.
func NewStore(backend storage.Backend) *Store {
	return &Store{
		backend: backend,
		now:     time.Now,
	}
}

// EnsureSchema creates the entries table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.backend.Exec(ctx, storage.Statement{SQL: s.backend.Dialect().CreateEntriesTable}); err != nil {
		return fmt.Errorf("creating entries table: %w", err)
	}
	return nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value json.RawMessage) error {
	stmt, err := s.upsert(key, value)
	if err != nil {
		return err
	}
	if _, err := s.backend.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("storing %q: %w", key, err)
	}
	return nil
}

// PutMany stores all values in one transaction. Either every entry is
// written or none is.
func (s *Store) PutMany(ctx context.Context, values map[string]json.RawMessage) error {
	keys := lo.Keys(values)
	stmts := make([]storage.Statement, 0, len(keys))
	for _, key := range keys {
		stmt, err := s.upsert(key, values[key])
		if err != nil {
			return err
		}
		stmts = append(stmts, stmt)
	}

	err := storage.WithTx(ctx, s.backend, func(tx storage.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing %d entries: %w", len(stmts), err)
	}
	return nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	rs, err := s.backend.Query(ctx, storage.Statement{
		SQL:  "SELECT entry_value FROM entries WHERE entry_key = ?",
		Args: []any{key},
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", key, err)
	}
	if len(rs.Rows) == 0 {
		return nil, ErrNotFound
	}

	text, err := columnString(rs.Rows[0][0])
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", key, err)
	}
	return json.RawMessage(text), nil
}

// Delete removes key. It reports whether an entry existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	n, err := s.backend.Exec(ctx, storage.Statement{
		SQL:  "DELETE FROM entries WHERE entry_key = ?",
		Args: []any{key},
	})
	if err != nil {
		return false, fmt.Errorf("deleting %q: %w", key, err)
	}
	return n > 0, nil
}

// List returns all entries whose key starts with prefix, ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]Entry, error) {
	rs, err := s.backend.Query(ctx, storage.Statement{
		SQL: `SELECT entry_key, entry_value, updated_at FROM entries
			WHERE entry_key LIKE :pattern ESCAPE '!'
			ORDER BY entry_key`,
		Params: map[string]any{"pattern": likePrefix(prefix)},
	})
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}

	result := make([]Entry, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		key, err := columnString(row[0])
		if err != nil {
			return nil, fmt.Errorf("listing entries: %w", err)
		}
		// LIKE ignores case on both engines.
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		value, err := columnString(row[1])
		if err != nil {
			return nil, fmt.Errorf("listing entries: %w", err)
		}
		updated, _ := columnString(row[2])
		ts, _ := time.Parse(time.RFC3339Nano, updated)

		result = append(result, Entry{Key: key, Value: json.RawMessage(value), UpdatedAt: ts})
	}
	return result, nil
}

// ValidateKey checks that key is non-empty and fits the key column.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key is longer than %d bytes", ErrInvalidKey, MaxKeyLength)
	}
	return nil
}

func (s *Store) upsert(key string, value json.RawMessage) (storage.Statement, error) {
	if err := ValidateKey(key); err != nil {
		return storage.Statement{}, err
	}
	compact, err := compactJSON(value)
	if err != nil {
		return storage.Statement{}, fmt.Errorf("%w: %q: %v", ErrInvalidValue, key, err)
	}
	return storage.Statement{
		SQL:  s.backend.Dialect().UpsertEntry,
		Args: []any{key, compact, s.now().UTC().Format(time.RFC3339Nano)},
	}, nil
}

// likePrefix escapes prefix for a LIKE pattern using ! as the escape character.
func likePrefix(prefix string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(prefix) + "%"
}

func compactJSON(value json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(value)) == 0 {
		return "", errors.New("empty value")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func columnString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	default:
		return "", fmt.Errorf("unexpected column type %T", v)
	}
}
