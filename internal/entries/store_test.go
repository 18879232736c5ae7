// ABOUTME: Tests for the entry store
// ABOUTME: Runs against a real SQLite file backend

package entries

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haushaltbuch/moneypilot/internal/config"
	"github.com/haushaltbuch/moneypilot/internal/storage"
)

func newTestStore(t *testing.T) (*Store, storage.Backend) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entries.db")
	b := storage.NewFileBackend(config.FileBackendConfig{FilePath: path}, nil)
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { _ = b.Disconnect() })

	s := NewStore(b)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s, b
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	assert.NoError(t, s.EnsureSchema(context.Background()))
}

func TestPutGet_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "balance", json.RawMessage(`100`)))

	got, err := s.Get(ctx, "balance")
	require.NoError(t, err)
	assert.Equal(t, `100`, string(got))
}

func TestPut_StoresCompactJSON(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "budget", json.RawMessage("{\n  \"food\": 250,\n  \"rent\": 900\n}")))

	got, err := s.Get(ctx, "budget")
	require.NoError(t, err)
	assert.Equal(t, `{"food":250,"rent":900}`, string(got))
}

func TestPut_Overwrites(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "balance", json.RawMessage(`100`)))
	require.NoError(t, s.Put(ctx, "balance", json.RawMessage(`"hundred"`)))

	got, err := s.Get(ctx, "balance")
	require.NoError(t, err)
	assert.Equal(t, `"hundred"`, string(got))
}

func TestPut_InvalidInput(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Put(ctx, "", json.RawMessage(`1`)), ErrInvalidKey)
	assert.ErrorIs(t, s.Put(ctx, strings.Repeat("k", MaxKeyLength+1), json.RawMessage(`1`)), ErrInvalidKey)
	assert.ErrorIs(t, s.Put(ctx, "k", json.RawMessage(`{broken`)), ErrInvalidValue)
	assert.ErrorIs(t, s.Put(ctx, "k", nil), ErrInvalidValue)

	assert.NoError(t, s.Put(ctx, strings.Repeat("k", MaxKeyLength), json.RawMessage(`1`)))
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "balance", json.RawMessage(`100`)))

	deleted, err := s.Delete(ctx, "balance")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, "balance")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.Get(ctx, "balance")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_Prefix(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	for key, value := range map[string]string{
		"account:cash":  `100`,
		"account:bank":  `2500`,
		"Account:upper": `1`,
		"account_x":     `3`,
		"budget:food":   `250`,
	} {
		require.NoError(t, s.Put(ctx, key, json.RawMessage(value)))
	}

	list, err := s.List(ctx, "account:")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "account:bank", list[0].Key)
	assert.Equal(t, `2500`, string(list[0].Value))
	assert.Equal(t, "account:cash", list[1].Key)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), list[1].UpdatedAt)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	underscore, err := s.List(ctx, "account_")
	require.NoError(t, err)
	require.Len(t, underscore, 1, "underscore is not a wildcard")
	assert.Equal(t, "account_x", underscore[0].Key)
}

func TestPutMany_AllOrNothing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.PutMany(ctx, map[string]json.RawMessage{
		"a": json.RawMessage(`1`),
		"b": json.RawMessage(`[1, 2]`),
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(got))

	err = s.PutMany(ctx, map[string]json.RawMessage{
		"c": json.RawMessage(`1`),
		"":  json.RawMessage(`2`),
	})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = s.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutMany_RollsBackOnBackendError(t *testing.T) {
	b := storage.NewMockBackend()
	calls := 0
	b.ExecFunc = func(ctx context.Context, stmt storage.Statement) (int64, error) {
		calls++
		if calls == 2 {
			return 0, &storage.Error{Code: storage.CodeConstraintViolation, Op: "exec", Err: errors.New("duplicate")}
		}
		return 1, nil
	}
	s := NewStore(b)

	err := s.PutMany(context.Background(), map[string]json.RawMessage{
		"a": json.RawMessage(`1`),
		"b": json.RawMessage(`2`),
	})
	assert.ErrorIs(t, err, storage.ErrConstraintViolation)
	assert.Equal(t, 1, b.Rollbacks())
	assert.Equal(t, 0, b.Commits())
}

func TestStore_BackendUnavailable(t *testing.T) {
	s, b := newTestStore(t)
	require.NoError(t, b.Disconnect())

	_, err := s.Get(context.Background(), "balance")
	assert.ErrorIs(t, err, storage.ErrConnectionFailed)
}
