// ABOUTME: Routes request frames to entry and SQL operations
// ABOUTME: Each handler decodes its payload and returns a result or an error

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/haushaltbuch/moneypilot/internal/entries"
	"github.com/haushaltbuch/moneypilot/internal/storage"
)

// handlerFunc serves one request type. The returned value becomes the
// payload of the Result frame.
type handlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Router dispatches requests by message type.
type Router struct {
	backend  storage.Backend
	entries  *entries.Store
	handlers map[string]handlerFunc
}

// NewRouter creates a Router serving requests from backend.
func NewRouter(backend storage.Backend, store *entries.Store) *Router {
	r := &Router{
		backend: backend,
		entries: store,
	}
	r.handlers = map[string]handlerFunc{
		TypeEcho:        r.handleEcho,
		TypeStore:       r.handleStore,
		TypeStoreMany:   r.handleStoreMany,
		TypeFetch:       r.handleFetch,
		TypeDelete:      r.handleDelete,
		TypeList:        r.handleList,
		TypeQuery:       r.handleQuery,
		TypeExecute:     r.handleExecute,
		TypeTransaction: r.handleTransaction,
		TypeTables:      r.handleTables,
	}
	return r
}

// Types returns the supported request types.
func (r *Router) Types() []string {
	return lo.Keys(r.handlers)
}

// Dispatch runs the handler for msgType.
func (r *Router) Dispatch(ctx context.Context, msgType string, payload json.RawMessage) (any, error) {
	h, ok := r.handlers[msgType]
	if !ok {
		return nil, &requestError{code: CodeUnsupportedOperation, message: fmt.Sprintf("unsupported message type %q", msgType)}
	}
	return h(ctx, payload)
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return invalidRequest("payload is required")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return invalidRequest("invalid payload: " + err.Error())
	}
	return nil
}

func (r *Router) handleEcho(_ context.Context, payload json.RawMessage) (any, error) {
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	return payload, nil
}

func (r *Router) handleStore(ctx context.Context, payload json.RawMessage) (any, error) {
	var p storePayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if len(p.Value) == 0 {
		return nil, invalidRequest("value is required")
	}
	if err := r.entries.Put(ctx, p.Key, p.Value); err != nil {
		return nil, err
	}
	return storeResult{Key: p.Key, Stored: true}, nil
}

func (r *Router) handleStoreMany(ctx context.Context, payload json.RawMessage) (any, error) {
	var p storeManyPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if len(p.Entries) == 0 {
		return nil, invalidRequest("entries is required")
	}
	if err := r.entries.PutMany(ctx, p.Entries); err != nil {
		return nil, err
	}
	return storeManyResult{Stored: len(p.Entries)}, nil
}

func (r *Router) handleFetch(ctx context.Context, payload json.RawMessage) (any, error) {
	var p keyPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	value, err := r.entries.Get(ctx, p.Key)
	if err != nil {
		return nil, err
	}
	return fetchResult{Key: p.Key, Value: value}, nil
}

func (r *Router) handleDelete(ctx context.Context, payload json.RawMessage) (any, error) {
	var p keyPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	deleted, err := r.entries.Delete(ctx, p.Key)
	if err != nil {
		return nil, err
	}
	return deleteResult{Key: p.Key, Deleted: deleted}, nil
}

func (r *Router) handleList(ctx context.Context, payload json.RawMessage) (any, error) {
	var p listPayload
	if len(payload) > 0 {
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
	}
	list, err := r.entries.List(ctx, p.Prefix)
	if err != nil {
		return nil, err
	}
	return listResult{Entries: list}, nil
}

func (r *Router) handleQuery(ctx context.Context, payload json.RawMessage) (any, error) {
	var p statementPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.SQL) == "" {
		return nil, invalidRequest("sql is required")
	}
	rs, err := r.backend.Query(ctx, p.statement())
	if err != nil {
		return nil, err
	}
	return queryResult{Columns: rs.Columns, Rows: rs.Rows}, nil
}

func (r *Router) handleExecute(ctx context.Context, payload json.RawMessage) (any, error) {
	var p statementPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.SQL) == "" {
		return nil, invalidRequest("sql is required")
	}
	n, err := r.backend.Exec(ctx, p.statement())
	if err != nil {
		return nil, err
	}
	return executeResult{Affected: n}, nil
}

func (r *Router) handleTransaction(ctx context.Context, payload json.RawMessage) (any, error) {
	var p transactionPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if len(p.Statements) == 0 {
		return nil, invalidRequest("statements is required")
	}
	for i, s := range p.Statements {
		if strings.TrimSpace(s.SQL) == "" {
			return nil, invalidRequest(fmt.Sprintf("statement %d: sql is required", i))
		}
	}

	affected := make([]int64, 0, len(p.Statements))
	err := storage.WithTx(ctx, r.backend, func(tx storage.Tx) error {
		for _, s := range p.Statements {
			n, err := tx.Exec(ctx, s.statement())
			if err != nil {
				return err
			}
			affected = append(affected, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transactionResult{Affected: affected}, nil
}

func (r *Router) handleTables(ctx context.Context, _ json.RawMessage) (any, error) {
	rs, err := r.backend.Query(ctx, storage.Statement{SQL: r.backend.Dialect().ListTables})
	if err != nil {
		return nil, err
	}
	tables := lo.FilterMap(rs.Rows, func(row []any, _ int) (string, bool) {
		name, ok := row[0].(string)
		return name, ok
	})
	return tablesResult{Tables: tables}, nil
}
