// ABOUTME: Wire frames exchanged with WebSocket clients
// ABOUTME: Defines message types, payloads and the error code mapping

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"

	"github.com/haushaltbuch/moneypilot/internal/entries"
	"github.com/haushaltbuch/moneypilot/internal/storage"
)

// Message types
const (
	TypeHello       = "Hello"
	TypeBye         = "Bye"
	TypeResult      = "Result"
	TypeError       = "Error"
	TypeEcho        = "Echo"
	TypeStore       = "Store"
	TypeStoreMany   = "StoreMany"
	TypeFetch       = "Fetch"
	TypeDelete      = "Delete"
	TypeList        = "List"
	TypeQuery       = "Query"
	TypeExecute     = "Execute"
	TypeTransaction = "Transaction"
	TypeTables      = "Tables"
)

// Error codes sent to clients
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeNotFound             = "NOT_FOUND"
	CodeQueryFailed          = "QUERY_FAILED"
	CodeConstraintViolation  = "CONSTRAINT_VIOLATION"
	CodeTimeout              = "TIMEOUT"
	CodeStoreUnavailable     = "STORE_UNAVAILABLE"
)

// Hello statuses. The entries schema is created before the server starts, so
// the only state left to report is whether the backend answers.
const (
	HelloStatusReady = "ready"
	HelloStatusNoDB  = "noDB"
)

// Frame is one JSON text message in either direction.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Token     string          `json:"token,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *WireError      `json:"error,omitempty"`
}

// WireError is the error object of an Error frame.
type WireError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// HelloPayload is sent once when a client connects.
type HelloPayload struct {
	Token   string `json:"token"`
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

// ByePayload is sent before the server closes a session.
type ByePayload struct {
	Reason string `json:"reason"`
}

type keyPayload struct {
	Key string `json:"key"`
}

type storePayload struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type storeManyPayload struct {
	Entries map[string]json.RawMessage `json:"entries"`
}

type listPayload struct {
	Prefix string `json:"prefix"`
}

type statementPayload struct {
	SQL    string         `json:"sql"`
	Params map[string]any `json:"params,omitempty"`
	Args   []any          `json:"args,omitempty"`
}

func (p statementPayload) statement() storage.Statement {
	stmt := storage.Statement{SQL: p.SQL}
	if len(p.Params) > 0 {
		stmt.Params = make(map[string]any, len(p.Params))
		for k, v := range p.Params {
			stmt.Params[k] = jsonArg(v)
		}
	}
	for _, v := range p.Args {
		stmt.Args = append(stmt.Args, jsonArg(v))
	}
	return stmt
}

// jsonArg turns whole JSON numbers into integers so they bind as INTEGER.
func jsonArg(v any) any {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return v
	}
	return int64(f)
}

type transactionPayload struct {
	Statements []statementPayload `json:"statements"`
}

type storeResult struct {
	Key    string `json:"key"`
	Stored bool   `json:"stored"`
}

type storeManyResult struct {
	Stored int `json:"stored"`
}

type fetchResult struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type deleteResult struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

type listResult struct {
	Entries []entries.Entry `json:"entries"`
}

type queryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

type executeResult struct {
	Affected int64 `json:"affected"`
}

type transactionResult struct {
	Affected []int64 `json:"affected"`
}

type tablesResult struct {
	Tables []string `json:"tables"`
}

// requestError is a failure detected before or instead of a storage call.
type requestError struct {
	code    string
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func invalidRequest(message string) error {
	return &requestError{code: CodeInvalidRequest, message: message}
}

// toWireError maps an error to the code, message and retry hint sent to the client.
func toWireError(err error) *WireError {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return &WireError{Code: reqErr.code, Message: reqErr.message}
	}

	switch {
	case errors.Is(err, entries.ErrNotFound):
		return &WireError{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, entries.ErrInvalidKey), errors.Is(err, entries.ErrInvalidValue):
		return &WireError{Code: CodeInvalidRequest, Message: err.Error()}
	}

	switch storage.CodeOf(err) {
	case storage.CodeConnectionFailed:
		return &WireError{Code: CodeStoreUnavailable, Message: "data store unavailable", Retryable: true}
	case storage.CodeTimeout:
		return &WireError{Code: CodeTimeout, Message: "request timed out", Retryable: true}
	case storage.CodeCanceled:
		return &WireError{Code: CodeTimeout, Message: "request canceled", Retryable: true}
	case storage.CodeConstraintViolation:
		return &WireError{Code: CodeConstraintViolation, Message: err.Error()}
	default:
		return &WireError{Code: CodeQueryFailed, Message: err.Error()}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal websocket frame payload", "error", err)
		return nil
	}
	return b
}
