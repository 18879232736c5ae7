// ABOUTME: db_cfg tagged union selecting the file or network storage backend
// ABOUTME: Strict shape validation: exactly one known variant, no foreign keys

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// ErrInvalidShape is returned when db_cfg is missing or does not match exactly
// one supported backend shape.
var ErrInvalidShape = errors.New("invalid db_cfg shape")

// ErrUnreadable is returned when the configuration file cannot be read or decoded.
var ErrUnreadable = errors.New("unreadable configuration")

// MemoryPath selects a private in-memory database for the file backend.
const MemoryPath = ":memory:"

// DefaultMySQLPort is appended to a network host without an explicit port.
const DefaultMySQLPort = "3306"

// BackendKind names a storage backend variant.
type BackendKind string

// Supported backend kinds
const (
	KindFile    BackendKind = "file"
	KindNetwork BackendKind = "network"
)

// Config keys of the two db_cfg shapes.
const (
	keyFile     = "file"
	keyHost     = "host"
	keyDB       = "db"
	keyUser     = "user"
	keyPassword = "password"
)

var networkKeys = []string{keyHost, keyDB, keyUser, keyPassword}

// FileBackendConfig selects the embedded file database.
type FileBackendConfig struct {
	// FilePath is absolute, or ":memory:".
	FilePath string
}

// NetworkBackendConfig selects the client-server SQL database.
type NetworkBackendConfig struct {
	Host     string // host or host:port
	Database string
	User     string
	Password string
}

// Addr returns host:port, defaulting the port to 3306.
func (c NetworkBackendConfig) Addr() string {
	if _, _, err := net.SplitHostPort(c.Host); err == nil {
		return c.Host
	}
	return net.JoinHostPort(c.Host, DefaultMySQLPort)
}

// String hides the password.
func (c NetworkBackendConfig) String() string {
	return fmt.Sprintf("%s@%s/%s", c.User, c.Addr(), c.Database)
}

// DBConfig is the parsed db_cfg. Exactly one of File and Network is set.
type DBConfig struct {
	File    *FileBackendConfig
	Network *NetworkBackendConfig
}

// Kind reports the selected variant, or "" when the union is invalid.
func (c DBConfig) Kind() BackendKind {
	switch {
	case c.File != nil && c.Network == nil:
		return KindFile
	case c.Network != nil && c.File == nil:
		return KindNetwork
	default:
		return ""
	}
}

// Validate checks the union invariant.
func (c DBConfig) Validate() error {
	if c.Kind() == "" {
		return fmt.Errorf("%w: exactly one backend must be configured", ErrInvalidShape)
	}
	return nil
}

// ParseDB extracts and validates db_cfg from the JSON content of configuration.json.
// Other top-level keys are ignored.
func ParseDB(data []byte) (DBConfig, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return DBConfig{}, fmt.Errorf("%w: decoding json: %v", ErrUnreadable, err)
	}

	raw, ok := top["db_cfg"]
	if !ok {
		return DBConfig{}, fmt.Errorf("%w: db_cfg is missing", ErrInvalidShape)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return DBConfig{}, fmt.Errorf("%w: db_cfg must be an object", ErrInvalidShape)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return DBConfig{}, fmt.Errorf("%w: db_cfg: %v", ErrInvalidShape, err)
	}

	return parseShape(fields)
}

func parseShape(fields map[string]json.RawMessage) (DBConfig, error) {
	keys := lo.Keys(fields)
	slices.Sort(keys)

	unknown := lo.Filter(keys, func(k string, _ int) bool {
		return k != keyFile && !slices.Contains(networkKeys, k)
	})
	if len(unknown) > 0 {
		return DBConfig{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidShape, strings.Join(unknown, ", "))
	}

	_, hasFile := fields[keyFile]
	presentNetwork := lo.Filter(networkKeys, func(k string, _ int) bool {
		_, ok := fields[k]
		return ok
	})

	switch {
	case hasFile && len(presentNetwork) > 0:
		return DBConfig{}, fmt.Errorf("%w: both file and network keys present", ErrInvalidShape)
	case hasFile:
		return parseFileShape(fields)
	case len(presentNetwork) > 0:
		return parseNetworkShape(fields)
	default:
		return DBConfig{}, fmt.Errorf("%w: db_cfg is empty", ErrInvalidShape)
	}
}

func parseFileShape(fields map[string]json.RawMessage) (DBConfig, error) {
	path, err := stringField(fields, keyFile)
	if err != nil {
		return DBConfig{}, err
	}
	if strings.TrimSpace(path) == "" {
		return DBConfig{}, fmt.Errorf("%w: file must not be empty", ErrInvalidShape)
	}

	if path != MemoryPath {
		abs, err := filepath.Abs(path)
		if err != nil {
			return DBConfig{}, fmt.Errorf("resolving database path %q: %w", path, err)
		}
		path = abs
	}

	return DBConfig{File: &FileBackendConfig{FilePath: path}}, nil
}

func parseNetworkShape(fields map[string]json.RawMessage) (DBConfig, error) {
	missing := lo.Filter(networkKeys, func(k string, _ int) bool {
		_, ok := fields[k]
		return !ok
	})
	if len(missing) > 0 {
		return DBConfig{}, fmt.Errorf("%w: network backend is missing %s", ErrInvalidShape, strings.Join(missing, ", "))
	}

	values := make(map[string]string, len(networkKeys))
	for _, k := range networkKeys {
		v, err := stringField(fields, k)
		if err != nil {
			return DBConfig{}, err
		}
		if k != keyPassword && strings.TrimSpace(v) == "" {
			return DBConfig{}, fmt.Errorf("%w: %s must not be empty", ErrInvalidShape, k)
		}
		values[k] = v
	}

	return DBConfig{Network: &NetworkBackendConfig{
		Host:     values[keyHost],
		Database: values[keyDB],
		User:     values[keyUser],
		Password: values[keyPassword],
	}}, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	var v *string
	if err := json.Unmarshal(fields[key], &v); err != nil || v == nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidShape, key)
	}
	return expandEnvVars(*v), nil
}
