// Package config handles configuration loading for the moneypilot backend.
//
// # Overview
//
// Configuration comes from two places:
//
//   - the environment, for process settings (port, logging, timeouts)
//   - configuration.json, for the database backend (db_cfg)
//
// Both are read once at startup. The resulting Config is immutable and is
// passed explicitly to the components that need it.
//
// # Configuration File
//
// The file is looked up in the working directory unless MONEYPILOT_CONFIG or
// the --config flag names another path. db_cfg selects exactly one backend:
//
//	{"db_cfg": {"file": "moneypilot.db"}}
//	{"db_cfg": {"host": "db.local", "db": "moneypilot", "user": "mp", "password": "${MONEYPILOT_DB_PASSWORD}"}}
//
// A relative file path is resolved against the process start directory.
// The network host may carry a port (db.local:3307); 3306 is used otherwise.
//
// # Environment Variable Expansion
//
// ${VAR_NAME} inside the file is replaced by the variable's value before parsing.
//
// # Validation
//
// LoadDB fails with ErrInvalidShape when db_cfg is missing, empty, mixes keys
// from both shapes, carries unknown keys, or misses network keys. It fails with
// ErrUnreadable when the file cannot be read or is not JSON.
//
// # Environment Settings
//
//	MONEYPILOT_CONFIG           configuration.json
//	WEBSOCKET_PORT              8765
//	MONEYPILOT_LISTEN_HOST      (all interfaces)
//	MONEYPILOT_LOG_LEVEL        info   (debug, info, warn, error)
//	MONEYPILOT_LOG_FORMAT       text   (text, json)
//	MONEYPILOT_REQUEST_TIMEOUT  10s
//	MONEYPILOT_METRICS          false
package config
