// Package errs defines the closed error taxonomy of the archive core.
// Every error surfaced by the public API is (or wraps) one of these types;
// callers discriminate with errors.As.
package errs

import "fmt"

// ConfigError indicates invalid or missing configuration, or an extension
// that could not be resolved.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// SchemaError indicates an invalid namespace definition or field reference.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string { return e.Message }

// ExpressionError indicates a lex, parse, type, or parameter failure in the
// query language. Pos is the 1-based character offset when known, 0 otherwise.
type ExpressionError struct {
	Pos     int
	Message string
}

func (e *ExpressionError) Error() string {
	if e.Pos > 0 {
		return fmt.Sprintf("char %d: %s", e.Pos, e.Message)
	}
	return e.Message
}

// ConflictError indicates a unique-constraint violation in the catalogue
// (uuid, product_type+product_name, or archive_path+physical_name).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// NotFoundError indicates a lookup by UUID, name, or properties yielded
// nothing.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// StateError indicates an operation refused because of the product's current
// state (inactive without force, strip without archive_path, attach with
// bytes already present).
type StateError struct {
	Message string
}

func (e *StateError) Error() string { return e.Message }

// StorageError indicates a storage backend I/O failure, a hash mismatch on
// verify, or a remote fetch failure. AnythingStored reports whether bytes may
// have been (partially) written before the failure.
type StorageError struct {
	Message        string
	AnythingStored bool
	Err            error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	}
	return e.Message
}

func (e *StorageError) Unwrap() error { return e.Err }

// BackendError indicates a database-level failure not modelled by the other
// types.
type BackendError struct {
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	}
	return e.Message
}

func (e *BackendError) Unwrap() error { return e.Err }

// PluginError indicates a plug-in failed, returned incompatible data, or was
// missing a mandatory attribute. Foreign panics escaping a plug-in are
// converted to PluginError by the orchestrator.
type PluginError struct {
	Message string
	Err     error
}

func (e *PluginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	}
	return e.Message
}

func (e *PluginError) Unwrap() error { return e.Err }

// Config, Schema, Expression, Conflict, NotFound, State, Storage, Backend,
// and Plugin build taxonomy errors with Sprintf formatting.

func Config(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

func Schema(format string, args ...any) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}

func Expression(pos int, format string, args ...any) *ExpressionError {
	return &ExpressionError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

func State(format string, args ...any) *StateError {
	return &StateError{Message: fmt.Sprintf(format, args...)}
}

func Storage(err error, format string, args ...any) *StorageError {
	return &StorageError{Message: fmt.Sprintf(format, args...), Err: err}
}

func Backend(err error, format string, args ...any) *BackendError {
	return &BackendError{Message: fmt.Sprintf(format, args...), Err: err}
}

func Plugin(err error, format string, args ...any) *PluginError {
	return &PluginError{Message: fmt.Sprintf(format, args...), Err: err}
}
