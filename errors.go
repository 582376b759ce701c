package statesync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrKeyCollision reports two slices resolving to the same storage key.
	ErrKeyCollision = errors.New("statesync: storage key collision")
	// ErrInvalidKey reports an empty or malformed slice name.
	ErrInvalidKey = errors.New("statesync: invalid slice key")
	// ErrInvalidMigration reports a malformed migration descriptor.
	ErrInvalidMigration = errors.New("statesync: invalid migration")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("statesync: controller already started")
	// ErrNoEvaluator is returned when an expression engine is unavailable.
	ErrNoEvaluator = errors.New("statesync: evaluator not configured")
)

// ConfigError is fatal and returned before any load begins.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Field == "" {
		return fmt.Sprintf("statesync: config: %v", e.Err)
	}
	return fmt.Sprintf("statesync: config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DeserializeError marks a stored record that could not be decoded. The
// record is treated as absent.
type DeserializeError struct {
	Key string
	Err error
}

func (e *DeserializeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("statesync: deserialize %q: %v", e.Key, e.Err)
}

func (e *DeserializeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MigrationError marks a failed migrate function. Remaining migrations for the
// unit are skipped and the pre-migration value is kept.
type MigrationError struct {
	Unit    string
	Version any
	Key     string
	Err     error
}

func (e *MigrationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	target := e.Unit
	if target == "" {
		target = RootKey
	}
	if e.Key != "" && e.Key != e.Unit {
		target = target + "/" + e.Key
	}
	return fmt.Sprintf("statesync: migrate %s from version %v: %v", target, e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StorageError marks a failed engine read or write.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("statesync: storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// EvaluationError captures evaluator metadata alongside the originating error.
type EvaluationError struct {
	Engine string
	Expr   string
	Unit   string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("statesync: %s evaluator %s unit=%s: %v", e.Engine, describeExpression(e.Expr), e.Unit, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describeExpression(expr string) string {
	if expr == "" {
		return "expr=<empty>"
	}
	return fmt.Sprintf("expr=%q", expr)
}

func wrapEvaluatorError(engine string, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return err
	}

	if strings.HasPrefix(err.Error(), "statesync:") {
		return err
	}
	return fmt.Errorf("statesync: %s evaluator: %w", engine, err)
}

func wrapEvaluationError(engine, expr, unit string, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		if evalErr.Engine == "" {
			evalErr.Engine = engine
		}
		if evalErr.Expr == "" {
			evalErr.Expr = expr
		}
		if evalErr.Unit == "" {
			evalErr.Unit = unit
		}
		return evalErr
	}

	return &EvaluationError{
		Engine: engine,
		Expr:   expr,
		Unit:   unit,
		Err:    err,
	}
}
