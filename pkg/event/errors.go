package event

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrUnbalancedContainer is reported when a container is closed that was
	// never opened. A writer that sees it refuses every later event.
	ErrUnbalancedContainer = errors.New("event: container end without matching start")
	ErrClosed              = errors.New("event: writer is closed")
	ErrNotStarted          = errors.New("event: document not started")
	ErrAlreadyStarted      = errors.New("event: document already started")
)

// ConfigError rejects writer options at construction.
type ConfigError struct {
	Option string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("invalid configuration %s: %s", e.Option, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// RecordError is a failure confined to one record.
type RecordError struct {
	Dataset string
	Index   int
	Err     error
}

func (e *RecordError) Error() string {
	if e.Dataset == "" {
		return fmt.Sprintf("record %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("dataset %s record %d: %v", e.Dataset, e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

type ErrorPolicy int

const (
	// AbortOnError returns the first record error to the caller.
	AbortOnError ErrorPolicy = iota
	// CollectErrors keeps going and reports record errors at the end.
	CollectErrors
)

func (p ErrorPolicy) String() string {
	if p == CollectErrors {
		return "collect"
	}
	return "abort"
}

func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return AbortOnError, nil
	case "collect":
		return CollectErrors, nil
	}
	return AbortOnError, &ConfigError{Option: "record error policy", Reason: fmt.Sprintf("unknown value %q", s)}
}

// Collector applies an ErrorPolicy to the record errors of one writer.
type Collector struct {
	Policy ErrorPolicy
	Logger *zap.Logger
	errs   []*RecordError
}

// Handle returns err under AbortOnError and nil under CollectErrors.
func (c *Collector) Handle(err *RecordError) error {
	if c.Policy == AbortOnError {
		return err
	}
	c.errs = append(c.errs, err)
	if c.Logger != nil {
		c.Logger.Warn("record skipped",
			zap.String("dataset", err.Dataset),
			zap.Int("index", err.Index),
			zap.Error(err.Err))
	}
	return nil
}

func (c *Collector) Errors() []*RecordError {
	out := make([]*RecordError, len(c.errs))
	copy(out, c.errs)
	return out
}
