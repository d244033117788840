// Package errors wraps errors with a component, a category and free-form
// context so they can be grouped in logs and, when enabled, reported to
// Sentry. It also re-exports the standard library helpers so callers only
// need one errors import.
package errors

import (
	"maps"
	"strings"
	"sync"
	"time"
)

// ErrorCategory groups errors by kind.
type ErrorCategory string

// CategorizedError is implemented by typed errors that know their category.
// Build uses it when no category was set explicitly.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryCapture          ErrorCategory = "camera-capture"
	CategoryCaptureLoss      ErrorCategory = "capture-loss"
	CategoryDevice           ErrorCategory = "camera-device"
	CategoryConfiguration    ErrorCategory = "configuration"
	CategorySharedBuffer     ErrorCategory = "shared-buffer"
	CategorySimulator        ErrorCategory = "simulator"
	CategoryPose             ErrorCategory = "pose-estimation"
	CategoryRecording        ErrorCategory = "recording"
	CategoryValidation       ErrorCategory = "validation"
	CategoryFileIO           ErrorCategory = "file-io"
	CategoryFileParsing      ErrorCategory = "file-parsing"
	CategorySystem           ErrorCategory = "system-resource"
	CategoryState            ErrorCategory = "state"
	CategoryTimeout          ErrorCategory = "timeout"
	CategoryCommandExecution ErrorCategory = "command-execution"
	CategoryGeneric          ErrorCategory = "generic"
)

// Priorities accepted by ErrorBuilder.Priority.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError is an error annotated by ErrorBuilder.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Priority  string
	Timestamp time.Time

	component string
	context   map[string]any

	mu       sync.Mutex
	reported bool
}

func (ee *EnhancedError) Error() string {
	if ee.Err == nil {
		return string(ee.Category)
	}
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError of the same category, or anything the
// wrapped error matches.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// GetComponent returns the component that raised the error.
func (ee *EnhancedError) GetComponent() string {
	return ee.component
}

// GetCategory returns the category as a string.
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetPriority returns the explicit priority, or "" when none was set.
func (ee *EnhancedError) GetPriority() string {
	return ee.Priority
}

// GetContext returns a copy of the context values.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.context == nil {
		return nil
	}
	return maps.Clone(ee.context)
}

// markReported returns false if the error was already reported.
func (ee *EnhancedError) markReported() bool {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	if ee.reported {
		return false
	}
	ee.reported = true
	return true
}

// inferCategory picks a category for errors built without one.
func inferCategory(err error) ErrorCategory {
	if err == nil {
		return CategoryGeneric
	}

	var typed CategorizedError
	if As(err, &typed) {
		return typed.ErrorCategory()
	}
	var ee *EnhancedError
	if As(err, &ee) && ee.Category != "" {
		return ee.Category
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return CategoryTimeout
	case strings.Contains(msg, "mismatch"), strings.Contains(msg, "invalid"):
		return CategoryValidation
	}
	return CategoryGeneric
}
