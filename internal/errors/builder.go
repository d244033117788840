package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorBuilder assembles an EnhancedError.
//
//	return errors.New(err).
//		Component("shmbuf").
//		Category(errors.CategorySharedBuffer).
//		Context("path", path).
//		Build()
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New starts a builder around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts a builder around a formatted error. %w is honoured.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component names the subsystem that raised the error. When omitted, Build
// derives it from the calling package if telemetry is active.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets an explicit priority. Unknown values become PriorityMedium.
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case "":
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	default:
		eb.priority = PriorityMedium
	}
	return eb
}

func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any, 4)
	}
	eb.context[key] = value
	return eb
}

// CameraContext records the camera role and backend. Empty values are skipped.
func (eb *ErrorBuilder) CameraContext(role, backend string) *ErrorBuilder {
	if role != "" {
		eb.Context("camera", role)
	}
	if backend != "" {
		eb.Context("backend", backend)
	}
	return eb
}

// Build returns the error and hands it to the telemetry reporter, if any.
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Priority:  eb.priority,
		Timestamp: time.Now(),
		component: eb.component,
		context:   eb.context,
	}
	if ee.Category == "" {
		ee.Category = inferCategory(eb.err)
	}

	r := currentReporter()
	if ee.component == "" {
		ee.component = ComponentUnknown
		if r != nil {
			// skip runtime.Callers and Build
			ee.component = callerComponent(2)
		}
	}
	if r != nil && ee.markReported() {
		r.ReportError(ee)
	}
	return ee
}

const internalPrefix = "tricam/internal/"

// callerComponent walks the stack for the first function outside this
// package that lives under internal/.
func callerComponent(skip int) string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if c, ok := componentOf(f.Function); ok {
			return c
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// componentOf maps ".../tricam/internal/camera/opencv.(*Driver).Grab" to
// "camera.opencv".
func componentOf(function string) (string, bool) {
	i := strings.Index(function, internalPrefix)
	if i < 0 {
		return "", false
	}
	pkg := function[i+len(internalPrefix):]
	if j := strings.IndexAny(pkg, "(["); j >= 0 {
		pkg = pkg[:j]
	}
	last := strings.LastIndexByte(pkg, '/') + 1
	if dot := strings.IndexByte(pkg[last:], '.'); dot >= 0 {
		pkg = pkg[:last+dot]
	}
	if pkg == "errors" {
		return "", false
	}
	return strings.ReplaceAll(pkg, "/", "."), true
}
