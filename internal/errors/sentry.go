package errors

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter receives every EnhancedError once, from Build.
type Reporter interface {
	ReportError(ee *EnhancedError)
}

type reporterBox struct{ r Reporter }

var reporter atomic.Pointer[reporterBox]

// SetTelemetryReporter installs r. nil disables reporting.
func SetTelemetryReporter(r Reporter) {
	if r == nil {
		reporter.Store(nil)
		return
	}
	reporter.Store(&reporterBox{r: r})
}

func currentReporter() Reporter {
	if b := reporter.Load(); b != nil {
		return b.r
	}
	return nil
}

// InitSentry initializes the Sentry SDK and installs it as the reporter.
// An empty DSN leaves reporting off.
func InitSentry(dsn, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "tricam@" + release,
		AttachStacktrace: false,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.User = sentry.User{}
			event.ServerName = ""
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	SetTelemetryReporter(sentryReporter{})
	return nil
}

// FlushTelemetry waits up to timeout for queued events to be sent.
func FlushTelemetry(timeout time.Duration) {
	if _, ok := currentReporter().(sentryReporter); ok {
		sentry.Flush(timeout)
	}
}

type sentryReporter struct{}

func (sentryReporter) ReportError(ee *EnhancedError) {
	msg := scrub(ee.Error())
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		for k, v := range ee.GetContext() {
			if s, ok := v.(string); ok {
				v = scrub(s)
			}
			scope.SetContext(k, map[string]any{"value": v})
		}
		scope.SetFingerprint([]string{ee.GetComponent(), string(ee.Category), fmt.Sprintf("%T", ee.Err)})

		event := sentry.NewEvent()
		event.Level = levelFor(ee.Category)
		event.Message = msg
		event.Exception = []sentry.Exception{{Type: eventTitle(ee), Value: msg}}
		sentry.CaptureEvent(event)
	})
}

// eventTitle is "<component> <category>", e.g. "coordinator capture-loss".
func eventTitle(ee *EnhancedError) string {
	if c := ee.GetComponent(); c != ComponentUnknown {
		return c + " " + string(ee.Category)
	}
	return string(ee.Category)
}

func levelFor(c ErrorCategory) sentry.Level {
	switch c {
	case CategoryCaptureLoss:
		return sentry.LevelFatal
	case CategoryCapture, CategoryTimeout, CategoryPose:
		// the coordinator recovers by reusing the last frame
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var scrubbers = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(https?://[^?\s]+)\?\S*`), "$1?[REDACTED]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|auth)[=:]\S+`), "$1=[REDACTED]"},
	{regexp.MustCompile(`(?i)serial[_-]?(number)?[=:]\S+`), "serial=[REDACTED]"},
	{regexp.MustCompile(`[0-9a-fA-F]{32,}`), "[REDACTED]"},
}

// scrub removes query strings, credentials and camera serial numbers from
// text sent off the host.
func scrub(s string) string {
	for _, sc := range scrubbers {
		s = sc.re.ReplaceAllString(s, sc.repl)
	}
	return s
}
