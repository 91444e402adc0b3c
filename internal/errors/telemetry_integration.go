// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	globalTelemetryReporter atomic.Pointer[TelemetryReporter]
	hasActiveReporting      atomic.Bool
)

// SetTelemetryReporter sets the global telemetry reporter. Nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	if reporter == nil {
		globalTelemetryReporter.Store(nil)
		hasActiveReporting.Store(false)
		return
	}
	globalTelemetryReporter.Store(&reporter)
	hasActiveReporting.Store(reporter.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	ptr := globalTelemetryReporter.Load()
	if ptr == nil || *ptr == nil {
		return
	}
	if reporter := *ptr; reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// InitSentry initializes the Sentry client and installs a SentryReporter.
// An empty DSN leaves telemetry disabled.
func InitSentry(dsn, release string) (*SentryReporter, error) {
	if dsn == "" {
		return &SentryReporter{}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		AttachStacktrace: false,
		SendDefaultPII:   false,
	}); err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	reporter := &SentryReporter{enabled: true}
	SetTelemetryReporter(reporter)
	return reporter, nil
}

// FlushSentry waits for queued events to be sent
func FlushSentry(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr != nil && sr.enabled
}

// ReportError reports an enhanced error to Sentry. Alias text and paths
// are never sent; only the category, component and scrubbed message.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.IsEnabled() || ee.IsReported() {
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		scope.SetLevel(sentryLevel(ee.Category))
		scope.SetFingerprint([]string{ee.Component, string(ee.Category)})
		if op, ok := ee.GetContext()["operation"].(string); ok {
			scope.SetTag("operation", op)
		}

		event := sentry.NewEvent()
		event.Message = message
		event.Level = sentryLevel(ee.Category)
		event.Exception = []sentry.Exception{{
			Type:  fmt.Sprintf("%s %s", ee.Component, ee.Category),
			Value: message,
		}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

func sentryLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryCorruptData, CategoryStorage, CategoryConfiguration, CategoryDatabase:
		return sentry.LevelError
	case CategoryValidation, CategoryConflict, CategoryNotFound:
		return sentry.LevelInfo
	default:
		return sentry.LevelWarning
	}
}

var (
	quotedRegex = regexp.MustCompile(`"[^"]*"`)
	pathRegex   = regexp.MustCompile(`(?:[A-Za-z]:)?(?:[/\\][^\s/\\:]+)+`)
)

// scrubMessage removes quoted user text (aliases) and filesystem paths
func scrubMessage(message string) string {
	scrubbed := quotedRegex.ReplaceAllString(message, `"[REDACTED]"`)
	return pathRegex.ReplaceAllString(scrubbed, "[PATH]")
}
