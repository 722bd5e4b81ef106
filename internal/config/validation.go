package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

var permissionsPattern = regexp.MustCompile(`^0[0-7]{3}$`)

// paramNamePattern matches query parameter names the cleaner can match.
var paramNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for i := range e {
		msgs = append(msgs, e[i].Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the invalid fields.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, v := range e {
		fields = append(fields, v.Field)
	}
	return fields
}

// ValidateConfig checks every section and returns ValidationErrors, or
// nil when the configuration is usable.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors
	errs = append(errs, validateMonitor(&c.Monitor)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validateStore(&c.Store)...)
	errs = append(errs, validateWeb(&c.Web)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateSync(&c.Sync)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateMonitor(m *MonitorConfig) ValidationErrors {
	var errs ValidationErrors

	if m.IntervalMs < 50 {
		errs = append(errs, ValidationError{
			Field:   "monitor.interval_ms",
			Message: "interval must be at least 50ms",
		})
	}
	if m.MaxBytes < 1 {
		errs = append(errs, ValidationError{
			Field:   "monitor.max_bytes",
			Message: "max bytes must be positive",
		})
	}
	for _, p := range m.ExtraParams {
		if !paramNamePattern.MatchString(p) {
			errs = append(errs, ValidationError{
				Field:   "monitor.extra_params",
				Message: fmt.Sprintf("invalid parameter name: %q", p),
			})
		}
	}
	for _, p := range m.ExtraPrefixes {
		if !paramNamePattern.MatchString(p) {
			errs = append(errs, ValidationError{
				Field:   "monitor.extra_prefixes",
				Message: fmt.Sprintf("invalid parameter prefix: %q", p),
			})
		}
	}
	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !i.Enabled {
		return errs
	}

	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "socket path is required when IPC is enabled",
		})
	}
	if i.Permissions != "" && !permissionsPattern.MatchString(i.Permissions) {
		errs = append(errs, ValidationError{
			Field:   "ipc.permissions",
			Message: fmt.Sprintf("invalid permissions format: %s (expected octal like 0600)", i.Permissions),
		})
	}
	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "max connections must be at least 1",
		})
	}
	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}
	return errs
}

func validateStore(s *StoreConfig) ValidationErrors {
	var errs ValidationErrors
	if s.Path != "" && s.Retain < 0 {
		errs = append(errs, ValidationError{
			Field:   "store.retain",
			Message: "retain cannot be negative",
		})
	}
	return errs
}

func validateWeb(w *WebConfig) ValidationErrors {
	var errs ValidationErrors

	if !w.Enabled {
		return errs
	}

	if _, _, err := net.SplitHostPort(w.Listen); err != nil {
		errs = append(errs, ValidationError{
			Field:   "web.listen",
			Message: fmt.Sprintf("invalid listen address %q: %v", w.Listen, err),
		})
	}
	if w.MaxBodyBytes < 1 {
		errs = append(errs, ValidationError{
			Field:   "web.max_body_bytes",
			Message: "max body bytes must be positive",
		})
	}
	if w.RateLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "web.rate_limit",
			Message: "rate limit must not be negative",
		})
	}
	if w.RateLimit > 0 && w.RateBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "web.rate_burst",
			Message: "rate burst must be at least 1 when rate limiting is on",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file)", l.Output),
		})
	}

	if l.Output == "file" && l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	return errs
}

func validateSync(s *SyncConfig) ValidationErrors {
	var errs ValidationErrors
	check := func(field string, v int) {
		if v < 1 {
			errs = append(errs, ValidationError{
				Field:   "sync." + field,
				Message: "must be positive",
			})
		}
	}
	check("copy_feedback_ms", s.CopyFeedbackMs)
	check("notice_ms", s.NoticeMs)
	check("poll_interval_ms", s.PollIntervalMs)
	return errs
}
