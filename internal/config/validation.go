package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/godbus/dbus/v5"
)

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
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasField reports whether any error is for field.
func (e ValidationErrors) HasField(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Bus and interface names: dot-separated elements of [A-Za-z0-9_-] that do
// not start with a digit, at least two elements, at most 255 bytes.
var (
	busNamePattern   = regexp.MustCompile(`^[A-Za-z_-][A-Za-z0-9_-]*(\.[A-Za-z_-][A-Za-z0-9_-]*)+$`)
	interfacePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)+$`)
)

const maxNameLen = 255

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateBus(&c.Bus)...)
	errs = append(errs, validateBroker(&c.Broker)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateBus(b *BusConfig) ValidationErrors {
	var errs ValidationErrors

	if !validName(busNamePattern, b.ServiceName) {
		errs = append(errs, ValidationError{
			Field:   "bus.service_name",
			Message: fmt.Sprintf("invalid bus name: %q", b.ServiceName),
		})
	}
	if !dbus.ObjectPath(b.ObjectPath).IsValid() {
		errs = append(errs, ValidationError{
			Field:   "bus.object_path",
			Message: fmt.Sprintf("invalid object path: %q", b.ObjectPath),
		})
	}
	if !validName(interfacePattern, b.Interface) {
		errs = append(errs, ValidationError{
			Field:   "bus.interface",
			Message: fmt.Sprintf("invalid interface name: %q", b.Interface),
		})
	}
	if !validName(interfacePattern, b.ClientInterface) {
		errs = append(errs, ValidationError{
			Field:   "bus.client_interface",
			Message: fmt.Sprintf("invalid interface name: %q", b.ClientInterface),
		})
	}

	return errs
}

func validName(p *regexp.Regexp, name string) bool {
	return len(name) <= maxNameLen && p.MatchString(name)
}

func validateBroker(b *BrokerConfig) ValidationErrors {
	var errs ValidationErrors

	if b.QueryTimeoutMs < 1 || b.QueryTimeoutMs > 60000 {
		errs = append(errs, ValidationError{
			Field:   "broker.query_timeout_ms",
			Message: "must be between 1 and 60000",
		})
	}
	if b.PingTimeoutMs < 1 || b.PingTimeoutMs > 60000 {
		errs = append(errs, ValidationError{
			Field:   "broker.ping_timeout_ms",
			Message: "must be between 1 and 60000",
		})
	}
	if b.SweepIntervalSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "broker.sweep_interval_sec",
			Message: "cannot be negative",
		})
	}
	if b.SweepIntervalSec > 0 && b.SweepIntervalSec*1000 <= b.PingTimeoutMs {
		errs = append(errs, ValidationError{
			Field:   "broker.sweep_interval_sec",
			Message: "must be longer than the ping timeout",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "warning", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file' or 'both'",
			})
		}
		if l.MaxSizeMB <= 0 {
			errs = append(errs, ValidationError{
				Field:   "logging.max_size_mb",
				Message: "must be positive",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if m.Enabled {
		if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics.listen_addr",
				Message: fmt.Sprintf("invalid address %q: %v", m.ListenAddr, err),
			})
		}
	}

	return errs
}
