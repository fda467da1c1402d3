package crypto

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LoggerHelper builds log entries for the crypto package with the
// "function" and "package" fields already set.
type LoggerHelper struct {
	base   logrus.FieldLogger
	fields logrus.Fields
}

// NewLogger creates a logger helper writing to the standard logrus logger.
func NewLogger(function string) *LoggerHelper {
	return NewLoggerWith(nil, function)
}

// NewLoggerWith creates a logger helper writing to base. A nil base falls
// back to the standard logrus logger.
func NewLoggerWith(base logrus.FieldLogger, function string) *LoggerHelper {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return &LoggerHelper{
		base: base,
		fields: logrus.Fields{
			"function": function,
			"package":  "crypto",
		},
	}
}

// WithField adds a custom field to the logger
func (l *LoggerHelper) WithField(key string, value interface{}) *LoggerHelper {
	l.fields[key] = value
	return l
}

// WithFields adds multiple custom fields to the logger
func (l *LoggerHelper) WithFields(fields logrus.Fields) *LoggerHelper {
	for k, v := range fields {
		l.fields[k] = v
	}
	return l
}

// WithError adds error information to the logger
func (l *LoggerHelper) WithError(err error, operation string) *LoggerHelper {
	l.fields["error"] = err.Error()
	l.fields["operation"] = operation
	return l
}

// Debug logs a debug message
func (l *LoggerHelper) Debug(message string) {
	l.base.WithFields(l.fields).Debug(message)
}

// Info logs an info message
func (l *LoggerHelper) Info(message string) {
	l.base.WithFields(l.fields).Info(message)
}

// Warn logs a warning message
func (l *LoggerHelper) Warn(message string) {
	l.base.WithFields(l.fields).Warn(message)
}

// Error logs an error message
func (l *LoggerHelper) Error(message string) {
	l.base.WithFields(l.fields).Error(message)
}

// SecureFieldHash creates a preview of sensitive data for logging. Only the
// first 4 bytes are shown.
func SecureFieldHash(data []byte, name string) logrus.Fields {
	preview := "nil"
	if len(data) > 0 {
		previewLen := 4
		if len(data) < previewLen {
			previewLen = len(data)
		}
		preview = fmt.Sprintf("%x", data[:previewLen])
		if len(data) > previewLen {
			preview += "..."
		}
	}

	return logrus.Fields{
		name + "_preview": preview,
		name + "_size":    len(data),
	}
}

// KeyPosFields describes a key stream position: the position itself, the
// GMAC key generation it falls into and the low word carried on the wire.
func KeyPosFields(keyPos uint64) logrus.Fields {
	var generation uint64
	if keyPos > 0 {
		generation = (keyPos - 1) / GMACKeyRefreshKeyPos
	}
	return logrus.Fields{
		"key_pos":        keyPos,
		"key_pos_low":    uint32(keyPos),
		"gmac_key_index": generation,
	}
}
