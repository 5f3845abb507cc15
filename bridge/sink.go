package bridge

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

// EmitLogs forwards the records of a finished invocation to the operator log.
// stdout lines are logged at info level and stderr lines at warn level.
func EmitLogs(fields log.Fields, records []LogRecord) {
	EmitLogsTo(log.StandardLogger(), fields, records)
}

// EmitLogsTo is EmitLogs with an explicit logger
func EmitLogsTo(logger *log.Logger, fields log.Fields, records []LogRecord) {
	for _, rec := range records {
		entry := logger.WithFields(fields).WithField("stream", string(rec.Stream))
		text := strings.TrimSuffix(rec.Text, "\n")

		switch rec.Stream {
		case Stderr:
			entry.Warn(text)
		default:
			entry.Info(text)
		}
	}
}
