package observability

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger creates a JSON-formatted logrus logger at the given level.
// Unknown levels fall back to info.
func NewLogger(level string, output io.Writer) *logrus.Logger {
	if output == nil {
		output = os.Stdout
	}

	log := logrus.New()
	log.SetOutput(output)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}
