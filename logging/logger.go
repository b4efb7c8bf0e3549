// Package logging builds the logrus loggers shared by the selene binaries.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05-07:00"

var (
	baseLogger *logrus.Logger
	initOnce   sync.Once
)

// New returns a logger writing to out. Unknown levels fall back to info and
// unknown formats to text.
func New(out io.Writer, level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        timestampFormat,
			PadLevelText:           true,
			DisableLevelTruncation: true,
		})
	}

	parsedLevel, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		parsedLevel = logrus.InfoLevel
	}

	l.SetLevel(parsedLevel)

	return l
}

// Init sets up the process-wide logger once. Later calls return the logger
// built by the first one.
func Init(level, format string) *logrus.Logger {
	initOnce.Do(func() {
		baseLogger = New(os.Stderr, level, format)
	})

	return baseLogger
}

func L() *logrus.Logger {
	if baseLogger == nil {
		return Init("info", "text")
	}

	return baseLogger
}

// C returns an entry tagged with the component name.
func C(component string) *logrus.Entry {
	return L().WithField("component", component)
}
