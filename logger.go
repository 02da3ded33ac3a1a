package axdma

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/axdma/config"
)

type logOptions struct {
	timestampFormat  string
	fullTimestamp    bool
	disableTimestamp bool
}

var logFormats = []string{"text", "json"}

func newLogFormatter(format string, o logOptions) (logrus.Formatter, error) {
	switch format {
	case "text":
		return &logrus.TextFormatter{
			TimestampFormat:  o.timestampFormat,
			FullTimestamp:    o.fullTimestamp,
			DisableTimestamp: o.disableTimestamp,
		}, nil
	case "json":
		return &logrus.JSONFormatter{
			TimestampFormat:  o.timestampFormat,
			DisableTimestamp: o.disableTimestamp,
		}, nil
	}
	return nil, fmt.Errorf("unknown log format `%s`. possible formats: %s", format, logFormats)
}

// configLogger applies the logging section of c to l. Nothing is changed
// unless the whole section is valid.
func configLogger(l *logrus.Logger, c *config.C) error {
	level, err := logrus.ParseLevel(strings.ToLower(c.GetString("logging.level", "info")))
	if err != nil {
		return fmt.Errorf("%s; possible levels: %s", err, logrus.AllLevels)
	}

	o := logOptions{
		timestampFormat:  c.GetString("logging.timestamp_format", ""),
		disableTimestamp: c.GetBool("logging.disable_timestamp", false),
	}
	if o.timestampFormat == "" {
		o.timestampFormat = time.RFC3339
	} else {
		o.fullTimestamp = true
	}

	f, err := newLogFormatter(strings.ToLower(c.GetString("logging.format", "text")), o)
	if err != nil {
		return err
	}

	l.SetLevel(level)
	l.Formatter = f
	return nil
}
