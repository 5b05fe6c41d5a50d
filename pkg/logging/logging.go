// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Setup applies level ("debug", "info", ...) and format ("text" or "json")
// to the standard logrus logger writing to stdout.
func Setup(level, format string) error {
	return configure(logrus.StandardLogger(), os.Stdout, level, format)
}

func configure(l *logrus.Logger, out io.Writer, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "parse log level")
	}
	switch format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	default:
		return errors.Errorf("unknown log format %q", format)
	}
	l.SetOutput(out)
	l.SetLevel(lvl)
	return nil
}
