// Package logging builds the process logger: human-readable lines on the
// error stream and, when a directory is configured, a daily rotated file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
	logwriter "github.com/sirupsen/logrus/hooks/writer"
)

type Options struct {
	// Level is one of debug, info, warn, error or fatal. Unknown values fall
	// back to info.
	Level string

	// Dir enables the rotated log file.
	Dir string

	// Name is the file name without extension.
	Name string

	MaxAge     time.Duration
	RotateTime time.Duration

	// Out receives the console output. Defaults to os.Stderr.
	Out io.Writer
}

// New returns a configured logger and a function that releases the log file.
func New(opts Options) (*logrus.Logger, func() error, error) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	closer := func() error { return nil }
	if opts.Dir == "" {
		return log, closer, nil
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir %s: %w", opts.Dir, err)
	}

	name := opts.Name
	if name == "" {
		name = "cardscan"
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	rotate := opts.RotateTime
	if rotate <= 0 {
		rotate = 24 * time.Hour
	}

	path := filepath.Join(opts.Dir, name+".log")
	fileWriter, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(rotate),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("open rotated log %s: %w", path, err)
	}

	// The file hook formats entries itself, so it always gets JSON.
	log.AddHook(&jsonHook{Hook: &logwriter.Hook{
		Writer:    fileWriter,
		LogLevels: resolveLevels(opts.Level),
	}})

	return log, fileWriter.Close, nil
}

// jsonHook writes entries to the file as JSON regardless of the console
// formatter.
type jsonHook struct {
	*logwriter.Hook
}

var fileFormatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}

func (h *jsonHook) Fire(entry *logrus.Entry) error {
	line, err := fileFormatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.Writer.Write(line)
	return err
}

var levelMapping = map[string][]logrus.Level{
	"debug": {logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel, logrus.DebugLevel},
	"info":  {logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel},
	"warn":  {logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel},
	"error": {logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel},
	"fatal": {logrus.PanicLevel, logrus.FatalLevel},
}

func resolveLevels(l string) []logrus.Level {
	if levels, ok := levelMapping[strings.ToLower(l)]; ok {
		return levels
	}
	return levelMapping["info"]
}
