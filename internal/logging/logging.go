// Package logging provides the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

type Fields = logrus.Fields

// Options configure the shared logger.
type Options struct {
	Level  string // debug, info, warn, error
	File   string // optional rotating log file
	Caller bool   // report file:line of the call site
}

// Logger returns the shared logger, creating it with defaults on first use.
func Logger() *logrus.Logger {
	once.Do(func() {
		logger = newLogger(Options{Level: "info"}, os.Stderr)
	})
	return logger
}

// Setup (re)configures the shared logger. It is safe to call more than once;
// the root command calls it after flags are parsed.
func Setup(opts Options) error {
	l := Logger()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}
	l.SetLevel(level)
	l.SetReportCaller(opts.Caller)

	writers := []io.Writer{os.Stderr}
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))
	return nil
}

func newLogger(opts Options, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	if level, err := logrus.ParseLevel(opts.Level); err == nil {
		l.SetLevel(level)
	}
	l.SetFormatter(&formatter.Formatter{
		NoColors:        os.Getenv("NO_COLOR") != "",
		TimestampFormat: "2006-01-02 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
	})
	return l
}

// Discard returns a logger that drops everything, for tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
