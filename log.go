package l2cap

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is what every layer of the stack logs through.
type Logger interface {
	Info(...interface{})
	Debug(...interface{})
	Error(...interface{})
	Warn(...interface{})

	Infof(string, ...interface{})
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
	Warnf(string, ...interface{})

	ChildLogger(tags map[string]interface{}) Logger
}

// Log formats understood by NewLogger.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

var logger Logger
var loggerMu sync.Mutex

func SetLogLevelMax() {
	if err := setLevel(logrus.TraceLevel); err != nil {
		GetLogger().Error(err)
	}
}

// SetLogLevel parses a logrus level name, e.g. "debug", and applies it to the default logger.
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	return setLevel(lvl)
}

func setLevel(lvl logrus.Level) error {
	lg, ok := GetLogger().(*defaultLogger)
	if !ok {
		return fmt.Errorf("non-default logger, don't know how to set level")
	}
	lg.Entry.Logger.SetLevel(lvl)
	return nil
}

func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

func GetLogger() Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if logger == nil {
		logger, _ = NewLogger(os.Stderr, LogFormatText)
	}

	return logger
}

// LayerLogger returns the package logger tagged with the layer it serves,
// e.g. "l2cap" or "hci".
func LayerLogger(layer string) Logger {
	return GetLogger().ChildLogger(map[string]interface{}{"layer": layer})
}

// NewLogger builds an info level logger writing format to out.
func NewLogger(out io.Writer, format string) (Logger, error) {
	var f logrus.Formatter
	switch format {
	case "", LogFormatText:
		f = &logrus.TextFormatter{DisableTimestamp: true}
	case LogFormatJSON:
		f = &logrus.JSONFormatter{}
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	l := &logrus.Logger{
		Formatter: f,
		Level:     logrus.InfoLevel,
		Out:       out,
		Hooks:     make(logrus.LevelHooks),
	}
	return &defaultLogger{Entry: logrus.NewEntry(l)}, nil
}

type defaultLogger struct {
	*logrus.Entry
}

func (d *defaultLogger) ChildLogger(ff map[string]interface{}) Logger {
	return &defaultLogger{d.Entry.WithFields(ff)}
}
