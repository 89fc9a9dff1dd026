package utils

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ghettovoice/gosip/log"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// NamedLogger is a logger registered under a prefix so its level can be
// changed at runtime.
type NamedLogger struct {
	Logger *log.LogrusLogger
	level  log.Level
}

func (nl *NamedLogger) Level() string {
	switch nl.level {
	case log.PanicLevel:
		return "Panic"
	case log.FatalLevel:
		return "Fatal"
	case log.ErrorLevel:
		return "Error"
	case log.WarnLevel:
		return "Warn"
	case log.InfoLevel:
		return "Info"
	case log.DebugLevel:
		return "Debug"
	case log.TraceLevel:
		return "Trace"
	}
	return "Unknown"
}

var (
	loggers         map[string]*NamedLogger
	loggersMu       sync.Mutex
	DefaultLogLevel = log.InfoLevel
)

func init() {
	loggers = make(map[string]*NamedLogger)
}

func NewLogrusLogger(level log.Level, prefix string, fields log.Fields) log.Logger {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	if logger, found := loggers[prefix]; found {
		return logger.Logger.WithPrefix(prefix)
	}
	l := logrus.New()
	l.Level = logrus.ErrorLevel
	l.Formatter = &prefixed.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		ForceColors:     true,
		ForceFormatting: true,
	}
	l.SetReportCaller(true)
	logger := log.NewLogrusLogger(l, "main", fields)
	loggers[prefix] = &NamedLogger{
		Logger: logger,
		level:  level,
	}
	logger.SetLevel(level)
	return logger.WithPrefix(prefix)
}

func SetLogLevel(prefix string, level log.Level) error {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	if logger, found := loggers[prefix]; found {
		logger.level = level
		logger.Logger.SetLevel(level)
		return nil
	}
	return fmt.Errorf("logger [%v] not found", prefix)
}

// SetAllLogLevels applies level to every registered logger.
func SetAllLogLevels(level log.Level) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	DefaultLogLevel = level
	for _, logger := range loggers {
		logger.level = level
		logger.Logger.SetLevel(level)
	}
}

// ParseLogLevel accepts the logrus level names ("info", "debug", ...).
func ParseLogLevel(name string) (log.Level, error) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return log.InfoLevel, err
	}
	return log.Level(lvl), nil
}

// LoggerNames returns the registered prefixes in sorted order.
func LoggerNames() []string {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	names := make([]string, 0, len(loggers))
	for name := range loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func GetLogger(prefix string) (*NamedLogger, bool) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	l, ok := loggers[prefix]
	return l, ok
}
