package utils

import (
	"github.com/ghettovoice/gosip/log"
	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's internal logging (ICE, DTLS, SCTP...)
// into the logrus output used by the rest of the module.
type PionLoggerFactory struct {
	logger log.Logger
}

func NewPionLoggerFactory(level log.Level) *PionLoggerFactory {
	return &PionLoggerFactory{
		logger: NewLogrusLogger(level, "pion", nil),
	}
}

func (f *PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{logger: f.logger.WithFields(log.Fields{"scope": scope})}
}

type pionLogger struct {
	logger log.Logger
}

func (l *pionLogger) Trace(msg string)                          { l.logger.Trace(msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) { l.logger.Tracef(format, args...) }
func (l *pionLogger) Debug(msg string)                          { l.logger.Debug(msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) { l.logger.Debugf(format, args...) }
func (l *pionLogger) Info(msg string)                           { l.logger.Info(msg) }
func (l *pionLogger) Infof(format string, args ...interface{})  { l.logger.Infof(format, args...) }
func (l *pionLogger) Warn(msg string)                           { l.logger.Warn(msg) }
func (l *pionLogger) Warnf(format string, args ...interface{})  { l.logger.Warnf(format, args...) }
func (l *pionLogger) Error(msg string)                          { l.logger.Error(msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) { l.logger.Errorf(format, args...) }
