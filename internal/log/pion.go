package log

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// PionFactory routes pion's scoped loggers into zerolog. pion is chatty at
// debug level, so its records are shifted down one level.
type PionFactory struct {
	Logger *zerolog.Logger
}

// NewLogger implements logging.LoggerFactory.
func (f PionFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.Logger.With().Str("component", "pion").Str("scope", scope).Logger()
	return &pionLogger{log: l}
}

type pionLogger struct {
	log zerolog.Logger
}

func (p *pionLogger) Trace(msg string)                          { p.log.Trace().Msg(msg) }
func (p *pionLogger) Tracef(format string, args ...interface{}) { p.log.Trace().Msgf(format, args...) }
func (p *pionLogger) Debug(msg string)                          { p.log.Trace().Msg(msg) }
func (p *pionLogger) Debugf(format string, args ...interface{}) { p.log.Trace().Msgf(format, args...) }
func (p *pionLogger) Info(msg string)                           { p.log.Debug().Msg(msg) }
func (p *pionLogger) Infof(format string, args ...interface{})  { p.log.Debug().Msgf(format, args...) }
func (p *pionLogger) Warn(msg string)                           { p.log.Warn().Msg(msg) }
func (p *pionLogger) Warnf(format string, args ...interface{})  { p.log.Warn().Msgf(format, args...) }
func (p *pionLogger) Error(msg string)                          { p.log.Error().Msg(msg) }
func (p *pionLogger) Errorf(format string, args ...interface{}) { p.log.Error().Msgf(format, args...) }

var _ logging.LoggerFactory = PionFactory{}
