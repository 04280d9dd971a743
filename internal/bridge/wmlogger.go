package bridge

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

type watermillLogger struct {
	logger *zap.SugaredLogger
	fields watermill.LogFields
}

// NewWatermillLogger adapts a zap logger to watermill. Watermill's trace
// output is folded into debug.
func NewWatermillLogger(logger *zap.SugaredLogger) watermill.LoggerAdapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &watermillLogger{logger: logger, fields: watermill.LogFields{}}
}

func (a *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Errorw(msg, append(a.keyvals(fields), "error", err)...)
}

func (a *watermillLogger) Info(msg string, fields watermill.LogFields) {
	a.logger.Infow(msg, a.keyvals(fields)...)
}

func (a *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debugw(msg, a.keyvals(fields)...)
}

func (a *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debugw(msg, a.keyvals(fields)...)
}

func (a *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: a.logger, fields: a.fields.Add(fields)}
}

func (a *watermillLogger) keyvals(fields watermill.LogFields) []any {
	all := a.fields.Add(fields)
	out := make([]any, 0, len(all)*2)
	for k, v := range all {
		out = append(out, k, v)
	}
	return out
}
