package log

import (
	"context"
	"fmt"
)

func (l *BaseLogger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}
	merged := l.slogLogger
	if merged == nil {
		return
	}
	merged.Log(context.Background(), toSlogLevel(level), msg, attrsToAny(attrsFromFieldSlice(fields))...)
}

func (l *BaseLogger) logf(level Level, format string, args ...interface{}) {
	l.log(level, fmt.Sprintf(format, args...))
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields...) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields...) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }
func (l *BaseLogger) Fatal(msg string, fields ...Field) { l.log(FatalLevel, msg, fields...) }

func (l *BaseLogger) Debugf(msg string, args ...interface{}) { l.logf(DebugLevel, msg, args...) }
func (l *BaseLogger) Infof(msg string, args ...interface{})  { l.logf(InfoLevel, msg, args...) }
func (l *BaseLogger) Warnf(msg string, args ...interface{})  { l.logf(WarnLevel, msg, args...) }
func (l *BaseLogger) Errorf(msg string, args ...interface{}) { l.logf(ErrorLevel, msg, args...) }
func (l *BaseLogger) Fatalf(msg string, args ...interface{}) { l.logf(FatalLevel, msg, args...) }

func (l *BaseLogger) clone() *BaseLogger {
	nl := &BaseLogger{
		level:     l.level,
		fields:    make(Fields, len(l.fields)),
		formatter: l.formatter,
		outputs:   l.outputs,
	}
	for k, v := range l.fields {
		nl.fields[k] = v
	}
	nl.slogLogger = l.slogLogger
	return nl
}

func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	nl := l.clone()
	nl.fields[key] = value
	nl.slogLogger = l.slogLogger.With(key, value)
	return nl
}

func (l *BaseLogger) WithFields(fields Fields) Logger {
	nl := l.clone()
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		nl.fields[k] = v
		args = append(args, k, v)
	}
	nl.slogLogger = l.slogLogger.With(args...)
	return nl
}

func (l *BaseLogger) WithError(err error) Logger {
	return l.WithField("error", errString(err))
}

func (l *BaseLogger) With(fields ...Field) Logger {
	nl := l.clone()
	args := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		nl.fields[f.Key] = f.Value
		args = append(args, f.Key, f.Value)
	}
	nl.slogLogger = l.slogLogger.With(args...)
	return nl
}

func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	extracted := ContextExtractor(ctx)
	if len(extracted) == 0 {
		return l
	}
	return l.WithFields(extracted)
}

func (l *BaseLogger) WithComponent(component string) Logger {
	return l.WithField(ComponentKey, component)
}

func (l *BaseLogger) SetLevel(level Level) { l.level = level }
func (l *BaseLogger) GetLevel() Level      { return l.level }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
