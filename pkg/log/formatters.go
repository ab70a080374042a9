package log

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONFormatter renders entries as single-line JSON objects.
type JSONFormatter struct {
	// TimeKey overrides the timestamp field name. Defaults to "ts".
	TimeKey string
}

func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	timeKey := f.TimeKey
	if timeKey == "" {
		timeKey = "ts"
	}
	out := make(map[string]interface{}, len(entry.Fields)+4)
	for k, v := range entry.Fields {
		out[k] = v
	}
	out[timeKey] = entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00")
	out["level"] = entry.Level.String()
	out["msg"] = entry.Message
	if entry.Caller != "" {
		out["caller"] = entry.Caller
	}
	if entry.Error != nil {
		out["error"] = entry.Error.Error()
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// TextFormatter renders entries as human-readable single lines, e.g.
// "2026-08-06T10:00:00.000Z INFO server started port=8080".
type TextFormatter struct {
	// DisableTimestamp omits the leading timestamp, useful for tests.
	DisableTimestamp bool
}

func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if !f.DisableTimestamp {
		buf.WriteString(entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"))
		buf.WriteByte(' ')
	}
	buf.WriteString(entry.Level.String())
	buf.WriteByte(' ')
	buf.WriteString(entry.Message)
	for k, v := range entry.Fields {
		fmt.Fprintf(&buf, " %s=%v", k, v)
	}
	if entry.Caller != "" {
		fmt.Fprintf(&buf, " caller=%s", entry.Caller)
	}
	if entry.Error != nil {
		fmt.Fprintf(&buf, " error=%q", entry.Error.Error())
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
