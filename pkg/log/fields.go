package log

// Field is a single structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field from an arbitrary key/value pair.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Str builds a string-valued Field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int builds an int-valued Field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 builds an int64-valued Field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Bool builds a bool-valued Field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// ErrField builds a Field carrying an error's message. Named to avoid
// colliding with Logger.WithError, which takes an error directly.
func ErrField(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component builds a Field tagging the emitting component, mirroring
// ComponentKey used by ContextExtractor.
func Component(name string) Field { return Field{Key: ComponentKey, Value: name} }

func fieldsToMap(fields []Field) Fields {
	if len(fields) == 0 {
		return nil
	}
	m := make(Fields, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}
