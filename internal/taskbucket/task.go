package taskbucket

import "github.com/rzbill/taskbucket/pkg/id"

// Task is the in-memory representation of one queue entry: a unique id, a
// byte-string to byte-string parameter map, and (once claimed) a lease
// deadline expressed as a store version.
type Task struct {
	UID    []byte
	Params map[string][]byte

	// TimeoutVersion is only populated after a successful claim (GetOne) or
	// extension (SaveAndExtend).
	TimeoutVersion int64
}

var idGen = id.NewGenerator()

// NewTask builds a well-formed task of the given type and priority, ready
// for AddTask. taskType must be registered before the task is claimed.
func NewTask(taskType string, priority int) *Task {
	t := &Task{Params: make(map[string][]byte)}
	t.Params[ParamType] = []byte(taskType)
	t.Params[ParamPriority] = EncodeInt64(int64(priority))
	return t
}

// SetParam sets a parameter's raw byte value.
func (t *Task) SetParam(name string, value []byte) { t.Params[name] = value }

// SetParamString is a convenience for string-valued parameters.
func (t *Task) SetParamString(name, value string) { t.Params[name] = []byte(value) }

// SetParamInt64 is a convenience for numeric parameters; always uses
// EncodeInt64's fixed little-endian convention.
func (t *Task) SetParamInt64(name string, value int64) { t.Params[name] = EncodeInt64(value) }

// Type returns the task's registered type name.
func (t *Task) Type() string { return string(t.Params[ParamType]) }

// Priority returns the task's priority, decoded from the reserved
// "priority" param, defaulting to 0 if absent.
func (t *Task) Priority() int {
	if v, ok := t.Params[ParamPriority]; ok {
		return int(DecodeInt64(v))
	}
	return 0
}

// HasValidationWitness reports whether both the validation key and value
// params are present.
func (t *Task) HasValidationWitness() bool {
	_, hasKey := t.Params[ParamValidKey]
	_, hasVal := t.Params[ParamValidValue]
	return hasKey && hasVal
}

// clone returns a shallow copy of t with a freshly copied Params map, used
// when a built-in handler needs to mutate a task before re-enqueuing it
// (e.g. AddTask's type -> _add_task swap).
func (t *Task) clone() *Task {
	out := &Task{UID: append([]byte(nil), t.UID...), TimeoutVersion: t.TimeoutVersion}
	out.Params = make(map[string][]byte, len(t.Params))
	for k, v := range t.Params {
		out.Params[k] = append([]byte(nil), v...)
	}
	return out
}
