package taskbucket

import "encoding/binary"

// Reserved parameter names. These are wire-visible and must be preserved
// verbatim across processes sharing a bucket.
const (
	ParamType          = "type"
	ParamAddTask       = "_add_task"
	ParamDone          = "done"
	ParamPriority      = "priority"
	ParamFuture        = "future"
	ParamBlockID       = "blockid"
	ParamVersion       = "version"
	ParamValidKey      = "_validkey"
	ParamValidValue    = "_validvalue"
)

// EncodeInt64 encodes v as an 8-byte little-endian parameter value. Numeric
// params never reuse Go's native encoding/gob or encoding/json numeric
// representations, only this fixed convention.
func EncodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// DecodeInt64 decodes an 8-byte little-endian parameter value, returning 0
// for a short or absent buffer.
func DecodeInt64(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}
