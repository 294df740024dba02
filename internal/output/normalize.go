package output

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// NormalizeJSONValue converts a CBOR-decoded value into something
// encoding/json accepts: maps get string keys, tags and byte strings are
// described rather than dumped, and non-finite floats become strings.
func NormalizeJSONValue(value any) any {
	switch v := value.(type) {
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = NormalizeJSONValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = NormalizeJSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = NormalizeJSONValue(item)
		}
		return out
	case []byte:
		return map[string]any{"bytes": len(v)}
	case cbor.Tag:
		return map[string]any{
			"tag":     v.Number,
			"content": NormalizeJSONValue(v.Content),
		}
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Sprint(v)
		}
		return v
	case float32:
		return NormalizeJSONValue(float64(v))
	default:
		return v
	}
}
