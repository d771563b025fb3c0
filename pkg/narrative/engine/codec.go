package engine

import (
	"database/sql"
	"encoding/json"

	"github.com/phantomstate/phantomstate/pkg/narrative"
)

// serializeVector encodes a vector as the JSON text form sqlite-vec
// accepts for both inserts and MATCH queries.
func serializeVector(vec []float32) string {
	// json.Marshal of a []float32 cannot fail.
	b, _ := json.Marshal(vec)
	return string(b)
}

// encodeBag marshals a free-form attribute bag for storage. Empty bags
// are stored as NULL so absent and empty round-trip the same way.
func encodeBag(bag map[string]any) (any, error) {
	if len(bag) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(bag)
	if err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "encode attribute bag")
	}
	return string(b), nil
}

// decodeBag unmarshals a stored attribute bag. NULL decodes to an empty
// (non-nil) map; malformed JSON surfaces as CorruptRecord.
func decodeBag(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return map[string]any{}, nil
	}
	var bag map[string]any
	if err := json.Unmarshal([]byte(raw.String), &bag); err != nil {
		return nil, narrative.WrapError(narrative.KindCorruptRecord, err, "decode attribute bag %q", clip(raw.String))
	}
	if bag == nil {
		bag = map[string]any{}
	}
	return bag, nil
}

// clip bounds a corrupt value for inclusion in an error message.
func clip(s string) string {
	const max = 64
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
