package evidence

import "encoding/json"

// ManifestHashable returns the manifest bytes covered by manifest_hash: the
// stored object with the hash field and the supersession bookkeeping fields
// omitted. The same extraction runs on the write path and the verify path,
// so superseding a manifest never invalidates its stored hash.
func ManifestHashable(m Manifest) (json.RawMessage, error) {
	return stripFields(m, "manifest_hash", "superseded_at", "superseded_by")
}

// BundlePayloadHashable returns the bundle payload bytes covered by
// bundle_hash. The payload is already hash-free; this normalizes it to raw
// JSON so both paths digest identical input.
func BundlePayloadHashable(p BundlePayload) (json.RawMessage, error) {
	return json.Marshal(p)
}

func stripFields(value any, fields ...string) (json.RawMessage, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &obj); err != nil {
		return nil, err
	}
	for _, field := range fields {
		delete(obj, field)
	}
	return json.Marshal(obj)
}
