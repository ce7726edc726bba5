package util

import (
	"bytes"
	"encoding/json"
)

// EncodeCanonicalJson marshals obj without HTML escaping. Struct fields are emitted in declaration
// order and map keys sorted, so equal values always produce equal bytes.
func EncodeCanonicalJson(obj any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
