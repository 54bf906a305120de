package catalog

import (
	"bytes"
	"strconv"

	json "github.com/goccy/go-json"
)

// FlexString decodes a JSON string, number, bool or null into a string.
// Providers are not consistent about quoting numeric fields.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	if v, err := strconv.ParseFloat(string(b), 64); err == nil {
		*f = FlexString(strconv.FormatFloat(v, 'f', -1, 64))
		return nil
	}
	// Objects, arrays, booleans: keep the literal so coercion can reject it.
	*f = FlexString(b)
	return nil
}
