package fileutil

import (
	"bytes"
	"encoding/json"
	"io"
)

func PrintJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(value)
}

// MarshalIndent renders value the same way PrintJSON does.
func MarshalIndent(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := PrintJSON(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
