package notes

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldValue is the content of one clinical field: free text or a
// structured JSON value. The zero value is empty text.
type FieldValue struct {
	text       string
	structured any
	isJSON     bool
}

// Text returns a free-text field value.
func Text(s string) FieldValue {
	return FieldValue{text: s}
}

// Structured returns a field value holding v, which must be JSON
// serialisable.
func Structured(v any) FieldValue {
	return FieldValue{structured: v, isJSON: true}
}

func (v FieldValue) IsStructured() bool { return v.isJSON }

func (v *FieldValue) clone() *FieldValue {
	if v == nil {
		return nil
	}
	c := *v
	c.structured = cloneValue(v.structured)
	return &c
}

// String returns the text, or the JSON encoding of a structured value.
func (v FieldValue) String() string {
	if !v.isJSON {
		return v.text
	}
	raw, err := json.Marshal(v.structured)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Value returns the text as a string or the structured value as is.
func (v FieldValue) Value() any {
	if v.isJSON {
		return v.structured
	}
	return v.text
}

// serialize returns the plaintext to encrypt and its content type.
func (v FieldValue) serialize() (string, string, error) {
	if !v.isJSON {
		return v.text, contentText, nil
	}
	raw, err := json.Marshal(v.structured)
	if err != nil {
		return "", "", fmt.Errorf("structured value is not JSON serialisable: %w", err)
	}
	return string(raw), contentJSON, nil
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.isJSON {
		return json.Marshal(v.structured)
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON reads a JSON string as text and anything else as a
// structured value.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	var structured any
	if err := json.Unmarshal(trimmed, &structured); err != nil {
		return err
	}
	*v = Structured(structured)
	return nil
}

// fieldValueOf converts a plaintext value read from a legacy document.
func fieldValueOf(raw any) FieldValue {
	if s, ok := raw.(string); ok {
		return Text(s)
	}
	return Structured(raw)
}
