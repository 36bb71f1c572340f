package notes

import (
	"encoding/json"
	"fmt"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/crypto"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
)

// Collection is the store collection holding clinical notes.
const Collection = "evolutions"

const (
	contentText = crypto.ContentText
	contentJSON = crypto.ContentJSON

	encryptedSuffix = "_encrypted"
)

// Persisted document keys.
const (
	keyPatientID       = "patient_id"
	keyAppointmentID   = "appointment_id"
	keySessionNumber   = "session_number"
	keyVitalSigns      = "vital_signs"
	keyFunctionalTests = "functional_tests"
	keyCreatedBy       = "created_by"
	keyCreatedAt       = "created_at"
	keyUpdatedAt       = "updated_at"
	keySignedAt        = "signed_at"
	keySignatureHash   = "signature_hash"
)

// clinicalField describes where one narrative field can be found in a
// stored document. Plaintext candidates are tried in order.
type clinicalField struct {
	name string
	// plaintext lists the current key followed by historical aliases.
	plaintext []string
	// mayBeJSON marks fields that held structured values before payloads
	// carried a content type.
	mayBeJSON bool
}

var clinicalFields = []clinicalField{
	{name: "subjective", plaintext: []string{"subjective"}},
	{name: "objective", plaintext: []string{"objective", "examination"}, mayBeJSON: true},
	{name: "assessment", plaintext: []string{"assessment", "diagnosis"}},
	{name: "plan", plaintext: []string{"plan", "treatment_plan"}, mayBeJSON: true},
}

// EncryptedKey returns the document key holding the payload of field.
func EncryptedKey(field string) string {
	return field + encryptedSuffix
}

func (f clinicalField) set(n *ClinicalNote, v FieldValue) {
	switch f.name {
	case "subjective":
		n.Subjective = &v
	case "objective":
		n.Objective = &v
	case "assessment":
		n.Assessment = &v
	case "plan":
		n.Plan = &v
	}
}

// legacyValue returns the first non-empty plaintext candidate. An empty
// string counts as absent so an older alias can still supply the value.
func (f clinicalField) legacyValue(data store.Document) (any, bool) {
	for _, key := range f.plaintext {
		v, ok := data[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// payloadOf converts the stored form of a payload back to the envelope.
func payloadOf(v any) (*crypto.Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, phierr.NewInvalidPayloadError("unreadable payload")
	}
	var p crypto.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, phierr.NewInvalidPayloadError("payload is not an object")
	}
	return &p, nil
}

// decodePlaintext turns decrypted text back into a field value. Tagged
// payloads say what they hold. Untagged ones on fields that used to hold
// objects are parsed, and kept as text unless they decode to an object or
// an array, so "123" stays the string "123".
func decodePlaintext(f clinicalField, contentType, plaintext string) (FieldValue, error) {
	switch contentType {
	case contentText:
		return Text(plaintext), nil
	case contentJSON:
		var v any
		if err := json.Unmarshal([]byte(plaintext), &v); err != nil {
			return FieldValue{}, phierr.NewInvalidPayloadError("json content does not parse")
		}
		return Structured(v), nil
	case "":
		if f.mayBeJSON {
			var v any
			if err := json.Unmarshal([]byte(plaintext), &v); err == nil {
				switch v.(type) {
				case map[string]any, []any:
					return Structured(v), nil
				}
			}
		}
		return Text(plaintext), nil
	default:
		return FieldValue{}, phierr.NewInvalidPayloadError(fmt.Sprintf("unknown content type %q", contentType))
	}
}

// storedPayload is what gets written under <field>_encrypted.
func storedPayload(p *crypto.Payload, contentType string) map[string]any {
	return map[string]any{
		"ciphertext":  p.Ciphertext,
		"iv":          p.IV,
		"authTag":     p.AuthTag,
		"algorithm":   p.Algorithm,
		"keyId":       p.KeyID,
		"contentType": contentType,
	}
}

// decodeMetadata fills the non-clinical fields of n from data. Unexpected
// types are ignored rather than failing the record.
func decodeMetadata(id string, data store.Document) ClinicalNote {
	n := ClinicalNote{ID: id}
	n.PatientID, _ = data[keyPatientID].(string)
	n.AppointmentID, _ = data[keyAppointmentID].(string)
	if v, ok := data[keySessionNumber].(float64); ok {
		n.SessionNumber = int(v)
	}
	n.VitalSigns, _ = data[keyVitalSigns].(map[string]any)
	n.FunctionalTests, _ = data[keyFunctionalTests].(map[string]any)
	n.CreatedBy, _ = data[keyCreatedBy].(string)
	n.CreatedAt, _ = store.ParseTime(data[keyCreatedAt])
	n.UpdatedAt, _ = store.ParseTime(data[keyUpdatedAt])
	if t, ok := store.ParseTime(data[keySignedAt]); ok {
		n.SignedAt = &t
	}
	n.SignatureHash, _ = data[keySignatureHash].(string)
	return n
}
