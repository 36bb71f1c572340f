// Package notes reads and writes SOAP clinical notes ("evolutions") through a
// document store. The narrative fields are encrypted one by one under the key
// of the acting professional; records written before encryption existed are
// still readable.
package notes

import (
	"fmt"
	"time"

	"github.com/hengadev/errsx"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

// ClinicalNote is one treatment-session note in decrypted form.
type ClinicalNote struct {
	ID            string `json:"id"`
	PatientID     string `json:"patientId"`
	AppointmentID string `json:"appointmentId,omitempty"`
	SessionNumber int    `json:"sessionNumber"`

	Subjective *FieldValue `json:"subjective,omitempty"`
	Objective  *FieldValue `json:"objective,omitempty"`
	Assessment *FieldValue `json:"assessment,omitempty"`
	Plan       *FieldValue `json:"plan,omitempty"`

	VitalSigns      map[string]any `json:"vitalSigns,omitempty"`
	FunctionalTests map[string]any `json:"functionalTests,omitempty"`

	CreatedBy     string     `json:"createdBy,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	SignedAt      *time.Time `json:"signedAt,omitempty"`
	SignatureHash string     `json:"signatureHash,omitempty"`
}

// IsSigned reports whether the note carries a digital signature.
func (n *ClinicalNote) IsSigned() bool {
	return n.SignedAt != nil && n.SignatureHash != ""
}

// clone returns a copy sharing no mutable state with n.
func (n *ClinicalNote) clone() ClinicalNote {
	c := *n
	c.Subjective = n.Subjective.clone()
	c.Objective = n.Objective.clone()
	c.Assessment = n.Assessment.clone()
	c.Plan = n.Plan.clone()
	c.VitalSigns = cloneMap(n.VitalSigns)
	c.FunctionalTests = cloneMap(n.FunctionalTests)
	if n.SignedAt != nil {
		t := *n.SignedAt
		c.SignedAt = &t
	}
	return c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = cloneValue(v)
	}
	return c
}

// cloneValue deep-copies the maps and slices JSON decoding produces. Other
// values are copied as they are.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		if val == nil {
			return val
		}
		c := make([]any, len(val))
		for i, item := range val {
			c[i] = cloneValue(item)
		}
		return c
	default:
		return v
	}
}

// NoteInput is what a professional supplies to create a note. Nil clinical
// fields are not stored at all.
type NoteInput struct {
	PatientID     string `json:"patientId"`
	AppointmentID string `json:"appointmentId,omitempty"`
	SessionNumber int    `json:"sessionNumber"`

	Subjective *FieldValue `json:"subjective,omitempty"`
	Objective  *FieldValue `json:"objective,omitempty"`
	Assessment *FieldValue `json:"assessment,omitempty"`
	Plan       *FieldValue `json:"plan,omitempty"`

	VitalSigns      map[string]any `json:"vitalSigns,omitempty"`
	FunctionalTests map[string]any `json:"functionalTests,omitempty"`
}

// Validate checks the input and reports every problem at once.
func (in *NoteInput) Validate() error {
	errs := errsx.Map{}
	if in.PatientID == "" {
		errs.Set("patientId", fmt.Errorf("patient id is required"))
	}
	if in.SessionNumber < 0 {
		errs.Set("sessionNumber", fmt.Errorf("session number must be >= 0, got %d", in.SessionNumber))
	}
	if err := errs.AsError(); err != nil {
		return fmt.Errorf("%w: %w", phierr.ErrInvalidNote, err)
	}
	return nil
}

func (in *NoteInput) clinical() map[string]*FieldValue {
	return map[string]*FieldValue{
		"subjective": in.Subjective,
		"objective":  in.Objective,
		"assessment": in.Assessment,
		"plan":       in.Plan,
	}
}

// NotePatch carries the fields of an update. Only non-nil fields are
// written; everything else in the stored note is left as it is.
type NotePatch struct {
	AppointmentID *string `json:"appointmentId,omitempty"`
	SessionNumber *int    `json:"sessionNumber,omitempty"`

	Subjective *FieldValue `json:"subjective,omitempty"`
	Objective  *FieldValue `json:"objective,omitempty"`
	Assessment *FieldValue `json:"assessment,omitempty"`
	Plan       *FieldValue `json:"plan,omitempty"`

	VitalSigns      map[string]any `json:"vitalSigns,omitempty"`
	FunctionalTests map[string]any `json:"functionalTests,omitempty"`
}

func (p *NotePatch) Validate() error {
	if p.SessionNumber != nil && *p.SessionNumber < 0 {
		return phierr.NewInvalidNoteError("sessionNumber", fmt.Sprintf("must be >= 0, got %d", *p.SessionNumber))
	}
	return nil
}

func (p *NotePatch) clinical() map[string]*FieldValue {
	return map[string]*FieldValue{
		"subjective": p.Subjective,
		"objective":  p.Objective,
		"assessment": p.Assessment,
		"plan":       p.Plan,
	}
}

// DecryptionFailure explains why a record was left out of a batch.
type DecryptionFailure struct {
	RecordID string
	Field    string
	Err      error
}

func (f *DecryptionFailure) Error() string {
	return fmt.Sprintf("record %s field %s: %v", f.RecordID, f.Field, f.Err)
}

func (f *DecryptionFailure) Unwrap() error { return f.Err }

// Batch is one read result: the notes that decrypted and the records that
// were skipped.
type Batch struct {
	Notes    []ClinicalNote
	Failures []DecryptionFailure
}
