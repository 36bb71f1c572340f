package fisioflow

import (
	"context"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/crypto"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/identity"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/notes"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
)

// Note types, so callers only import this package.
type (
	ClinicalNote      = notes.ClinicalNote
	NoteInput         = notes.NoteInput
	NotePatch         = notes.NotePatch
	FieldValue        = notes.FieldValue
	ListOptions       = notes.ListOptions
	Batch             = notes.Batch
	DecryptionFailure = notes.DecryptionFailure
	Subscription      = notes.Subscription
)

// Extension points accepted by New.
type (
	KeyManagementService = crypto.KeyManagementService
	DocumentStore        = store.Store
	ActorProvider        = notes.ActorProvider
)

// Payload is the stored form of one encrypted field.
type Payload = crypto.Payload

func Text(s string) FieldValue { return notes.Text(s) }

func Structured(v any) FieldValue { return notes.Structured(v) }

// TextPtr is shorthand for the optional fields of NoteInput and NotePatch.
func TextPtr(s string) *FieldValue {
	v := notes.Text(s)
	return &v
}

// WithActor marks ctx as acting for professional actorID. It is read by
// the default actor provider.
func WithActor(ctx context.Context, actorID string) context.Context {
	return identity.WithActor(ctx, actorID)
}
