package notes

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/crypto"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/monitoring"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
)

// Encryptor seals and opens single field values for an owner.
// *crypto.Service satisfies it.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext, ownerID string) (*crypto.Payload, error)
	Decrypt(ctx context.Context, payload *crypto.Payload, ownerID string) (string, error)
}

// ActorProvider returns the authenticated professional for ctx.
type ActorProvider interface {
	CurrentActor(ctx context.Context) (string, bool)
}

// Repository is the read/write boundary for clinical notes. New narrative
// data never reaches the store in plaintext.
type Repository struct {
	store      store.Store
	enc        Encryptor
	actors     ActorProvider
	cache      *Cache
	collection string
	logger     *zap.Logger
	metrics    monitoring.MetricsCollector
}

// Option configures a Repository.
type Option func(*Repository)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m monitoring.MetricsCollector) Option {
	return func(r *Repository) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithCollection overrides the collection name, Collection by default.
func WithCollection(name string) Option {
	return func(r *Repository) {
		if name != "" {
			r.collection = name
		}
	}
}

func NewRepository(st store.Store, enc Encryptor, actors ActorProvider, cache *Cache, opts ...Option) (*Repository, error) {
	if st == nil || enc == nil || actors == nil || cache == nil {
		return nil, fmt.Errorf("%w: repository needs a store, an encryptor, an actor provider and a cache", phierr.ErrInvalidConfiguration)
	}
	r := &Repository{
		store:      st,
		enc:        enc,
		actors:     actors,
		cache:      cache,
		collection: Collection,
		logger:     zap.NewNop(),
		metrics:    monitoring.NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Repository) owner(ctx context.Context) (string, error) {
	owner, ok := r.actors.CurrentActor(ctx)
	if !ok || owner == "" {
		return "", phierr.ErrNotAuthenticated
	}
	return owner, nil
}

// Create encrypts the supplied clinical fields and stores a new note. If any
// field fails to encrypt nothing is written. Returns the new record id.
func (r *Repository) Create(ctx context.Context, in NoteInput) (string, error) {
	owner, err := r.owner(ctx)
	if err != nil {
		return "", err
	}
	if err := in.Validate(); err != nil {
		return "", err
	}

	doc := store.Document{
		keyPatientID:     in.PatientID,
		keySessionNumber: in.SessionNumber,
		keyCreatedBy:     owner,
		keyCreatedAt:     store.ServerTimestamp,
		keyUpdatedAt:     store.ServerTimestamp,
	}
	if in.AppointmentID != "" {
		doc[keyAppointmentID] = in.AppointmentID
	}
	if in.VitalSigns != nil {
		doc[keyVitalSigns] = in.VitalSigns
	}
	if in.FunctionalTests != nil {
		doc[keyFunctionalTests] = in.FunctionalTests
	}
	if err := r.encryptInto(ctx, doc, owner, in.clinical()); err != nil {
		return "", err
	}

	id, err := r.store.Add(ctx, r.collection, doc)
	if err != nil {
		return "", err
	}
	r.logger.Debug("clinical note created", zap.String("record_id", id))
	return id, nil
}

// Update writes only the fields present in patch. Clinical fields are
// re-encrypted; absent fields keep their stored value.
func (r *Repository) Update(ctx context.Context, id string, patch NotePatch) error {
	owner, err := r.owner(ctx)
	if err != nil {
		return err
	}
	if err := patch.Validate(); err != nil {
		return err
	}

	doc := store.Document{keyUpdatedAt: store.ServerTimestamp}
	if patch.AppointmentID != nil {
		doc[keyAppointmentID] = *patch.AppointmentID
	}
	if patch.SessionNumber != nil {
		doc[keySessionNumber] = *patch.SessionNumber
	}
	if patch.VitalSigns != nil {
		doc[keyVitalSigns] = patch.VitalSigns
	}
	if patch.FunctionalTests != nil {
		doc[keyFunctionalTests] = patch.FunctionalTests
	}
	clinical := patch.clinical()
	if err := r.encryptInto(ctx, doc, owner, clinical); err != nil {
		return err
	}
	// A rewritten field must not keep a plaintext copy under its current
	// key or any legacy alias.
	for _, f := range clinicalFields {
		if clinical[f.name] == nil {
			continue
		}
		for _, key := range f.plaintext {
			doc[key] = store.DeleteField
		}
	}
	return r.write(ctx, id, doc)
}

// Sign stamps the note with the current time and signatureHash. Neither is
// PHI, so neither is encrypted.
func (r *Repository) Sign(ctx context.Context, id, signatureHash string) error {
	if _, err := r.owner(ctx); err != nil {
		return err
	}
	if signatureHash == "" {
		return phierr.NewInvalidNoteError("signatureHash", "is required")
	}
	return r.write(ctx, id, store.Document{
		keySignedAt:      store.ServerTimestamp,
		keySignatureHash: signatureHash,
		keyUpdatedAt:     store.ServerTimestamp,
	})
}

// Delete removes the note from the store and drops its cached copy.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.cache.Delete(id)
	return r.store.Delete(ctx, r.collection, id)
}

// write updates the document and invalidates its cached copy. Reads that
// fetched the old document before the update finished are rejected by the
// cache stamp.
func (r *Repository) write(ctx context.Context, id string, doc store.Document) error {
	r.cache.Delete(id)
	if err := r.store.Update(ctx, r.collection, id, doc); err != nil {
		return err
	}
	r.cache.Delete(id)
	return nil
}

// encryptInto adds <field>_encrypted for every non-nil field. The first
// failure aborts with an error matching phierr.ErrEncryptionFailed.
func (r *Repository) encryptInto(ctx context.Context, doc store.Document, owner string, fields map[string]*FieldValue) error {
	for _, f := range clinicalFields {
		v := fields[f.name]
		if v == nil {
			continue
		}
		plaintext, contentType, err := v.serialize()
		if err != nil {
			return phierr.NewEncryptionError(f.name, err)
		}
		payload, err := r.enc.Encrypt(ctx, plaintext, owner)
		if err != nil {
			r.logger.Error("field encryption failed", zap.String("field", f.name), zap.Error(err))
			return phierr.NewEncryptionError(f.name, err)
		}
		doc[EncryptedKey(f.name)] = storedPayload(payload, contentType)
	}
	return nil
}

// GetByID returns one note, or nil when it does not exist. Unlike batch
// reads a decryption failure is returned to the caller.
func (r *Repository) GetByID(ctx context.Context, id string) (*ClinicalNote, error) {
	owner, err := r.owner(ctx)
	if err != nil {
		return nil, err
	}
	if note, ok := r.cache.Get(id, owner); ok {
		return &note, nil
	}

	stamp := r.cache.Stamp()
	snap, err := r.store.Get(ctx, r.collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	note, failure := r.decode(ctx, owner, *snap)
	if failure != nil {
		return nil, failure
	}
	r.cache.SetIfCurrent(id, owner, *note, stamp)
	return note, nil
}

// ListOptions narrows a read. Results are newest first.
type ListOptions struct {
	PatientID string
	Limit     int
}

func (r *Repository) query(opts ListOptions) store.Query {
	q := store.Query{
		Collection: r.collection,
		OrderBy:    []store.Order{{Field: keyCreatedAt, Desc: true}},
		Limit:      opts.Limit,
	}
	if opts.PatientID != "" {
		q.Filters = []store.Filter{{Field: keyPatientID, Value: opts.PatientID}}
	}
	return q
}

// List reads matching notes once. Records that fail to decrypt are left out
// and reported in Batch.Failures; only a store failure returns an error.
func (r *Repository) List(ctx context.Context, opts ListOptions) (*Batch, error) {
	owner, err := r.owner(ctx)
	if err != nil {
		return nil, err
	}
	stamp := r.cache.Stamp()
	docs, err := r.store.Query(ctx, r.query(opts))
	if err != nil {
		return nil, err
	}
	batch := r.process(ctx, owner, docs, stamp)
	return &batch, nil
}

type result struct {
	note    *ClinicalNote
	failure *DecryptionFailure
}

// process maps every document to a result and keeps the successes in store
// order. stamp must be taken before docs were read.
func (r *Repository) process(ctx context.Context, owner string, docs []store.Snapshot, stamp uint64) Batch {
	results := make([]result, len(docs))
	for i, doc := range docs {
		if note, ok := r.cache.Get(doc.ID, owner); ok {
			results[i] = result{note: &note}
			continue
		}
		note, failure := r.decode(ctx, owner, doc)
		if failure != nil {
			results[i] = result{failure: failure}
			continue
		}
		r.cache.SetIfCurrent(doc.ID, owner, *note, stamp)
		results[i] = result{note: note}
	}

	batch := Batch{Notes: make([]ClinicalNote, 0, len(results))}
	for _, res := range results {
		if res.failure != nil {
			r.logger.Warn("skipping clinical note that failed to decrypt",
				zap.String("record_id", res.failure.RecordID),
				zap.String("field", res.failure.Field),
				zap.Error(res.failure.Err))
			r.metrics.IncrementCounter(monitoring.MetricRecordsSkipped, map[string]string{"field": res.failure.Field})
			batch.Failures = append(batch.Failures, *res.failure)
			continue
		}
		batch.Notes = append(batch.Notes, *res.note)
	}
	return batch
}

// decode assembles a note from a stored document. Either every clinical
// field is readable or the record fails as a whole.
func (r *Repository) decode(ctx context.Context, owner string, snap store.Snapshot) (*ClinicalNote, *DecryptionFailure) {
	note := decodeMetadata(snap.ID, snap.Data)

	for _, f := range clinicalFields {
		if raw, ok := snap.Data[EncryptedKey(f.name)]; ok && raw != nil {
			payload, err := payloadOf(raw)
			if err != nil {
				return nil, &DecryptionFailure{RecordID: snap.ID, Field: f.name, Err: phierr.NewDecryptionError("", err)}
			}
			plaintext, err := r.enc.Decrypt(ctx, payload, owner)
			if err != nil {
				return nil, &DecryptionFailure{RecordID: snap.ID, Field: f.name, Err: err}
			}
			value, err := decodePlaintext(f, payload.ContentType, plaintext)
			if err != nil {
				return nil, &DecryptionFailure{RecordID: snap.ID, Field: f.name, Err: phierr.NewDecryptionError(payload.KeyID, err)}
			}
			f.set(&note, value)
			continue
		}
		if legacy, ok := f.legacyValue(snap.Data); ok {
			f.set(&note, fieldValueOf(legacy))
		}
	}
	return &note, nil
}
