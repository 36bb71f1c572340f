package notes

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/crypto"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phicache"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store/memstore"
)

// staticKeys gives every owner one fixed key named "key-<owner>".
type staticKeys struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func newStaticKeys(owners ...string) *staticKeys {
	k := &staticKeys{keys: make(map[string][]byte)}
	for _, o := range owners {
		key := make([]byte, crypto.KeySize)
		if _, err := rand.Read(key); err != nil {
			panic(err)
		}
		k.keys[o] = key
	}
	return k
}

func (k *staticKeys) key(owner string) []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]byte(nil), k.keys[owner]...)
}

func (k *staticKeys) KeyFor(ctx context.Context, ownerID string) (string, []byte, error) {
	key := k.key(ownerID)
	if len(key) == 0 {
		return "", nil, phierr.NewKeyUnavailableError(ownerID)
	}
	return "key-" + ownerID, key, nil
}

func (k *staticKeys) KeyByID(ctx context.Context, ownerID, keyID string) ([]byte, error) {
	key := k.key(ownerID)
	if len(key) == 0 || keyID != "key-"+ownerID {
		return nil, phierr.NewKeyUnavailableError(ownerID)
	}
	return key, nil
}

type encryptCall struct {
	plaintext string
	owner     string
}

// countingEncryptor records every call before delegating.
type countingEncryptor struct {
	next Encryptor

	mu       sync.Mutex
	encrypts []encryptCall
	decrypts int
	// failOn makes Encrypt fail for this plaintext.
	failOn string
}

func (c *countingEncryptor) Encrypt(ctx context.Context, plaintext, ownerID string) (*crypto.Payload, error) {
	c.mu.Lock()
	c.encrypts = append(c.encrypts, encryptCall{plaintext: plaintext, owner: ownerID})
	fail := c.failOn != "" && plaintext == c.failOn
	c.mu.Unlock()
	if fail {
		return nil, phierr.NewKeyUnavailableError(ownerID)
	}
	return c.next.Encrypt(ctx, plaintext, ownerID)
}

func (c *countingEncryptor) Decrypt(ctx context.Context, payload *crypto.Payload, ownerID string) (string, error) {
	c.mu.Lock()
	c.decrypts++
	c.mu.Unlock()
	return c.next.Decrypt(ctx, payload, ownerID)
}

func (c *countingEncryptor) encryptCalls() []encryptCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]encryptCall(nil), c.encrypts...)
}

func (c *countingEncryptor) decryptCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decrypts
}

type fixedActor string

func (a fixedActor) CurrentActor(ctx context.Context) (string, bool) {
	return string(a), a != ""
}

// recordingStore keeps the documents written through it.
type recordingStore struct {
	store.Store

	mu      sync.Mutex
	calls   int
	added   []store.Document
	updated []store.Document
}

func (s *recordingStore) count() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *recordingStore) Add(ctx context.Context, collection string, data store.Document) (string, error) {
	s.count()
	s.mu.Lock()
	s.added = append(s.added, data)
	s.mu.Unlock()
	return s.Store.Add(ctx, collection, data)
}

func (s *recordingStore) Update(ctx context.Context, collection, id string, data store.Document) error {
	s.count()
	s.mu.Lock()
	s.updated = append(s.updated, data)
	s.mu.Unlock()
	return s.Store.Update(ctx, collection, id, data)
}

func (s *recordingStore) Get(ctx context.Context, collection, id string) (*store.Snapshot, error) {
	s.count()
	return s.Store.Get(ctx, collection, id)
}

func (s *recordingStore) Query(ctx context.Context, q store.Query) ([]store.Snapshot, error) {
	s.count()
	return s.Store.Query(ctx, q)
}

func (s *recordingStore) Delete(ctx context.Context, collection, id string) error {
	s.count()
	return s.Store.Delete(ctx, collection, id)
}

func (s *recordingStore) Watch(ctx context.Context, q store.Query, fn store.WatchFunc) (func(), error) {
	s.count()
	return s.Store.Watch(ctx, q, fn)
}

func (s *recordingStore) storeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	keys    *staticKeys
	enc     *countingEncryptor
	mem     *memstore.Store
	store   *recordingStore
	manager *phicache.Manager
	cache   *Cache
	repo    *Repository
}

func newFixture(t *testing.T, actor string) *fixture {
	t.Helper()
	keys := newStaticKeys("u1", "u2")
	f := &fixture{
		keys:    keys,
		enc:     &countingEncryptor{next: crypto.NewService(keys, zap.NewNop(), nil)},
		mem:     memstore.New(),
		manager: phicache.NewManager(zap.NewNop(), nil),
	}
	f.store = &recordingStore{Store: f.mem}
	f.cache = NewCache(f.manager)
	f.repo = f.repoFor(t, actor)
	return f
}

// repoFor returns a repository sharing the fixture's store, keys and cache
// but acting as actor.
func (f *fixture) repoFor(t *testing.T, actor string) *Repository {
	t.Helper()
	repo, err := NewRepository(f.store, f.enc, fixedActor(actor), f.cache)
	require.NoError(t, err)
	return repo
}

func (f *fixture) rawDoc(t *testing.T, id string) store.Document {
	t.Helper()
	snap, err := f.mem.Get(context.Background(), Collection, id)
	require.NoError(t, err)
	return snap.Data
}

func textPtr(s string) *FieldValue {
	v := Text(s)
	return &v
}

func structuredPtr(v any) *FieldValue {
	fv := Structured(v)
	return &fv
}
