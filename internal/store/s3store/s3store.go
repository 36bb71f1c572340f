// Package s3store keeps each document as a JSON object in an S3 bucket under
// <prefix><collection>/<id>.json.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
)

// s3Client is the subset of the S3 API the store needs (allows mocking).
type s3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

const (
	DefaultPollInterval = 5 * time.Second
	// updateAttempts bounds the read-merge-write loop when a concurrent
	// writer changes the object between read and write.
	updateAttempts = 5
)

// Config holds the bucket settings.
type Config struct {
	Bucket string
	Prefix string
	// Region and Endpoint are used when AWSConfig is nil.
	Region   string
	Endpoint string
	// UsePathStyle is needed by MinIO and LocalStack.
	UsePathStyle bool
	// KMSKeyID enables SSE-KMS for every object written.
	KMSKeyID  string
	AWSConfig *aws.Config
}

// Store is the S3 document store.
type Store struct {
	client       s3Client
	bucket       string
	prefix       string
	kmsKeyID     string
	pollInterval time.Duration
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store from the default AWS credential chain.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket cannot be empty")
	}

	var awsConfig aws.Config
	if cfg.AWSConfig != nil {
		awsConfig = *cfg.AWSConfig
	} else {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
		}
		var err error
		awsConfig, err = config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newWithClient(client, cfg, opts...), nil
}

func newWithClient(client s3Client, cfg Config, opts ...Option) *Store {
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	s := &Store{
		client:       client,
		bucket:       cfg.Bucket,
		prefix:       prefix,
		kmsKeyID:     cfg.KMSKeyID,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(collection, id string) string {
	return s.prefix + collection + "/" + id + ".json"
}

// Add stores data under a time-ordered id so listings come back in
// insertion order.
func (s *Store) Add(ctx context.Context, collection string, data store.Document) (string, error) {
	raw, err := store.Encode(data, s.now())
	if err != nil {
		return "", err
	}
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate document id: %w", err)
	}
	id := u.String()

	in := s.putInput(collection, id, raw)
	in.IfNoneMatch = aws.String("*")
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("failed to put document %s/%s: %w", collection, id, err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Snapshot, error) {
	raw, _, err := s.read(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	doc, err := store.Decode(raw)
	if err != nil {
		return nil, err
	}
	return &store.Snapshot{ID: id, Data: doc}, nil
}

// Update merges data into the stored object with a conditional write on the
// ETag that was read, retrying when another writer got there first.
func (s *Store) Update(ctx context.Context, collection, id string, data store.Document) error {
	var lastErr error
	for attempt := 0; attempt < updateAttempts; attempt++ {
		raw, etag, err := s.read(ctx, collection, id)
		if err != nil {
			return err
		}
		merged, err := store.Merge(raw, data, s.now())
		if err != nil {
			return err
		}

		in := s.putInput(collection, id, merged)
		in.IfMatch = etag
		_, err = s.client.PutObject(ctx, in)
		if err == nil {
			return nil
		}
		if !hasCode(err, "PreconditionFailed", "ConditionalRequestConflict") {
			return fmt.Errorf("failed to put document %s/%s: %w", collection, id, err)
		}
		lastErr = err
	}
	return fmt.Errorf("failed to update document %s/%s after %d attempts: %w", collection, id, updateAttempts, lastErr)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	key := s.key(collection, id)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
		}
		return fmt.Errorf("failed to stat document %s/%s: %w", collection, id, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

// Query lists the collection, reads every object and filters in memory.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	prefix := s.prefix + q.Collection + "/"

	var docs []store.Snapshot
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list '%s': %w", q.Collection, err)
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if !strings.HasSuffix(name, ".json") || strings.Contains(name, "/") {
				continue
			}
			id := strings.TrimSuffix(name, ".json")
			raw, _, err := s.read(ctx, q.Collection, id)
			if errors.Is(err, store.ErrNotFound) {
				// Deleted between list and read.
				continue
			}
			if err != nil {
				return nil, err
			}
			doc, err := store.Decode(raw)
			if err != nil {
				return nil, err
			}
			docs = append(docs, store.Snapshot{ID: id, Data: doc})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return store.Apply(q, docs), nil
}

func (s *Store) Watch(ctx context.Context, q store.Query, fn store.WatchFunc) (func(), error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return store.Poll(ctx, s.pollInterval, func(ctx context.Context) ([]store.Snapshot, error) {
		return s.Query(ctx, q)
	}, fn), nil
}

func (s *Store) read(ctx context.Context, collection, id string) ([]byte, *string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(collection, id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
		}
		return nil, nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read document %s/%s: %w", collection, id, err)
	}
	return raw, out.ETag, nil
}

func (s *Store) putInput(collection, id string, raw []byte) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(collection, id)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	}
	if s.kmsKeyID != "" {
		in.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		in.SSEKMSKeyId = aws.String(s.kmsKeyID)
	}
	return in
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	return hasCode(err, "NoSuchKey", "NotFound")
}

func hasCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}
