package awskms

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

// Mock KMS client for testing
type mockKMSClient struct {
	describeKeyFunc func(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	createKeyFunc   func(ctx context.Context, params *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error)
	encryptFunc     func(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	decryptFunc     func(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

func (m *mockKMSClient) DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	if m.describeKeyFunc != nil {
		return m.describeKeyFunc(ctx, params, optFns...)
	}
	return &kms.DescribeKeyOutput{}, nil
}

func (m *mockKMSClient) CreateKey(ctx context.Context, params *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error) {
	if m.createKeyFunc != nil {
		return m.createKeyFunc(ctx, params, optFns...)
	}
	return &kms.CreateKeyOutput{}, nil
}

func (m *mockKMSClient) Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	if m.encryptFunc != nil {
		return m.encryptFunc(ctx, params, optFns...)
	}
	return &kms.EncryptOutput{}, nil
}

func (m *mockKMSClient) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if m.decryptFunc != nil {
		return m.decryptFunc(ctx, params, optFns...)
	}
	return &kms.DecryptOutput{}, nil
}

func TestNew(t *testing.T) {
	svc, err := New(context.Background(), Config{AWSConfig: &aws.Config{Region: "sa-east-1"}})
	require.NoError(t, err)
	assert.Equal(t, "sa-east-1", svc.Region())
	assert.Equal(t, map[string]string{"purpose": "fisioflow-owner-dek"}, svc.encryptionContext)
}

func TestGetKeyID(t *testing.T) {
	tests := []struct {
		name      string
		alias     string
		wantAlias string
		err       error
		wantErr   error
	}{
		{name: "adds alias prefix", alias: "fisioflow-kek", wantAlias: "alias/fisioflow-kek"},
		{name: "keeps alias prefix", alias: "alias/fisioflow-kek", wantAlias: "alias/fisioflow-kek"},
		{name: "keeps arn", alias: "arn:aws:kms:sa-east-1:1:alias/x", wantAlias: "arn:aws:kms:sa-east-1:1:alias/x"},
		{name: "empty alias", alias: "", wantErr: phierr.ErrInvalidConfiguration},
		{name: "not found", alias: "missing", wantAlias: "alias/missing", err: &types.NotFoundException{Message: aws.String("nope")}, wantErr: phierr.ErrKeyUnavailable},
		{name: "network", alias: "x", wantAlias: "alias/x", err: errors.New("dial tcp: timeout"), wantErr: phierr.ErrKMSUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAlias string
			client := &mockKMSClient{
				describeKeyFunc: func(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
					gotAlias = *params.KeyId
					if tt.err != nil {
						return nil, tt.err
					}
					return &kms.DescribeKeyOutput{KeyMetadata: &types.KeyMetadata{KeyId: aws.String("key-123")}}, nil
				},
			}
			svc := newWithClient(client, "sa-east-1", nil)

			id, err := svc.GetKeyID(context.Background(), tt.alias)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "key-123", id)
			assert.Equal(t, tt.wantAlias, gotAlias)
		})
	}
}

func TestCreateKey(t *testing.T) {
	client := &mockKMSClient{
		createKeyFunc: func(ctx context.Context, params *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error) {
			assert.Equal(t, "clinical-notes-kek", *params.Description)
			assert.Equal(t, types.KeySpecSymmetricDefault, params.KeySpec)
			return &kms.CreateKeyOutput{KeyMetadata: &types.KeyMetadata{KeyId: aws.String("new-key")}}, nil
		},
	}
	svc := newWithClient(client, "sa-east-1", nil)

	id, err := svc.CreateKey(context.Background(), "clinical-notes-kek")
	require.NoError(t, err)
	assert.Equal(t, "new-key", id)

	client.createKeyFunc = func(ctx context.Context, params *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error) {
		return &kms.CreateKeyOutput{}, nil
	}
	_, err = svc.CreateKey(context.Background(), "x")
	assert.ErrorIs(t, err, phierr.ErrKMSUnavailable)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := map[string][]byte{}

	client := &mockKMSClient{
		encryptFunc: func(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error) {
			assert.Equal(t, "purpose-x", params.EncryptionContext["purpose"])
			blob := append([]byte("blob:"), params.Plaintext...)
			store[string(blob)] = params.Plaintext
			return &kms.EncryptOutput{CiphertextBlob: blob}, nil
		},
		decryptFunc: func(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
			assert.Equal(t, "purpose-x", params.EncryptionContext["purpose"])
			plaintext, ok := store[string(params.CiphertextBlob)]
			if !ok {
				return nil, &types.InvalidCiphertextException{Message: aws.String("bad blob")}
			}
			return &kms.DecryptOutput{Plaintext: plaintext}, nil
		},
	}
	svc := newWithClient(client, "sa-east-1", map[string]string{"purpose": "purpose-x"})

	dek := []byte("0123456789abcdef0123456789abcdef")
	wrapped, err := svc.EncryptDEK(ctx, "key-123", dek)
	require.NoError(t, err)

	unwrapped, err := svc.DecryptDEK(ctx, "key-123", wrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, unwrapped)

	_, err = svc.DecryptDEK(ctx, "", []byte("tampered"))
	assert.ErrorIs(t, err, phierr.ErrKeyUnavailable)

	_, err = svc.EncryptDEK(ctx, "key-123", nil)
	assert.ErrorIs(t, err, phierr.ErrInvalidConfiguration)

	_, err = svc.DecryptDEK(ctx, "key-123", nil)
	assert.ErrorIs(t, err, phierr.ErrKeyUnavailable)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "disabled key", err: &types.DisabledException{}, want: phierr.ErrKeyUnavailable},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDeniedException"}, want: phierr.ErrKeyUnavailable},
		{name: "throttled", err: &smithy.GenericAPIError{Code: "ThrottlingException"}, want: phierr.ErrKMSUnavailable},
		{name: "internal", err: &types.KMSInternalException{}, want: phierr.ErrKMSUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", tt.err), tt.want)
		})
	}
}
