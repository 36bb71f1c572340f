// Package awskms wraps owner data keys with an AWS KMS symmetric key.
package awskms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

// kmsClient interface for AWS KMS operations (allows mocking)
type kmsClient interface {
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	CreateKey(ctx context.Context, params *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error)
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSService wraps data keys with AWS KMS.
type KMSService struct {
	client            kmsClient
	region            string
	encryptionContext map[string]string
}

// Config holds configuration for AWS KMS service.
type Config struct {
	// Region is the AWS region (e.g., "sa-east-1").
	// If empty, uses AWS_REGION environment variable or AWS config file
	Region string

	// Endpoint overrides the KMS endpoint (LocalStack and similar).
	Endpoint string

	// EncryptionContext is bound to every wrapped key and must match on
	// unwrap. Defaults to {"purpose": "fisioflow-owner-dek"}.
	EncryptionContext map[string]string

	// AWSConfig is an optional pre-configured AWS config
	// If provided, Region is ignored
	AWSConfig *aws.Config
}

// New creates a new AWS KMS service instance.
func New(ctx context.Context, cfg Config) (*KMSService, error) {
	var awsConfig aws.Config
	if cfg.AWSConfig != nil {
		awsConfig = *cfg.AWSConfig
	} else {
		opts := []func(*config.LoadOptions) error{}
		if cfg.Region != "" {
			opts = append(opts, config.WithRegion(cfg.Region))
		}
		var err error
		awsConfig, err = config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load AWS config: %w", phierr.ErrKMSUnavailable, err)
		}
	}

	var clientOpts []func(*kms.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return newWithClient(kms.NewFromConfig(awsConfig, clientOpts...), awsConfig.Region, cfg.EncryptionContext), nil
}

func newWithClient(client kmsClient, region string, encryptionContext map[string]string) *KMSService {
	if len(encryptionContext) == 0 {
		encryptionContext = map[string]string{"purpose": "fisioflow-owner-dek"}
	}
	return &KMSService{client: client, region: region, encryptionContext: encryptionContext}
}

// GetKeyID returns the key id an alias points to. The "alias/" prefix is
// added when missing.
func (k *KMSService) GetKeyID(ctx context.Context, alias string) (string, error) {
	if alias == "" {
		return "", fmt.Errorf("%w: alias cannot be empty", phierr.ErrInvalidConfiguration)
	}
	aliasName := alias
	if !strings.HasPrefix(alias, "alias/") && !strings.HasPrefix(alias, "arn:") {
		aliasName = "alias/" + alias
	}

	result, err := k.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(aliasName)})
	if err != nil {
		return "", classify(fmt.Sprintf("describe key %s", aliasName), err)
	}
	if result.KeyMetadata == nil || result.KeyMetadata.KeyId == nil {
		return "", fmt.Errorf("%w: no key metadata returned for alias %s", phierr.ErrKMSUnavailable, aliasName)
	}
	return *result.KeyMetadata.KeyId, nil
}

// CreateKey creates a symmetric encrypt/decrypt key described by description.
// Aliases are managed outside this service.
func (k *KMSService) CreateKey(ctx context.Context, description string) (string, error) {
	result, err := k.client.CreateKey(ctx, &kms.CreateKeyInput{
		Description: aws.String(description),
		KeyUsage:    types.KeyUsageTypeEncryptDecrypt,
		KeySpec:     types.KeySpecSymmetricDefault,
		MultiRegion: aws.Bool(false),
		Tags: []types.Tag{
			{TagKey: aws.String("application"), TagValue: aws.String("fisioflow")},
		},
	})
	if err != nil {
		return "", classify("create key", err)
	}
	if result.KeyMetadata == nil || result.KeyMetadata.KeyId == nil {
		return "", fmt.Errorf("%w: no key metadata returned after creation", phierr.ErrKMSUnavailable)
	}
	return *result.KeyMetadata.KeyId, nil
}

// EncryptDEK wraps plaintext with keyID and returns the raw ciphertext blob.
func (k *KMSService) EncryptDEK(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: plaintext cannot be empty", phierr.ErrInvalidConfiguration)
	}
	result, err := k.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(keyID),
		Plaintext:         plaintext,
		EncryptionContext: k.encryptionContext,
	})
	if err != nil {
		return nil, classify(fmt.Sprintf("encrypt DEK with key %s", keyID), err)
	}
	if len(result.CiphertextBlob) == 0 {
		return nil, fmt.Errorf("%w: no ciphertext returned from KMS", phierr.ErrKMSUnavailable)
	}
	return result.CiphertextBlob, nil
}

// DecryptDEK unwraps a blob produced by EncryptDEK. AWS KMS finds the key
// from the blob; keyID is passed along to pin it when set.
func (k *KMSService) DecryptDEK(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: ciphertext cannot be empty", phierr.ErrKeyUnavailable)
	}
	input := &kms.DecryptInput{
		CiphertextBlob:    ciphertext,
		EncryptionContext: k.encryptionContext,
	}
	if keyID != "" {
		input.KeyId = aws.String(keyID)
	}

	result, err := k.client.Decrypt(ctx, input)
	if err != nil {
		return nil, classify("decrypt DEK", err)
	}
	if result.Plaintext == nil {
		return nil, fmt.Errorf("%w: no plaintext returned from KMS", phierr.ErrKMSUnavailable)
	}
	return result.Plaintext, nil
}

// Region returns the AWS region this KMS service is configured for.
func (k *KMSService) Region() string {
	return k.region
}

// classify maps AWS failures onto the shared taxonomy. Errors the caller
// cannot fix by retrying become ErrKeyUnavailable; the rest are treated as
// transient KMS outages.
func classify(op string, err error) error {
	var (
		notFound  *types.NotFoundException
		disabled  *types.DisabledException
		invalid   *types.InvalidCiphertextException
		incorrect *types.IncorrectKeyException
		badState  *types.KMSInvalidStateException
		apiErr    smithy.APIError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &disabled), errors.As(err, &invalid),
		errors.As(err, &incorrect), errors.As(err, &badState):
		return fmt.Errorf("%w: failed to %s: %w", phierr.ErrKeyUnavailable, op, err)
	case errors.As(err, &apiErr) && apiErr.ErrorCode() == "AccessDeniedException":
		return fmt.Errorf("%w: failed to %s: %w", phierr.ErrKeyUnavailable, op, err)
	default:
		return fmt.Errorf("%w: failed to %s: %w", phierr.ErrKMSUnavailable, op, err)
	}
}
