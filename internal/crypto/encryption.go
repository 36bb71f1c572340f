package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

const (
	// Algorithm is the only cipher identifier written to payloads.
	Algorithm = "AES-256-GCM"

	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	ivSize  = 12
	tagSize = 16
)

// Content types recorded next to a payload so readers know whether the
// plaintext is free text or JSON.
const (
	ContentText = "text"
	ContentJSON = "json"
)

// Payload is the envelope persisted in place of a clinical field.
// Binary members are base64 (standard encoding).
type Payload struct {
	Ciphertext  string `json:"ciphertext"`
	IV          string `json:"iv"`
	AuthTag     string `json:"authTag"`
	Algorithm   string `json:"algorithm"`
	KeyID       string `json:"keyId"`
	ContentType string `json:"contentType,omitempty"`
}

// decode validates the envelope and returns its binary parts.
func (p *Payload) decode() (iv, ciphertext, tag []byte, err error) {
	if p == nil {
		return nil, nil, nil, phierr.NewInvalidPayloadError("payload is nil")
	}
	if p.Algorithm != Algorithm {
		return nil, nil, nil, phierr.NewInvalidPayloadError(fmt.Sprintf("unsupported algorithm %q", p.Algorithm))
	}
	if p.KeyID == "" {
		return nil, nil, nil, phierr.NewInvalidPayloadError("missing key id")
	}
	if iv, err = base64.StdEncoding.DecodeString(p.IV); err != nil || len(iv) != ivSize {
		return nil, nil, nil, phierr.NewInvalidPayloadError("malformed iv")
	}
	if tag, err = base64.StdEncoding.DecodeString(p.AuthTag); err != nil || len(tag) != tagSize {
		return nil, nil, nil, phierr.NewInvalidPayloadError("malformed auth tag")
	}
	if ciphertext, err = base64.StdEncoding.DecodeString(p.Ciphertext); err != nil {
		return nil, nil, nil, phierr.NewInvalidPayloadError("malformed ciphertext")
	}
	return iv, ciphertext, tag, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size: expected %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// SealField encrypts plaintext under key with a fresh IV. The key id is used
// as associated data so a payload cannot be replayed under another key.
func SealField(key []byte, keyID string, plaintext []byte) (*Payload, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}
	sealed := aesGCM.Seal(nil, iv, plaintext, []byte(keyID))
	split := len(sealed) - aesGCM.Overhead()

	return &Payload{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:split]),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[split:]),
		Algorithm:  Algorithm,
		KeyID:      keyID,
	}, nil
}

// OpenField reverses SealField. Any tampering with the ciphertext, IV, tag or
// key id makes authentication fail.
func OpenField(key []byte, p *Payload) ([]byte, error) {
	iv, ciphertext, tag, err := p.decode()
	if err != nil {
		return nil, err
	}
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aesGCM.Open(nil, iv, sealed, []byte(p.KeyID))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptData encrypts data with key and returns nonce||ciphertext||tag.
// Used for wrapping keys, where a single opaque blob is stored.
func EncryptData(plaintext []byte, key []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aesGCM.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptData reverses EncryptData.
func DecryptData(ciphertext []byte, key []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("invalid ciphertext size")
	}
	nonce, ciphertextBytes := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
