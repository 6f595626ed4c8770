package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/kms"

	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/pkg/circuitbreaker"
)

// Encryptor is the capability the GDPR pseudonym map uses to protect
// original ids at rest (§4.9 "the original id is KMS-encrypted"). It
// returns and accepts opaque, base64-safe strings so the store layer
// never needs to know which backend produced them.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// LocalEnvelope implements Encryptor with AES-256-GCM under a local key,
// the "KMS disabled" fallback §4.9 allows.
type LocalEnvelope struct {
	key []byte
}

// NewLocalEnvelope builds a LocalEnvelope over a 32-byte AES-256 key.
func NewLocalEnvelope(key []byte) *LocalEnvelope {
	return &LocalEnvelope{key: key}
}

func (l *LocalEnvelope) Encrypt(_ context.Context, plaintext string) (string, error) {
	if len(l.key) == 0 {
		return "", aerrors.New(aerrors.KindConfig, "crypto", "envelope encryption key is not configured")
	}
	block, err := aes.NewCipher(l.key)
	if err != nil {
		return "", aerrors.Wrap(aerrors.KindCrypto, "crypto", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", aerrors.Wrap(aerrors.KindCrypto, "crypto", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", aerrors.Wrap(aerrors.KindCrypto, "crypto", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func (l *LocalEnvelope) Decrypt(_ context.Context, ciphertext string) (string, error) {
	if len(l.key) == 0 {
		return "", aerrors.New(aerrors.KindConfig, "crypto", "envelope encryption key is not configured")
	}
	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", aerrors.New(aerrors.KindIntegrity, "crypto", "malformed ciphertext encoding")
	}
	block, err := aes.NewCipher(l.key)
	if err != nil {
		return "", aerrors.Wrap(aerrors.KindCrypto, "crypto", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", aerrors.Wrap(aerrors.KindCrypto, "crypto", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", aerrors.New(aerrors.KindIntegrity, "crypto", "ciphertext too short")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", aerrors.New(aerrors.KindIntegrity, "crypto", "envelope decryption failed")
	}
	return string(plaintext), nil
}

// kmsEncryptAPI is the narrow KMS surface KMSEnvelope calls.
type kmsEncryptAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSEnvelope implements Encryptor against AWS KMS's Encrypt/Decrypt
// operations, behind the same circuit breaker pattern as RemoteKMS.
type KMSEnvelope struct {
	client  kmsEncryptAPI
	keyID   string
	breaker *circuitbreaker.CircuitBreaker
}

// NewKMSEnvelope builds a KMSEnvelope over client for keyID.
func NewKMSEnvelope(client kmsEncryptAPI, keyID string, breaker *circuitbreaker.CircuitBreaker) *KMSEnvelope {
	return &KMSEnvelope{client: client, keyID: keyID, breaker: breaker}
}

func (k *KMSEnvelope) Encrypt(ctx context.Context, plaintext string) (string, error) {
	var out *kms.EncryptOutput
	err := k.breaker.Execute(ctx, func() error {
		var err error
		out, err = k.client.Encrypt(ctx, &kms.EncryptInput{KeyId: &k.keyID, Plaintext: []byte(plaintext)})
		return err
	})
	if err != nil {
		return "", aerrors.Wrap(aerrors.KindNetwork, "crypto", err)
	}
	return base64.URLEncoding.EncodeToString(out.CiphertextBlob), nil
}

func (k *KMSEnvelope) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", aerrors.New(aerrors.KindIntegrity, "crypto", "malformed ciphertext encoding")
	}
	var out *kms.DecryptOutput
	cbErr := k.breaker.Execute(ctx, func() error {
		var err error
		out, err = k.client.Decrypt(ctx, &kms.DecryptInput{KeyId: &k.keyID, CiphertextBlob: raw})
		return err
	})
	if cbErr != nil {
		return "", aerrors.Wrap(aerrors.KindNetwork, "crypto", cbErr)
	}
	return string(out.Plaintext), nil
}
