// Package crypto implements audit-event sealing (C1): canonicalization,
// hashing, and signing, either with a local HMAC key or a remote KMS,
// behind a single Signer capability — the teacher's JWT/session hashing
// idiom (crypto/sha256, crypto/hmac, hex-encoded digests) generalized to
// the spec's polymorphic local/KMS signer contract (DESIGN NOTES §9).
package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/auditrail/auditrail/internal/domain/event"
	aerrors "github.com/auditrail/auditrail/internal/errors"
)

// Signer seals a hash with a signature and verifies one back, without the
// caller knowing whether the key lives locally or in a remote KMS.
type Signer interface {
	// Sign returns a hex-encoded signature over hash and the algorithm used.
	Sign(ctx context.Context, hash []byte) (signature string, algorithm event.SignatureAlgorithm, err error)
	// Verify reports whether signature is valid for hash under algorithm.
	Verify(ctx context.Context, hash []byte, signature string, algorithm event.SignatureAlgorithm) (bool, error)
}

// Hash computes the SHA-256 hex digest of the canonical critical-fields
// string (§4.2 "Hash").
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Sealer seals and verifies events end to end: canonicalize, hash, sign.
type Sealer struct {
	signer Signer
}

// NewSealer builds a Sealer over the given Signer.
func NewSealer(signer Signer) *Sealer {
	return &Sealer{signer: signer}
}

// Seal computes and stamps hash/hashAlgorithm/signature/signatureAlgorithm
// on e in place, returning e for convenience.
func (s *Sealer) Seal(ctx context.Context, e *event.Event) (*event.Event, error) {
	if s.signer == nil {
		return nil, aerrors.New(aerrors.KindConfig, "crypto", "no signer configured")
	}

	canonical := Canonicalize(e)
	h := Hash(canonical)

	sig, alg, err := s.signer.Sign(ctx, []byte(h))
	if err != nil {
		return nil, err
	}

	e.Hash = h
	e.HashAlgorithm = event.DefaultHashAlgorithm
	e.Signature = sig
	e.SignatureAlgorithm = alg
	return e, nil
}

// VerifyResult describes the two independent checks a verification makes:
// the hash recomputation (I2) and the signature check (I3).
type VerifyResult struct {
	HashMatches      bool
	SignatureValid   bool
	RecomputedHash   string
}

// Verify recomputes the canonical hash and checks it — and the stored
// signature — against e's stamped values, in constant time for the hash
// comparison (§4.2 "Verify").
func (s *Sealer) Verify(ctx context.Context, e *event.Event) (*VerifyResult, error) {
	recomputed := Hash(Canonicalize(e))
	hashMatches := subtle.ConstantTimeCompare([]byte(recomputed), []byte(e.Hash)) == 1

	result := &VerifyResult{HashMatches: hashMatches, RecomputedHash: recomputed}

	if e.Signature == "" {
		return result, nil
	}
	if s.signer == nil {
		return result, aerrors.New(aerrors.KindConfig, "crypto", "no signer configured")
	}

	valid, err := s.signer.Verify(ctx, []byte(e.Hash), e.Signature, e.SignatureAlgorithm)
	if err != nil {
		return result, err
	}
	result.SignatureValid = valid
	return result, nil
}

// LocalHMAC signs and verifies with a shared secret via HMAC-SHA256, the
// "KMS disabled" branch of §4.2.
type LocalHMAC struct {
	key []byte
}

// NewLocalHMAC builds a LocalHMAC signer. An empty key is a CONFIG_ERROR
// at Sign/Verify time, not at construction, matching the teacher's
// lazy-validation style in NewEmailService.
func NewLocalHMAC(key []byte) *LocalHMAC {
	return &LocalHMAC{key: key}
}

func (h *LocalHMAC) Sign(_ context.Context, hash []byte) (string, event.SignatureAlgorithm, error) {
	if len(h.key) == 0 {
		return "", "", aerrors.New(aerrors.KindConfig, "crypto", "hmac signing key is not configured")
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write(hash)
	return hex.EncodeToString(mac.Sum(nil)), event.SigHMACSHA256, nil
}

func (h *LocalHMAC) Verify(_ context.Context, hash []byte, signature string, algorithm event.SignatureAlgorithm) (bool, error) {
	if len(h.key) == 0 {
		return false, aerrors.New(aerrors.KindConfig, "crypto", "hmac signing key is not configured")
	}
	if algorithm != event.SigHMACSHA256 {
		return false, nil
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write(hash)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func hexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }
