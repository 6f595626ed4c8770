package crypto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditrail/auditrail/internal/domain/event"
	aerrors "github.com/auditrail/auditrail/internal/errors"
)

func TestHashIsDeterministicAndSensitiveToInput(t *testing.T) {
	h1 := Hash("action:a|status:b")
	h2 := Hash("action:a|status:b")
	h3 := Hash("action:a|status:c")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64) // hex-encoded SHA-256
}

func TestLocalHMACSignVerifyRoundTrip(t *testing.T) {
	signer := NewLocalHMAC([]byte("a-shared-secret"))
	hash := []byte("deadbeef")

	sig, alg, err := signer.Sign(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, event.SigHMACSHA256, alg)
	assert.NotEmpty(t, sig)

	valid, err := signer.Verify(context.Background(), hash, sig, alg)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestLocalHMACVerifyRejectsTamperedSignature(t *testing.T) {
	signer := NewLocalHMAC([]byte("a-shared-secret"))
	hash := []byte("deadbeef")

	sig, alg, err := signer.Sign(context.Background(), hash)
	require.NoError(t, err)

	valid, err := signer.Verify(context.Background(), hash, sig+"00", alg)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestLocalHMACRejectsUnconfiguredKey(t *testing.T) {
	signer := NewLocalHMAC(nil)

	_, _, err := signer.Sign(context.Background(), []byte("hash"))
	require.Error(t, err)
	assert.Equal(t, aerrors.KindConfig, aerrors.KindOf(err))

	_, err = signer.Verify(context.Background(), []byte("hash"), "sig", event.SigHMACSHA256)
	require.Error(t, err)
	assert.Equal(t, aerrors.KindConfig, aerrors.KindOf(err))
}

func TestLocalHMACVerifyRejectsWrongAlgorithm(t *testing.T) {
	signer := NewLocalHMAC([]byte("a-shared-secret"))
	hash := []byte("deadbeef")

	sig, _, err := signer.Sign(context.Background(), hash)
	require.NoError(t, err)

	valid, err := signer.Verify(context.Background(), hash, sig, event.SignatureAlgorithm("RSA-SHA256"))
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestSealerSealStampsHashAndSignature(t *testing.T) {
	sealer := NewSealer(NewLocalHMAC([]byte("a-shared-secret")))
	e := baseEvent()

	sealed, err := sealer.Seal(context.Background(), e)
	require.NoError(t, err)
	assert.NotEmpty(t, sealed.Hash)
	assert.Equal(t, event.DefaultHashAlgorithm, sealed.HashAlgorithm)
	assert.NotEmpty(t, sealed.Signature)
	assert.Equal(t, event.SigHMACSHA256, sealed.SignatureAlgorithm)
}

func TestSealerVerifyRoundTrip(t *testing.T) {
	sealer := NewSealer(NewLocalHMAC([]byte("a-shared-secret")))
	e := baseEvent()

	_, err := sealer.Seal(context.Background(), e)
	require.NoError(t, err)

	result, err := sealer.Verify(context.Background(), e)
	require.NoError(t, err)
	assert.True(t, result.HashMatches)
	assert.True(t, result.SignatureValid)
	assert.Equal(t, e.Hash, result.RecomputedHash)
}

func TestSealerVerifyDetectsTamperedEvent(t *testing.T) {
	sealer := NewSealer(NewLocalHMAC([]byte("a-shared-secret")))
	e := baseEvent()

	_, err := sealer.Seal(context.Background(), e)
	require.NoError(t, err)

	e.Action = "data.delete" // mutate a critical field after sealing

	result, err := sealer.Verify(context.Background(), e)
	require.NoError(t, err)
	assert.False(t, result.HashMatches)
	assert.NotEqual(t, e.Hash, result.RecomputedHash)
}

func TestSealerSealRequiresSigner(t *testing.T) {
	sealer := NewSealer(nil)
	_, err := sealer.Seal(context.Background(), baseEvent())
	require.Error(t, err)
	assert.Equal(t, aerrors.KindConfig, aerrors.KindOf(err))
}
