package crypto

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/auditrail/auditrail/internal/domain/event"
	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/pkg/circuitbreaker"
)

// kmsAPI is the narrow slice of *kms.Client this package calls, so tests
// can substitute a fake without spinning up AWS credentials.
type kmsAPI interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	Verify(ctx context.Context, params *kms.VerifyInput, optFns ...func(*kms.Options)) (*kms.VerifyOutput, error)
}

// algToSpec maps the spec's SignatureAlgorithm values onto the KMS SDK's
// SigningAlgorithmSpec enum (§3.1's RSASSA_PSS/RSASSA_PKCS1_V1_5 families).
var algToSpec = map[event.SignatureAlgorithm]types.SigningAlgorithmSpec{
	event.SigRSASSA_PSS_SHA256:        types.SigningAlgorithmSpecRsassaPssSha256,
	event.SigRSASSA_PSS_SHA384:        types.SigningAlgorithmSpecRsassaPssSha384,
	event.SigRSASSA_PSS_SHA512:        types.SigningAlgorithmSpecRsassaPssSha512,
	event.SigRSASSA_PKCS1_V1_5_SHA256: types.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
	event.SigRSASSA_PKCS1_V1_5_SHA384: types.SigningAlgorithmSpecRsassaPkcs1V15Sha384,
	event.SigRSASSA_PKCS1_V1_5_SHA512: types.SigningAlgorithmSpecRsassaPkcs1V15Sha512,
}

// RemoteKMS signs and verifies hashes with a customer-managed AWS KMS key,
// the "KMS enabled" branch of §4.2. Calls run through the teacher's circuit
// breaker so a degraded KMS endpoint fails fast instead of stalling the
// worker pool that calls Seal per event.
type RemoteKMS struct {
	client           kmsAPI
	keyID            string
	defaultAlgorithm event.SignatureAlgorithm
	breaker          *circuitbreaker.CircuitBreaker
}

// NewRemoteKMS builds a RemoteKMS signer over client for keyID, defaulting
// Sign calls to defaultAlgorithm when the caller doesn't pin one.
func NewRemoteKMS(client kmsAPI, keyID string, defaultAlgorithm event.SignatureAlgorithm, breaker *circuitbreaker.CircuitBreaker) *RemoteKMS {
	return &RemoteKMS{client: client, keyID: keyID, defaultAlgorithm: defaultAlgorithm, breaker: breaker}
}

func (r *RemoteKMS) Sign(ctx context.Context, hash []byte) (string, event.SignatureAlgorithm, error) {
	if r.keyID == "" {
		return "", "", aerrors.New(aerrors.KindConfig, "crypto", "kms key id is not configured")
	}
	spec, ok := algToSpec[r.defaultAlgorithm]
	if !ok {
		return "", "", aerrors.New(aerrors.KindConfig, "crypto", "unsupported kms signing algorithm: "+string(r.defaultAlgorithm))
	}

	var out *kms.SignOutput
	cbErr := r.breaker.Execute(ctx, func() error {
		var err error
		out, err = r.client.Sign(ctx, &kms.SignInput{
			KeyId:            &r.keyID,
			Message:          hash,
			MessageType:      types.MessageTypeRaw,
			SigningAlgorithm: spec,
		})
		return err
	})
	if cbErr != nil {
		return "", "", aerrors.Wrap(aerrors.KindNetwork, "crypto", cbErr)
	}
	return hexEncode(out.Signature), r.defaultAlgorithm, nil
}

func (r *RemoteKMS) Verify(ctx context.Context, hash []byte, signature string, algorithm event.SignatureAlgorithm) (bool, error) {
	if r.keyID == "" {
		return false, aerrors.New(aerrors.KindConfig, "crypto", "kms key id is not configured")
	}
	spec, ok := algToSpec[algorithm]
	if !ok {
		return false, nil
	}
	sigBytes, err := hexDecode(signature)
	if err != nil {
		return false, aerrors.New(aerrors.KindValidation, "crypto", "malformed signature encoding")
	}

	var out *kms.VerifyOutput
	cbErr := r.breaker.Execute(ctx, func() error {
		var err error
		out, err = r.client.Verify(ctx, &kms.VerifyInput{
			KeyId:            &r.keyID,
			Message:          hash,
			MessageType:      types.MessageTypeRaw,
			Signature:        sigBytes,
			SigningAlgorithm: spec,
		})
		return err
	})
	if cbErr != nil {
		var unverified *types.KMSInvalidSignatureException
		if errors.As(cbErr, &unverified) {
			return false, aerrors.New(aerrors.KindIntegrity, "crypto", "kms rejected signature")
		}
		return false, aerrors.Wrap(aerrors.KindNetwork, "crypto", cbErr)
	}
	return out.SignatureValid, nil
}
