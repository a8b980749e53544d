package subrav

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// hashPrefix32Bytes is the standard Ethereum personal-sign prefix for
// 32-byte messages: "\x19Ethereum Signed Message:\n32".
var hashPrefix32Bytes = []byte("\x19Ethereum Signed Message:\n32")

// Signer produces a signature over a SubRAV's canonical encoding for a given
// verification-method key id (spec §3's "keyId"). Implementations hold the
// private key material; pkg/payerclient's default implementation wraps an
// *ecdsa.PrivateKey the way pkg/config.Config.GetPrivateKey caches one.
type Signer interface {
	Sign(keyID string, rav *model.SubRAV) (*model.SignedSubRAV, error)
}

// VerificationMethod is the public half of a payer identity's signing key,
// as resolved from a DID document (spec §3's "identity/DID" glossary entry).
type VerificationMethod struct {
	ID        string
	PublicKey *ecdsa.PublicKey
}

// DIDResolver resolves the verification method a payer used to sign, by
// (payerDID, keyID). The payee's billing pipeline calls this once per
// request to verify a submitted SignedSubRAV (spec §4.4 Step A).
type DIDResolver interface {
	Resolve(payerDID, keyID string) (*VerificationMethod, error)
}

// hashSubRAV applies the personal-sign-style digest construction the
// teacher's blockchain client uses for every signed payload:
// keccak256(prefix || keccak256(canonicalEncoding)).
func hashSubRAV(rav *model.SubRAV) ([]byte, error) {
	encoded, err := Encode(rav)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(hashPrefix32Bytes, crypto.Keccak256(encoded)), nil
}

// SignWithKey signs rav's canonical encoding with privateKey and returns the
// resulting SignedSubRAV. This is the building block Signer implementations
// call once they've located the right key for keyID.
func SignWithKey(rav *model.SubRAV, privateKey *ecdsa.PrivateKey) (*model.SignedSubRAV, error) {
	if rav == nil {
		return nil, fmt.Errorf("subrav: sign: nil SubRAV")
	}
	hash, err := hashSubRAV(rav)
	if err != nil {
		return nil, fmt.Errorf("subrav: sign: %w", err)
	}
	sig, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return nil, fmt.Errorf("subrav: sign: %w", err)
	}
	return &model.SignedSubRAV{SubRav: *rav, Signature: sig}, nil
}

// VerifyWithKey reports whether signed.Signature is a valid signature over
// signed.SubRav's canonical encoding under publicKey. It enforces I5 (the
// version gate) before doing any cryptographic work, per P7.
func VerifyWithKey(signed *model.SignedSubRAV, publicKey *ecdsa.PublicKey) error {
	if signed == nil {
		return fmt.Errorf("subrav: verify: nil SignedSubRAV")
	}
	if !model.SupportedVersions[signed.SubRav.Version] {
		return &DecodeError{Reason: fmt.Sprintf("unsupported version %d", signed.SubRav.Version)}
	}
	hash, err := hashSubRAV(&signed.SubRav)
	if err != nil {
		return fmt.Errorf("subrav: verify: %w", err)
	}
	if len(signed.Signature) != 65 {
		return fmt.Errorf("subrav: verify: signature must be 65 bytes, got %d", len(signed.Signature))
	}
	// crypto.Sign's recovery-id byte (signed.Signature[64]) is only valid in
	// {0,1}; VerifySignature wants the 64-byte R||S form.
	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), hash, signed.Signature[:64]) {
		return fmt.Errorf("subrav: verify: signature does not match public key")
	}
	return nil
}

// Verify resolves the payer's verification method through resolver and
// checks signed's signature against it (spec §4.4 Step A). payerDID and
// keyID identify which key should have produced the signature.
func Verify(resolver DIDResolver, payerDID, keyID string, signed *model.SignedSubRAV) error {
	vm, err := resolver.Resolve(payerDID, keyID)
	if err != nil {
		return fmt.Errorf("subrav: verify: resolve verification method: %w", err)
	}
	if vm == nil || vm.PublicKey == nil {
		return fmt.Errorf("subrav: verify: no public key for %s#%s", payerDID, keyID)
	}
	return VerifyWithKey(signed, vm.PublicKey)
}

// RecoverSigner recovers the Ethereum address that produced signed's
// signature, without needing a resolved public key up front. Used when a
// payee trusts key-to-address binding directly rather than a DID document.
func RecoverSigner(signed *model.SignedSubRAV) (common.Address, error) {
	if signed == nil {
		return common.Address{}, fmt.Errorf("subrav: recover: nil SignedSubRAV")
	}
	hash, err := hashSubRAV(&signed.SubRav)
	if err != nil {
		return common.Address{}, fmt.Errorf("subrav: recover: %w", err)
	}
	pub, err := crypto.SigToPub(hash, signed.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("subrav: recover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
