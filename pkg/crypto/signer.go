package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain tags for signature domain separation. A signature over one domain
// can never verify under another, so a vote signature cannot be replayed as a
// proposal signature or vice versa.
const (
	DomainPropose    = "slate/propose/v1"
	DomainVote       = "slate/vote/v1"
	DomainSeed       = "slate/seed/v1"
	DomainCheckpoint = "slate/checkpoint/v1"
)

// Signer manages a secp256k1 key pair for consensus message signing.
// The derived address is the node's validator identity.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	address    common.Address
}

// GenerateKey creates a new random secp256k1 key pair.
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return fromPrivateKey(privateKey)
}

// FromPrivateKeyHex creates a Signer from a hex-encoded private key
// (64 hex chars, with or without 0x prefix handled by caller).
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return fromPrivateKey(privateKey)
}

func fromPrivateKey(privateKey *ecdsa.PrivateKey) (*Signer, error) {
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}
	return &Signer{
		privateKey: privateKey,
		publicKey:  publicKeyECDSA,
		address:    crypto.PubkeyToAddress(*publicKeyECDSA),
	}, nil
}

// Address returns the validator identity derived from the public key.
func (s *Signer) Address() common.Address { return s.address }

// PrivateKeyHex returns the private key as hex string (no 0x prefix).
// WARNING: keep this secret, never log it.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// PublicKeyHex returns the uncompressed public key as hex (130 chars).
func (s *Signer) PublicKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSAPub(s.publicKey))
}

// DigestWithDomain hashes a canonical message encoding under a domain tag.
// Both signing and verification must use the same tag.
func DigestWithDomain(domain string, encoded []byte) [32]byte {
	return crypto.Keccak256Hash([]byte(domain), encoded)
}

// SignDomain signs the domain-tagged digest of a canonical encoding.
// Returns the signature in [R || S || V] format (65 bytes).
func (s *Signer) SignDomain(domain string, encoded []byte) ([]byte, error) {
	digest := DigestWithDomain(domain, encoded)
	signature, err := crypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return signature, nil
}

// VerifyDomain checks a domain-tagged signature against an expected address.
// Returns false on any malformation; never panics.
func VerifyDomain(address common.Address, domain string, encoded, signature []byte) bool {
	recovered, err := RecoverDomain(domain, encoded, signature)
	if err != nil {
		return false
	}
	return recovered == address
}

// RecoverDomain recovers the signer address from a domain-tagged signature.
func RecoverDomain(domain string, encoded, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	digest := DigestWithDomain(domain, encoded)
	publicKeyBytes, err := crypto.Ecrecover(digest[:], signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	publicKey, err := crypto.UnmarshalPubkey(publicKeyBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}
