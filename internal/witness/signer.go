package witness

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is a recoverable secp256k1 signature and its signer address.
type Signature struct {
	Signer string `json:"signer"`
	Value  string `json:"signature"`
}

// Signer holds a secp256k1 key used to witness events.
type Signer struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewSigner parses a hex private key, with or without 0x.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return newSigner(key), nil
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return newSigner(key), nil
}

func newSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}
}

// Address is the lowercase hex address of the signer.
func (s *Signer) Address() string { return s.address }

// Derive returns a deterministic child signer labelled label.
func (s *Signer) Derive(label string) (*Signer, error) {
	seed := crypto.Keccak256(crypto.FromECDSA(s.key), []byte(label))
	key, err := crypto.ToECDSA(seed)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", label, err)
	}
	return newSigner(key), nil
}

// Sign signs the EIP-191 hash of message.
func (s *Signer) Sign(message string) (Signature, error) {
	sig, err := crypto.Sign(hashMessage(message), s.key)
	if err != nil {
		return Signature{}, fmt.Errorf("sign: %w", err)
	}
	sig[64] += 27
	return Signature{Signer: s.address, Value: "0x" + hex.EncodeToString(sig)}, nil
}

// hashMessage prefixes message per EIP-191 and hashes it with Keccak-256.
func hashMessage(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix + message))
}

// RecoverAddress returns the lowercase address that produced sigHex over
// message.
func RecoverAddress(message, sigHex string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(hashMessage(message), sig)
	if err != nil {
		return "", fmt.Errorf("recover public key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}
