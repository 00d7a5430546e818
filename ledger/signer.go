package ledger

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer authorises ledger submissions on behalf of one bound identity.
// Key custody lives outside this module; implementations may delegate to a
// wallet service, an HSM, or (for tooling) an in-memory key.
type Signer interface {
	// Address returns the 0x-hex address of the bound identity.
	Address() string
	// Sign produces a signature over the supplied 32-byte digest.
	Sign(digest []byte) ([]byte, error)
}

// KeySigner signs submissions with an in-memory secp256k1 key. It exists for
// operator tooling and tests; production deployments should supply a Signer
// backed by external custody.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewKeySigner parses a hex-encoded private key and derives its address.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("ledger: private key required")
	}
	key, err := ethcrypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse private key: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	return &KeySigner{key: key, address: strings.ToLower(addr.Hex())}, nil
}

func (s *KeySigner) Address() string {
	if s == nil {
		return ""
	}
	return s.address
}

func (s *KeySigner) Sign(digest []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, fmt.Errorf("ledger: signer not initialised")
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("ledger: digest must be 32 bytes, got %d", len(digest))
	}
	return ethcrypto.Sign(digest, s.key)
}
