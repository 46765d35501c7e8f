package ledger

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
)

// Signer authenticates ledger submissions. The ed25519 key is derived from
// the configured secret so every replica signs with the same identity.
type Signer struct {
	keyID      string
	privateKey ed25519.PrivateKey
}

func NewSigner(keyID, secret, salt string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("ledger signing secret required")
	}
	if keyID == "" {
		keyID = "settlement"
	}

	seed := deriveKey(secret, salt, ed25519.SeedSize)
	return &Signer{
		keyID:      keyID,
		privateKey: ed25519.NewKeyFromSeed(seed),
	}, nil
}

func (s *Signer) KeyID() string {
	return s.keyID
}

func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.privateKey.Public().(ed25519.PublicKey)
}

// Sign returns the base64 signature over the blake2b-256 digest of body.
func (s *Signer) Sign(body []byte) string {
	digest := blake2b.Sum256(body)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.privateKey, digest[:]))
}

// Verify checks a signature produced by Sign.
func Verify(publicKey ed25519.PublicKey, body []byte, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	digest := blake2b.Sum256(body)
	return ed25519.Verify(publicKey, digest[:], sig)
}

func deriveKey(password, salt string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), []byte(salt), 3, 32*1024, 4, keyLen)
}
