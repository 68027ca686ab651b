package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

var ErrDecrypt = errors.New("secret: unable to decrypt value")

// Cipher encrypts and decrypts secrets stored at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Keypair seals values for its public key as anonymous NaCl boxes.
type Keypair struct {
	public  *[32]byte
	private *[32]byte
}

// GenerateKeypair creates a fresh random keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("secret: generate keypair: %w", err)
	}
	return &Keypair{public: pub, private: priv}, nil
}

// NewKeypair decodes base64 encoded public and private keys.
func NewKeypair(publicKey, privateKey string) (*Keypair, error) {
	pub, err := decodeKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("secret: public key: %w", err)
	}
	priv, err := decodeKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("secret: private key: %w", err)
	}
	return &Keypair{public: pub, private: priv}, nil
}

func (k *Keypair) PublicKey() string {
	return base64.StdEncoding.EncodeToString(k.public[:])
}

func (k *Keypair) PrivateKey() string {
	return base64.StdEncoding.EncodeToString(k.private[:])
}

func (k *Keypair) Encrypt(plaintext string) (string, error) {
	sealed, err := box.SealAnonymous(nil, []byte(plaintext), k.public, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("secret: seal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (k *Keypair) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	plain, ok := box.OpenAnonymous(nil, sealed, k.public, k.private)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// Plaintext is used when no keypair is configured; values pass through unchanged.
type Plaintext struct{}

func (Plaintext) Encrypt(plaintext string) (string, error) { return plaintext, nil }

func (Plaintext) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

// New returns a Keypair cipher when keys are given, Plaintext otherwise.
func New(publicKey, privateKey string) (Cipher, error) {
	if publicKey == "" && privateKey == "" {
		return Plaintext{}, nil
	}
	return NewKeypair(publicKey, privateKey)
}

func decodeKey(encoded string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
