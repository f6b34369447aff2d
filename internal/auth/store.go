package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	keyInfo        = "cardscan identity file v1"
	additionalData = "cardscan-identity-v1"
)

var (
	// ErrNoIdentity is returned by Load when no identity file exists yet.
	ErrNoIdentity = errors.New("auth: no identity stored")

	// ErrCorrupt is returned when the identity file cannot be decrypted with
	// the configured secret.
	ErrCorrupt = errors.New("auth: identity file is corrupt or the secret is wrong")
)

// Identity is what the device remembers between runs.
type Identity struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id,omitempty"`
	Token    string `json:"token,omitempty"`
}

// FileStore keeps an Identity in a file encrypted with XChaCha20-Poly1305.
// The key is derived from a secret with HKDF-SHA256.
type FileStore struct {
	path string
	aead cipher.AEAD
}

func NewFileStore(path, secret string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("auth: identity path must not be empty")
	}
	if secret == "" {
		return nil, fmt.Errorf("auth: identity secret must not be empty")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("auth: failed to derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to initialise cipher: %w", err)
	}
	return &FileStore{path: path, aead: aead}, nil
}

func (s *FileStore) Path() string { return s.path }

// Load reads and decrypts the identity file.
func (s *FileStore) Load() (Identity, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Identity{}, ErrNoIdentity
	}
	if err != nil {
		return Identity{}, fmt.Errorf("auth: failed to read identity file: %w", err)
	}

	ns := s.aead.NonceSize()
	if len(b) < ns+s.aead.Overhead() {
		return Identity{}, ErrCorrupt
	}
	plain, err := s.aead.Open(nil, b[:ns], b[ns:], []byte(additionalData))
	if err != nil {
		return Identity{}, ErrCorrupt
	}

	var id Identity
	if err := json.Unmarshal(plain, &id); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return id, nil
}

// Save encrypts id and replaces the identity file.
func (s *FileStore) Save(id Identity) error {
	plain, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("auth: failed to encode identity: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("auth: failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plain, []byte(additionalData))

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("auth: failed to create identity directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return fmt.Errorf("auth: failed to write identity file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(sealed); err != nil {
		_ = f.Close()
		return fmt.Errorf("auth: failed to write identity file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("auth: failed to write identity file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("auth: failed to replace identity file: %w", err)
	}
	return nil
}
