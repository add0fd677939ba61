package session

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/secretbox"
)

// sealedMagic prefixes cookie files sealed with secretbox.
var sealedMagic = []byte("audasnap-sealed-v1\n")

// ErrSealed is returned when a sealed cookie file cannot be opened with the
// configured key, or a key is missing.
var ErrSealed = errors.New("session: cookie file is sealed with another key")

// Store persists the browser cookies between runs. Writes replace the file;
// cookies are never merged.
type Store struct {
	path string
	key  *[32]byte
}

// NewStore returns a cookie store at path. A non-empty secret seals the
// file with NaCl secretbox.
func NewStore(path, secret string) *Store {
	s := &Store{path: path}
	if secret != "" {
		k := blake2b.Sum256([]byte(secret))
		s.key = &k
	}
	return s
}

// Path returns the cookie file location.
func (s *Store) Path() string { return s.path }

// Load returns the cached cookies, or nil when no file exists.
func (s *Store) Load() ([]*proto.NetworkCookie, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read cookies: %w", err)
	}

	if bytes.HasPrefix(data, sealedMagic) {
		if s.key == nil {
			return nil, ErrSealed
		}
		data, err = s.open(data[len(sealedMagic):])
		if err != nil {
			return nil, err
		}
	}

	var cookies []*proto.NetworkCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("session: decode cookies: %w", err)
	}
	return cookies, nil
}

// Save overwrites the cookie file atomically.
func (s *Store) Save(cookies []*proto.NetworkCookie) error {
	data, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("session: encode cookies: %w", err)
	}
	if s.key != nil {
		sealed, err := s.seal(data)
		if err != nil {
			return err
		}
		data = append(append([]byte{}, sealedMagic...), sealed...)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("session: mkdir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session: write cookies: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: rename cookies: %w", err)
	}
	return nil
}

// Discard removes the cookie file. A missing file is not an error.
func (s *Store) Discard() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: discard cookies: %w", err)
	}
	return nil
}

func (s *Store) seal(plain []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("session: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, s.key), nil
}

func (s *Store) open(box []byte) ([]byte, error) {
	if len(box) < 24 {
		return nil, ErrSealed
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, s.key)
	if !ok {
		return nil, ErrSealed
	}
	return plain, nil
}
