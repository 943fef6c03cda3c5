package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by DefaultKeyProvider.
const (
	EnvEncryptionKey = "TURNSCRIBE_ENCRYPTION_KEY"
	EnvPassphrase    = "TURNSCRIBE_PASSPHRASE"
)

const (
	keyringService = "turnscribe"
	keyringAccount = "credentials-key"

	// keyLength is an AES-256 key.
	keyLength  = 32
	saltLength = 16
)

// ErrKeyringUnavailable means no system keyring answered.
var ErrKeyringUnavailable = errors.New("system keyring unavailable")

// KeyProvider supplies the key that encrypts stored tokens.
type KeyProvider interface {
	Key() ([]byte, error)
	// Description names where the key lives, for "auth status".
	Description() string
}

// decodeKey parses a hex-encoded 32-byte key.
func decodeKey(s, source string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid key in %s: %w", source, err)
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("key in %s must be %d bytes, got %d", source, keyLength, len(key))
	}
	return key, nil
}

// EnvKeyProvider reads a hex key from an environment variable. Used in CI
// and containers, where no keyring exists.
type EnvKeyProvider struct {
	envVar string
}

// NewEnvKeyProvider reads the key from envVar.
func NewEnvKeyProvider(envVar string) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar}
}

func (p *EnvKeyProvider) Key() ([]byte, error) {
	v := os.Getenv(p.envVar)
	if v == "" {
		return nil, fmt.Errorf("environment variable %s not set", p.envVar)
	}
	return decodeKey(v, p.envVar)
}

func (p *EnvKeyProvider) Description() string {
	return "environment variable " + p.envVar
}

// KeyringKeyProvider keeps a random key in the OS keyring, creating it on
// first use.
type KeyringKeyProvider struct{}

// NewKeyringKeyProvider returns the keyring-backed provider.
func NewKeyringKeyProvider() *KeyringKeyProvider {
	return &KeyringKeyProvider{}
}

func (p *KeyringKeyProvider) Key() ([]byte, error) {
	stored, err := keyring.Get(keyringService, keyringAccount)
	switch {
	case err == nil:
		if key, derr := decodeKey(stored, "keyring"); derr == nil {
			return key, nil
		}
		// A corrupt entry is replaced; tokens under it were unreadable anyway.
	case !errors.Is(err, keyring.ErrNotFound):
		return nil, fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}

	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	if err := keyring.Set(keyringService, keyringAccount, hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("%w: storing key: %v", ErrKeyringUnavailable, err)
	}
	return key, nil
}

func (p *KeyringKeyProvider) Description() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	}
	return "Secret Service keyring"
}

// Argon2id cost for passphrase keys.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

// PassphraseKeyProvider derives the key from a passphrase with Argon2id. The
// salt is written to the credentials file next to the tokens.
type PassphraseKeyProvider struct {
	passphrase string
	salt       []byte
}

// NewPassphraseKeyProvider derives keys from passphrase and salt.
func NewPassphraseKeyProvider(passphrase string, salt []byte) *PassphraseKeyProvider {
	return &PassphraseKeyProvider{passphrase: passphrase, salt: salt}
}

func (p *PassphraseKeyProvider) Key() ([]byte, error) {
	switch {
	case p.passphrase == "":
		return nil, errors.New("passphrase is required")
	case len(p.salt) == 0:
		return nil, errors.New("salt is required")
	}
	return argon2.IDKey([]byte(p.passphrase), p.salt, argon2Time, argon2Memory, argon2Threads, keyLength), nil
}

func (p *PassphraseKeyProvider) Description() string {
	return "passphrase from " + EnvPassphrase + " (Argon2id)"
}

// NewSalt returns a random salt for a passphrase key.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// LoadSalt returns the salt recorded in dir's credentials file, or a new one
// when the file has none yet.
func LoadSalt(dir string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, DefaultCredentialsFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if f.Salt == "" {
		return NewSalt()
	}
	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	return salt, nil
}

// DefaultKeyProvider picks, in order: TURNSCRIBE_ENCRYPTION_KEY, the system
// keyring, then TURNSCRIBE_PASSPHRASE with the salt kept under dir.
func DefaultKeyProvider(dir string) (KeyProvider, error) {
	if os.Getenv(EnvEncryptionKey) != "" {
		return NewEnvKeyProvider(EnvEncryptionKey), nil
	}

	kp := NewKeyringKeyProvider()
	_, err := kp.Key()
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, ErrKeyringUnavailable) {
		return nil, err
	}

	if passphrase := os.Getenv(EnvPassphrase); passphrase != "" {
		salt, err := LoadSalt(dir)
		if err != nil {
			return nil, err
		}
		return NewPassphraseKeyProvider(passphrase, salt), nil
	}
	return nil, fmt.Errorf("set %s or %s: %w", EnvEncryptionKey, EnvPassphrase, err)
}
