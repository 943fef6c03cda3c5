// Package credentials stores the API tokens turnscribe hands to recognition
// and diarization backends. Tokens live in ~/.turnscribe/credentials.yaml,
// each encrypted with AES-GCM.
//
// The encryption key comes from a KeyProvider: TURNSCRIBE_ENCRYPTION_KEY
// (64 hex characters) when set, otherwise the system keyring, otherwise a
// passphrase from TURNSCRIBE_PASSPHRASE stretched with Argon2id.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credential storage constants.
const (
	DefaultCredentialsDir  = ".turnscribe"
	DefaultCredentialsFile = "credentials.yaml"

	// EnvPrefix prefixes the environment override of a token:
	// token "hf" is read from TURNSCRIBE_TOKEN_HF.
	EnvPrefix = "TURNSCRIBE_TOKEN_"
)

// Common errors.
var (
	// ErrNoCredentials is returned when the named token is not stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrInvalidName is returned for token names outside [a-z0-9_-].
	ErrInvalidName = errors.New("invalid token name")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// wellKnownEnv maps token names to the variables their tools already read.
var wellKnownEnv = map[string]string{
	"huggingface": "HUGGING_FACE_HUB_TOKEN",
	"openai":      "OPENAI_API_KEY",
}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Token is one stored secret.
type Token struct {
	// Value is the secret, encrypted at rest.
	Value string `yaml:"value"`
	// UpdatedAt is when the token was last set.
	UpdatedAt time.Time `yaml:"updated_at"`
}

// Source reports where a resolved token came from.
type Source string

const (
	SourceEnv    Source = "environment"
	SourceStored Source = "stored"
)

// fileFormat is the on-disk layout of the credentials file.
type fileFormat struct {
	Tokens map[string]Token `yaml:"tokens"`
	// Salt is set when tokens are encrypted with a passphrase-derived key.
	Salt string `yaml:"salt,omitempty"`
}

// Store manages credential storage operations.
type Store struct {
	credentialsDir string
	encryptionKey  []byte
	keyProvider    KeyProvider
}

// NewStore creates a store in the default directory using the default key
// provider.
func NewStore() (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}

	keyProvider, err := DefaultKeyProvider(dir)
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}

	return newStore(dir, keyProvider)
}

// NewStoreWithKeyProvider creates a store in dir with a custom key provider.
func NewStoreWithKeyProvider(dir string, keyProvider KeyProvider) (*Store, error) {
	return newStore(dir, keyProvider)
}

func newStore(dir string, keyProvider KeyProvider) (*Store, error) {
	key, err := keyProvider.Key()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}
	return &Store{
		credentialsDir: dir,
		encryptionKey:  key,
		keyProvider:    keyProvider,
	}, nil
}

// CredentialsDir returns the credentials directory path.
// Uses $TURNSCRIBE_CONFIG_DIR if set, otherwise ~/.turnscribe
func CredentialsDir() (string, error) {
	if dir := os.Getenv("TURNSCRIBE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultCredentialsDir), nil
}

// Path returns the credentials file of the store.
func (s *Store) Path() string {
	return filepath.Join(s.credentialsDir, DefaultCredentialsFile)
}

// KeyDescription describes where the encryption key is kept.
func (s *Store) KeyDescription() string {
	return s.keyProvider.Description()
}

// ValidateName checks a token name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (use lowercase letters, digits, '-' or '_')", ErrInvalidName, name)
	}
	return nil
}

// EnvVar returns the environment variable that overrides the named token.
func EnvVar(name string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// Set encrypts and stores a token, replacing any previous value.
func (s *Store) Set(name, value string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("token %s: value is empty", name)
	}

	f, err := s.read()
	if err != nil {
		return err
	}

	encrypted, err := s.encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypting token %s: %w", name, err)
	}
	f.Tokens[name] = Token{Value: encrypted, UpdatedAt: time.Now().UTC()}

	return s.write(f)
}

// Get decrypts the named stored token. Environment overrides are not
// consulted; use Resolve for that.
func (s *Store) Get(name string) (string, error) {
	f, err := s.read()
	if err != nil {
		return "", err
	}
	tok, ok := f.Tokens[name]
	if !ok {
		return "", fmt.Errorf("token %s: %w", name, ErrNoCredentials)
	}
	value, err := s.decrypt(tok.Value)
	if err != nil {
		return "", fmt.Errorf("decrypting token %s: %w", name, err)
	}
	return value, nil
}

// Resolve returns the named token, preferring TURNSCRIBE_TOKEN_<NAME>, then
// the variable the backend's own tooling reads, then the stored value.
func (s *Store) Resolve(name string) (string, Source, error) {
	if v, ok := ResolveEnv(name); ok {
		return v, SourceEnv, nil
	}
	v, err := s.Get(name)
	if err != nil {
		return "", "", err
	}
	return v, SourceStored, nil
}

// ResolveEnv returns the environment override of the named token, if any.
func ResolveEnv(name string) (string, bool) {
	if v := os.Getenv(EnvVar(name)); v != "" {
		return v, true
	}
	if env, ok := wellKnownEnv[name]; ok {
		if v := os.Getenv(env); v != "" {
			return v, true
		}
	}
	return "", false
}

// Delete removes the named token. Removing a missing token is not an error.
func (s *Store) Delete(name string) error {
	f, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := f.Tokens[name]; !ok {
		return nil
	}
	delete(f.Tokens, name)
	return s.write(f)
}

// List returns the stored token names with their update times, sorted by name.
func (s *Store) List() ([]string, map[string]time.Time, error) {
	f, err := s.read()
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(f.Tokens))
	updated := make(map[string]time.Time, len(f.Tokens))
	for name, tok := range f.Tokens {
		names = append(names, name)
		updated[name] = tok.UpdatedAt
	}
	sort.Strings(names)
	return names, updated, nil
}

// read loads the credentials file. A missing file is an empty store.
func (s *Store) read() (*fileFormat, error) {
	f := &fileFormat{Tokens: map[string]Token{}}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if f.Tokens == nil {
		f.Tokens = map[string]Token{}
	}
	return f, nil
}

func (s *Store) write(f *fileFormat) error {
	if err := os.MkdirAll(s.credentialsDir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	if sp, ok := s.keyProvider.(*PassphraseKeyProvider); ok {
		f.Salt = base64.StdEncoding.EncodeToString(sp.salt)
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	// Write with restrictive permissions
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

// encrypt encrypts a string using AES-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	gcm, err := newGCM(s.encryptionKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	gcm, err := newGCM(s.encryptionKey)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}
	return gcm, nil
}

// Mask hides all but the first and last four characters of a secret.
func Mask(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
