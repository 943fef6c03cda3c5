package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testEncryptionKey is a fixed 32-byte key, hex-encoded.
const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv("TEST_TURNSCRIBE_STORE_KEY", testEncryptionKey)
	store, err := NewStoreWithKeyProvider(t.TempDir(), NewEnvKeyProvider("TEST_TURNSCRIBE_STORE_KEY"))
	if err != nil {
		t.Fatalf("NewStoreWithKeyProvider() error = %v", err)
	}
	return store
}

func TestCredentialsDir(t *testing.T) {
	t.Setenv("TURNSCRIBE_CONFIG_DIR", "")
	dir, err := CredentialsDir()
	if err != nil {
		t.Fatalf("CredentialsDir() error = %v", err)
	}
	home, _ := os.UserHomeDir()
	if want := filepath.Join(home, DefaultCredentialsDir); dir != want {
		t.Errorf("CredentialsDir() = %v, want %v", dir, want)
	}

	t.Setenv("TURNSCRIBE_CONFIG_DIR", "/tmp/turnscribe-creds")
	dir, _ = CredentialsDir()
	if dir != "/tmp/turnscribe-creds" {
		t.Errorf("CredentialsDir() with env = %v", dir)
	}
}

func TestStore_SetAndGet(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set("huggingface", "hf_secret_value"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get("huggingface")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "hf_secret_value" {
		t.Errorf("Get() = %q, want hf_secret_value", got)
	}

	// The secret must not appear in the file.
	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("reading credentials file: %v", err)
	}
	if strings.Contains(string(data), "hf_secret_value") {
		t.Error("credentials file contains the plaintext token")
	}

	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("credentials file mode = %o, want 600", perm)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("openai")
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Get() error = %v, want ErrNoCredentials", err)
	}
}

func TestStore_SetValidation(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"", "Upper", "../escape", "has space", "-leading"} {
		if err := store.Set(name, "x"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Set(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
	if err := store.Set("ok", ""); err == nil {
		t.Error("Set() with empty value should fail")
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"whisper", "huggingface"} {
		if err := store.Set(name, "value-"+name); err != nil {
			t.Fatalf("Set(%s) error = %v", name, err)
		}
	}

	names, updated, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if strings.Join(names, ",") != "huggingface,whisper" {
		t.Errorf("List() = %v", names)
	}
	if updated["whisper"].IsZero() {
		t.Error("List() missing update time")
	}

	if err := store.Delete("whisper"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete("whisper"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
	names, _, _ = store.List()
	if len(names) != 1 || names[0] != "huggingface" {
		t.Errorf("List() after delete = %v", names)
	}
}

func TestStore_Resolve(t *testing.T) {
	store := newTestStore(t)
	if err := store.Set("huggingface", "stored"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	t.Setenv("TURNSCRIBE_TOKEN_HUGGINGFACE", "")
	t.Setenv("HUGGING_FACE_HUB_TOKEN", "")
	v, src, err := store.Resolve("huggingface")
	if err != nil || v != "stored" || src != SourceStored {
		t.Errorf("Resolve() = %q, %q, %v; want stored value", v, src, err)
	}

	t.Setenv("HUGGING_FACE_HUB_TOKEN", "from-hub-env")
	v, src, _ = store.Resolve("huggingface")
	if v != "from-hub-env" || src != SourceEnv {
		t.Errorf("Resolve() = %q, %q; want well-known env value", v, src)
	}

	t.Setenv("TURNSCRIBE_TOKEN_HUGGINGFACE", "from-prefixed-env")
	v, _, _ = store.Resolve("huggingface")
	if v != "from-prefixed-env" {
		t.Errorf("Resolve() = %q; prefixed env should win", v)
	}

	if _, _, err := store.Resolve("missing"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Resolve(missing) error = %v", err)
	}
}

func TestEnvVar(t *testing.T) {
	if got := EnvVar("my-asr"); got != "TURNSCRIBE_TOKEN_MY_ASR" {
		t.Errorf("EnvVar() = %s", got)
	}
}

func TestStore_WrongKey(t *testing.T) {
	store := newTestStore(t)
	if err := store.Set("whisper", "secret"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	t.Setenv("OTHER_KEY", strings.Repeat("ab", 32))
	other, err := NewStoreWithKeyProvider(filepath.Dir(store.Path()), NewEnvKeyProvider("OTHER_KEY"))
	if err != nil {
		t.Fatalf("NewStoreWithKeyProvider() error = %v", err)
	}
	if _, err := other.Get("whisper"); !errors.Is(err, ErrEncryptionFailed) {
		t.Errorf("Get() with wrong key error = %v, want ErrEncryptionFailed", err)
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "*****"},
		{"hf_abcdefghijkl", "hf_a*******ijkl"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
