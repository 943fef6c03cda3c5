package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NameLayout is the time layout of session directory names.
const NameLayout = "20060102-150405"

// maxAllocAttempts bounds the suffix search when many runs start in the
// same second.
const maxAllocAttempts = 1000

// maxLabelLen caps a sanitized speaker directory name.
const maxLabelLen = 64

// Allocate creates a new session directory under root named after now.
// When the name is taken, -2, -3, ... are tried in order. The directory is
// created with os.Mkdir, so two concurrent callers never receive the same
// name and an existing session is never reused.
func Allocate(root string, now time.Time) (name, dir string, err error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", "", fmt.Errorf("creating sessions root: %w", err)
	}

	base := now.Format(NameLayout)
	for i := 1; i <= maxAllocAttempts; i++ {
		name = base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		dir = filepath.Join(root, name)

		err := os.Mkdir(dir, 0755)
		if err == nil {
			return name, dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", fmt.Errorf("creating session directory: %w", err)
		}
	}
	return "", "", fmt.Errorf("creating session directory: %d sessions already named %s", maxAllocAttempts, base)
}

// ValidName reports whether name is safe to join onto a sessions root.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeLabel turns an engine-supplied speaker label into a single safe
// path component. Accents are folded, anything outside [A-Za-z0-9._-]
// becomes an underscore, and runs of underscores collapse. Labels that end up
// empty or made only of dots map to "unknown".
func SanitizeLabel(label string) string {
	folded, _, err := transform.String(stripMarks, label)
	if err != nil {
		folded = label
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.'):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.TrimLeft(b.String(), "._")
	if len(out) > maxLabelLen {
		out = out[:maxLabelLen]
	}
	out = strings.TrimRight(out, "_")
	if strings.Trim(out, ".") == "" {
		return "unknown"
	}
	return out
}
