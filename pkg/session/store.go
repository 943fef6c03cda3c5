package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	tserrors "github.com/otherjamesbrown/turnscribe/pkg/errors"
	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

// Summary describes a session directory without its turns.
type Summary struct {
	Name      string    `json:"name" yaml:"name"`
	Path      string    `json:"path" yaml:"path"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Turns     int       `json:"turns" yaml:"turns"`
	Speakers  []string  `json:"speakers" yaml:"speakers"`
	Issues    int       `json:"issues" yaml:"issues"`
	// Manifest is false for directories written without session.json.
	Manifest bool `json:"manifest" yaml:"manifest"`
}

// Store reads sessions back from a sessions root.
type Store struct {
	root string
}

// NewStore creates a Store over root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the sessions directory.
func (s *Store) Root() string {
	return s.root
}

// List returns every session under the root, newest first. A missing root
// yields an empty list.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Summary{}, nil
		}
		return nil, fmt.Errorf("reading sessions root: %w", err)
	}

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		sum := Summary{Name: e.Name(), Path: dir}

		sess, err := readManifest(dir)
		switch {
		case err == nil:
			sum.Manifest = true
			sum.CreatedAt = sess.CreatedAt
			sum.Turns = len(sess.Turns)
			sum.Speakers = transcript.Speakers(sess.Turns)
			sum.Issues = sess.IssueCount()
		case errors.Is(err, fs.ErrNotExist):
			if _, statErr := os.Stat(filepath.Join(dir, TranscriptFile)); statErr != nil {
				continue
			}
			if info, infoErr := e.Info(); infoErr == nil {
				sum.CreatedAt = info.ModTime().UTC()
			}
		default:
			return nil, fmt.Errorf("session %s: %w", e.Name(), err)
		}
		out = append(out, sum)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// Load reads a session's manifest.
func (s *Store) Load(name string) (*Session, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("session name %q: %w", name, tserrors.ErrValidation)
	}
	sess, err := readManifest(filepath.Join(s.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("session %s: %w", name, tserrors.ErrNotFound)
		}
		return nil, fmt.Errorf("session %s: %w", name, err)
	}
	return sess, nil
}

func readManifest(dir string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ManifestFile, err)
	}
	if sess.Turns == nil {
		sess.Turns = []transcript.Turn{}
	}
	return &sess, nil
}
