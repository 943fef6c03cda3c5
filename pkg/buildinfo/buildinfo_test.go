package buildinfo

import (
	"runtime"
	"strings"
	"testing"
)

func withVersion(t *testing.T, version, commit, built string) {
	t.Helper()
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	t.Cleanup(func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	})
	Version, Commit, BuildTime = version, commit, built
}

func TestGet_Defaults(t *testing.T) {
	info := Get("turnscribe")

	if info.Name != "turnscribe" {
		t.Errorf("expected Name='turnscribe', got %q", info.Name)
	}
	if info.Version != "dev" || info.Commit != "unknown" || info.BuildTime != "unknown" {
		t.Errorf("unexpected defaults: %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("expected GoVersion=%q, got %q", runtime.Version(), info.GoVersion)
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("unexpected Platform %q", info.Platform)
	}
	if info.Components != nil {
		t.Errorf("expected no components, got %v", info.Components)
	}
}

func TestShort(t *testing.T) {
	if got := Short(); got != "dev (unknown, unknown)" {
		t.Errorf("Short() = %q", got)
	}

	withVersion(t, "v0.3.0", "4f1c2d9", "2026-10-19T08:00:00Z")
	if got := Short(); got != "v0.3.0 (4f1c2d9, 2026-10-19T08:00:00Z)" {
		t.Errorf("Short() = %q", got)
	}
}

func TestInfo_WithDoesNotShareComponents(t *testing.T) {
	base := Get("turnscribe").With("recognizer", "command:whisper")
	a := base.With("diarizer", "http:diar.local")
	b := base.With("diarizer", "file:segments")

	if len(base.Components) != 1 {
		t.Errorf("base components changed: %v", base.Components)
	}
	if a.Components["diarizer"] != "http:diar.local" || b.Components["diarizer"] != "file:segments" {
		t.Errorf("components leaked between copies: %v / %v", a.Components, b.Components)
	}
}

func TestInfo_String(t *testing.T) {
	withVersion(t, "v0.3.0", "4f1c2d9", "2026-10-19T08:00:00Z")
	info := Get("turnscribe").With("ffmpeg", "6.1").With("diarizer", "command:pyannote")

	got := info.String()
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("String() = %q, want 3 lines", got)
	}
	if !strings.HasPrefix(lines[0], "turnscribe v0.3.0 (4f1c2d9, 2026-10-19T08:00:00Z) go") {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[1] != "  diarizer: command:pyannote" || lines[2] != "  ffmpeg: 6.1" {
		t.Errorf("components not sorted: %q", lines[1:])
	}
}
