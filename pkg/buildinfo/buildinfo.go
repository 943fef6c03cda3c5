// Package buildinfo reports the version of the running binary.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"strings"
)

// These vars are set at build time via ldflags:
// -X github.com/otherjamesbrown/turnscribe/pkg/buildinfo.Version=v0.3.0
// -X github.com/otherjamesbrown/turnscribe/pkg/buildinfo.Commit=4f1c2d9
// -X github.com/otherjamesbrown/turnscribe/pkg/buildinfo.BuildTime=2026-10-19T08:00:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info holds build information plus the external components a process runs
// with (engine backends, ffmpeg).
type Info struct {
	Name       string            `json:"name" yaml:"name"`
	Version    string            `json:"version" yaml:"version"`
	Commit     string            `json:"commit" yaml:"commit"`
	BuildTime  string            `json:"build_time" yaml:"build_time"`
	GoVersion  string            `json:"go_version" yaml:"go_version"`
	Platform   string            `json:"platform" yaml:"platform"`
	Components map[string]string `json:"components,omitempty" yaml:"components,omitempty"`
}

// Get returns build info for the named binary.
func Get(name string) Info {
	return Info{
		Name:      name,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// With returns a copy of i that also reports component key at value.
func (i Info) With(key, value string) Info {
	components := make(map[string]string, len(i.Components)+1)
	for k, v := range i.Components {
		components[k] = v
	}
	components[key] = value
	i.Components = components
	return i
}

// String returns a one-line summary such as
// "turnscribe v0.3.0 (4f1c2d9, 2026-10-19T08:00:00Z) go1.24.0 linux/amd64".
func (i Info) String() string {
	var b strings.Builder
	b.WriteString(i.Name + " " + i.Version + " (" + i.Commit + ", " + i.BuildTime + ") " + i.GoVersion + " " + i.Platform)

	keys := make([]string, 0, len(i.Components))
	for k := range i.Components {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n  " + k + ": " + i.Components[k])
	}
	return b.String()
}

// Short returns "v0.3.0 (4f1c2d9, 2026-10-19T08:00:00Z)".
func Short() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}

// Handler serves the result of info as JSON.
func Handler(info func() Info) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info()) // nolint: errcheck
	}
}
