// Package transcript holds the speaker-attribution core: word and diarization
// types, speaker assignment by interval overlap, turn grouping and the text
// renderings of a finished transcript.
package transcript

// UnknownSpeaker labels turns whose words could not be attributed to any
// diarization segment.
const UnknownSpeaker = "unknown"

// Word is one recognized word with its span in seconds from the start of the audio.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// span returns the word's bounds, collapsing an inverted span to zero
// duration at Start.
func (w Word) span() (float64, float64) {
	if w.Start > w.End {
		return w.Start, w.Start
	}
	return w.Start, w.End
}

// Segment is a diarization span attributed to one speaker.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

func (s Segment) span() (float64, float64) {
	if s.Start > s.End {
		return s.Start, s.Start
	}
	return s.Start, s.End
}

// AlignedWord is a Word with its resolved speaker.
// Resolved is false when no segment could be chosen; Speaker is then empty.
type AlignedWord struct {
	Word
	Speaker  string `json:"speaker,omitempty"`
	Resolved bool   `json:"resolved"`
}

// label returns the speaker label used for grouping and display.
func (a AlignedWord) label() string {
	if !a.Resolved {
		return UnknownSpeaker
	}
	return a.Speaker
}

// IssueKind classifies a recoverable per-turn failure.
type IssueKind string

const (
	// IssueExtraction means the audio clip for the turn could not be cut.
	IssueExtraction IssueKind = "extraction"
	// IssueTextWrite means the per-turn text file could not be written.
	IssueTextWrite IssueKind = "text_write"
)

// Issue records a recoverable failure on one turn.
type Issue struct {
	Kind   IssueKind `json:"kind" yaml:"kind"`
	Reason string    `json:"reason" yaml:"reason"`
}

// Turn is a maximal run of consecutive words attributed to one speaker.
type Turn struct {
	// Index is the 1-based position of the turn in the transcript.
	Index   int     `json:"index" yaml:"index"`
	Speaker string  `json:"speaker" yaml:"speaker"`
	Start   float64 `json:"start" yaml:"start"`
	End     float64 `json:"end" yaml:"end"`
	Text    string  `json:"text" yaml:"text"`

	// AudioPath is set only after the clip was extracted.
	AudioPath *string `json:"audio_path" yaml:"audio_path"`

	// TextPath is empty when the per-turn text file could not be written.
	TextPath string `json:"text_path,omitempty" yaml:"text_path,omitempty"`

	// Unattributed marks turns built from words without a resolved speaker.
	Unattributed bool `json:"unattributed,omitempty" yaml:"unattributed,omitempty"`

	Issues []Issue `json:"issues,omitempty" yaml:"issues,omitempty"`

	// Words are the aligned words the turn was built from.
	Words []AlignedWord `json:"-" yaml:"-"`
}

// HasAudio reports whether the turn's clip was extracted.
func (t Turn) HasAudio() bool {
	return t.AudioPath != nil && *t.AudioPath != ""
}

// Duration returns the turn span in seconds.
func (t Turn) Duration() float64 {
	return t.End - t.Start
}
