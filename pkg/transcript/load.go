package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// rawWord accepts both "text" and whisper-style "word" keys.
type rawWord struct {
	Text  string  `json:"text"`
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (w rawWord) word() Word {
	text := w.Text
	if text == "" {
		text = w.Word
	}
	return Word{Text: text, Start: w.Start, End: w.End}
}

// recognitionDoc covers the recognizer output shapes we accept: a bare word
// list, {"words": [...]}, and whisper's {"segments": [{"words": [...]}]}.
type recognitionDoc struct {
	Words    []rawWord `json:"words"`
	Segments []struct {
		Words []rawWord `json:"words"`
	} `json:"segments"`
}

// DecodeWords reads recognizer JSON output into time-ordered words.
func DecodeWords(r io.Reader) ([]Word, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading words: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []Word{}, nil
	}

	var raw []rawWord
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing words: %w", err)
		}
	} else {
		var doc recognitionDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing words: %w", err)
		}
		raw = doc.Words
		for _, seg := range doc.Segments {
			raw = append(raw, seg.Words...)
		}
	}

	words := make([]Word, len(raw))
	for i, w := range raw {
		words[i] = w.word()
	}
	return words, nil
}

// DecodeSegments reads diarizer JSON output, either a bare list or
// {"segments": [...]}. The result is sorted by start time.
func DecodeSegments(r io.Reader) ([]Segment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading segments: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []Segment{}, nil
	}

	var segments []Segment
	if data[0] == '[' {
		if err := json.Unmarshal(data, &segments); err != nil {
			return nil, fmt.Errorf("parsing segments: %w", err)
		}
	} else {
		var doc struct {
			Segments []Segment `json:"segments"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing segments: %w", err)
		}
		segments = doc.Segments
	}
	if segments == nil {
		segments = []Segment{}
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})
	return segments, nil
}
