package transcript

import "strings"

// GroupOptions tunes turn construction.
type GroupOptions struct {
	// SplitGap closes a turn when the silence between two consecutive words of
	// the same speaker exceeds it, in seconds. Zero never splits.
	SplitGap float64
}

// Group collapses consecutive words with the same resolved speaker into turns.
// Unresolved words form their own unknown-speaker turns and never merge into
// an attributed neighbour. Silence between words never splits a turn.
func Group(aligned []AlignedWord) []Turn {
	return GroupWith(aligned, GroupOptions{})
}

// GroupWith is Group with options.
func GroupWith(aligned []AlignedWord, opts GroupOptions) []Turn {
	turns := make([]Turn, 0)
	if len(aligned) == 0 {
		return turns
	}

	var open []AlignedWord
	flush := func() {
		if len(open) == 0 {
			return
		}
		turns = append(turns, buildTurn(len(turns)+1, open))
		open = nil
	}

	for _, w := range aligned {
		if len(open) > 0 && !continues(open[len(open)-1], w, opts) {
			flush()
		}
		open = append(open, w)
	}
	flush()

	return turns
}

// continues reports whether next extends the turn ending with prev.
func continues(prev, next AlignedWord, opts GroupOptions) bool {
	if prev.Resolved != next.Resolved || prev.Speaker != next.Speaker {
		return false
	}
	if opts.SplitGap > 0 {
		_, prevEnd := prev.span()
		nextStart, _ := next.span()
		if nextStart-prevEnd > opts.SplitGap {
			return false
		}
	}
	return true
}

func buildTurn(index int, words []AlignedWord) Turn {
	first, last := words[0], words[len(words)-1]
	start, _ := first.span()
	_, end := last.span()

	parts := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.Text); t != "" {
			parts = append(parts, t)
		}
	}

	return Turn{
		Index:        index,
		Speaker:      first.label(),
		Start:        start,
		End:          end,
		Text:         Capitalize(strings.TrimSpace(strings.Join(parts, " "))),
		Unattributed: !first.Resolved,
		Words:        words,
	}
}

// Flatten returns the aligned words of all turns in order.
func Flatten(turns []Turn) []AlignedWord {
	var n int
	for _, t := range turns {
		n += len(t.Words)
	}
	words := make([]AlignedWord, 0, n)
	for _, t := range turns {
		words = append(words, t.Words...)
	}
	return words
}
