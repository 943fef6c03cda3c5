package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolved(text string, start, end float64, speaker string) AlignedWord {
	return AlignedWord{Word: Word{Text: text, Start: start, End: end}, Speaker: speaker, Resolved: true}
}

func unresolved(text string, start, end float64) AlignedWord {
	return AlignedWord{Word: Word{Text: text, Start: start, End: end}}
}

func TestGroup_WorkedExample(t *testing.T) {
	words := []Word{{"a", 0.0, 0.5}, {"b", 0.6, 1.0}, {"c", 1.1, 1.5}}
	segments := []Segment{{0.0, 1.0, "S1"}, {1.0, 2.0, "S2"}}

	turns := Group(Assign(words, segments))

	require.Len(t, turns, 2)
	assert.Equal(t, "S1", turns[0].Speaker)
	assert.Equal(t, 0.0, turns[0].Start)
	assert.Equal(t, 1.0, turns[0].End)
	assert.Equal(t, "A b", turns[0].Text)
	assert.Equal(t, 1, turns[0].Index)

	assert.Equal(t, "S2", turns[1].Speaker)
	assert.Equal(t, 1.1, turns[1].Start)
	assert.Equal(t, 1.5, turns[1].End)
	assert.Equal(t, "C", turns[1].Text)
	assert.Equal(t, 2, turns[1].Index)

	assert.Nil(t, turns[0].AudioPath)
}

func TestGroup_EmptyInput(t *testing.T) {
	turns := Group(nil)
	assert.NotNil(t, turns)
	assert.Empty(t, turns)
	assert.Equal(t, "", FullText(turns))
}

func TestGroup_SingleWord(t *testing.T) {
	turns := Group([]AlignedWord{resolved("hello", 1, 2, "S1")})
	require.Len(t, turns, 1)
	assert.Equal(t, "Hello", turns[0].Text)
	assert.Equal(t, 1.0, turns[0].Start)
	assert.Equal(t, 2.0, turns[0].End)
}

func TestGroup_UnresolvedWordsFormOwnTurn(t *testing.T) {
	turns := Group([]AlignedWord{
		resolved("one", 0, 1, "S1"),
		unresolved("two", 1, 2),
		unresolved("three", 2, 3),
		resolved("four", 3, 4, "S1"),
	})

	require.Len(t, turns, 3)
	assert.Equal(t, "S1", turns[0].Speaker)
	assert.Equal(t, UnknownSpeaker, turns[1].Speaker)
	assert.True(t, turns[1].Unattributed)
	assert.Equal(t, "Two three", turns[1].Text)
	assert.Equal(t, "S1", turns[2].Speaker)
	assert.False(t, turns[2].Unattributed)
}

func TestGroup_NamedUnknownIsDistinctFromUnresolved(t *testing.T) {
	turns := Group([]AlignedWord{
		resolved("hi", 0, 1, UnknownSpeaker),
		unresolved("there", 1, 2),
	})
	assert.Len(t, turns, 2)
}

func TestGroup_LargeGapStillMerged(t *testing.T) {
	turns := Group([]AlignedWord{
		resolved("before", 0, 1, "S1"),
		resolved("after", 600, 601, "S1"),
	})
	require.Len(t, turns, 1)
	assert.Equal(t, "Before after", turns[0].Text)
	assert.Equal(t, 601.0, turns[0].End)
}

func TestGroupWith_SplitGap(t *testing.T) {
	words := []AlignedWord{
		resolved("one", 0, 1, "S1"),
		resolved("two", 1.5, 2, "S1"),
		resolved("three", 10, 11, "S1"),
	}

	turns := GroupWith(words, GroupOptions{SplitGap: 2})

	require.Len(t, turns, 2)
	assert.Equal(t, "One two", turns[0].Text)
	assert.Equal(t, "Three", turns[1].Text)
	assert.Equal(t, "S1", turns[1].Speaker)
}

func TestGroup_TextNormalization(t *testing.T) {
	tests := []struct {
		name  string
		words []string
		want  string
	}{
		{"recognizer leading spaces", []string{" hello", " world"}, "Hello world"},
		{"already capitalized", []string{"Hello", "again"}, "Hello again"},
		{"only first word", []string{"the", "end."}, "The end."},
		{"leading digit", []string{"3", "apples"}, "3 apples"},
		{"blank words skipped", []string{"so", "  ", "yes"}, "So yes"},
		{"non-ascii", []string{"émile", "spoke"}, "Émile spoke"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words := make([]AlignedWord, len(tt.words))
			for i, w := range tt.words {
				words[i] = resolved(w, float64(i), float64(i)+0.5, "S1")
			}
			turns := Group(words)
			require.Len(t, turns, 1)
			assert.Equal(t, tt.want, turns[0].Text)
		})
	}
}

func TestGroup_RoundTripAndMaximality(t *testing.T) {
	words := []Word{
		{"so", 0.0, 0.2}, {"we", 0.3, 0.4}, {"start", 0.5, 0.9},
		{"right", 1.2, 1.5}, {"okay", 1.6, 2.0},
		{"in", 3.0, 3.1}, {"the", 3.2, 3.3}, {"gap", 3.4, 3.5},
		{"fine", 4.2, 4.6}, {"then", 5.5, 5.9},
	}
	segments := []Segment{{0, 1.0, "A"}, {1.1, 2.1, "B"}, {4.0, 5.0, "A"}, {5.0, 6.0, "C"}}

	aligned := Assign(words, segments)
	turns := Group(aligned)

	assert.Equal(t, aligned, Flatten(turns), "flattening turns must reproduce the aligned words")
	for i := 1; i < len(turns); i++ {
		prev, cur := turns[i-1], turns[i]
		sameLabel := prev.Speaker == cur.Speaker && prev.Unattributed == cur.Unattributed
		assert.False(t, sameLabel, "adjacent turns %d and %d share speaker %q", i, i+1, cur.Speaker)
	}
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.Index)
	}
}
