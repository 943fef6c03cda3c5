package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWords(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Word
	}{
		{
			name:  "bare list",
			input: `[{"text":"hi","start":0,"end":0.4}]`,
			want:  []Word{{"hi", 0, 0.4}},
		},
		{
			name:  "words object",
			input: `{"words":[{"text":"a","start":1,"end":2},{"text":"b","start":2,"end":3}]}`,
			want:  []Word{{"a", 1, 2}, {"b", 2, 3}},
		},
		{
			name: "whisper segments",
			input: `{"text":" Hello there.","segments":[
				{"id":0,"words":[{"word":" Hello","start":0.0,"end":0.42,"probability":0.9}]},
				{"id":1,"words":[{"word":" there.","start":0.5,"end":0.8}]}
			]}`,
			want: []Word{{" Hello", 0, 0.42}, {" there.", 0.5, 0.8}},
		},
		{
			name:  "empty input",
			input: "  ",
			want:  []Word{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeWords(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeWords_Malformed(t *testing.T) {
	_, err := DecodeWords(strings.NewReader(`{"words": [`))
	assert.Error(t, err)
}

func TestDecodeSegments(t *testing.T) {
	got, err := DecodeSegments(strings.NewReader(`{"segments":[
		{"start":5,"end":6,"speaker":"SPEAKER_01"},
		{"start":0,"end":4.5,"speaker":"SPEAKER_00"}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, []Segment{{0, 4.5, "SPEAKER_00"}, {5, 6, "SPEAKER_01"}}, got)

	got, err = DecodeSegments(strings.NewReader(`[]`))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = DecodeSegments(strings.NewReader(`"nope"`))
	assert.Error(t, err)
}
