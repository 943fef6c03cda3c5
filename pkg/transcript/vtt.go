package transcript

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// VTT parsing regular expressions
var (
	// Matches cue timing line: 00:00:05.579 --> 00:00:06.858, hours optional.
	vttTimestampRegex = regexp.MustCompile(`^((?:\d{2,}:)?\d{2}:\d{2}\.\d{3})\s+-->\s+((?:\d{2,}:)?\d{2}:\d{2}\.\d{3})`)

	// Matches a voice span opening the cue text: <v Speaker Name>text
	vttVoiceRegex = regexp.MustCompile(`^<v(?:\.[^\s>]+)*\s+([^>]*)>(.*)$`)

	// Matches meeting-export cue headers: 1 "Speaker Name" (123)
	vttHeaderRegex = regexp.MustCompile(`^\d+\s+"([^"]*)"(?:\s+\((\d+)\))?$`)
)

// WriteVTT renders turns as WebVTT cues, one cue per turn, with the speaker
// carried in a voice span.
func WriteVTT(w io.Writer, turns []Turn) error {
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "WEBVTT\n")
	for i, t := range turns {
		fmt.Fprintf(bw, "\n%d\n%s --> %s\n<v %s>%s\n",
			i+1, formatVTTTimestamp(t.Start), formatVTTTimestamp(t.End),
			escapeVTT(t.Speaker), escapeVTT(t.Text))
	}
	return bw.Flush()
}

// ParseVTT reads WebVTT cues back into turns. Cues without a voice span or
// header speaker become unattributed turns. Consecutive cues are not merged.
func ParseVTT(r io.Reader) ([]Turn, error) {
	scanner := bufio.NewScanner(r)
	turns := make([]Turn, 0)

	var current *Turn
	var headerSpeaker string
	closeCue := func() {
		if current != nil && current.Text != "" {
			current.Index = len(turns) + 1
			current.Text = Capitalize(current.Text)
			turns = append(turns, *current)
		}
		current = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			closeCue()
			headerSpeaker = ""
			continue
		}
		if strings.HasPrefix(line, "WEBVTT") || strings.HasPrefix(line, "NOTE") {
			continue
		}

		if matches := vttTimestampRegex.FindStringSubmatch(line); matches != nil {
			closeCue()
			current = &Turn{
				Start:        parseVTTTimestamp(matches[1]),
				End:          parseVTTTimestamp(matches[2]),
				Speaker:      UnknownSpeaker,
				Unattributed: true,
			}
			if headerSpeaker != "" {
				current.Speaker = headerSpeaker
				current.Unattributed = false
			}
			continue
		}

		if current == nil {
			// Cue identifier, possibly carrying a speaker.
			if matches := vttHeaderRegex.FindStringSubmatch(line); matches != nil {
				headerSpeaker = matches[1]
			}
			continue
		}

		text := line
		if matches := vttVoiceRegex.FindStringSubmatch(line); matches != nil {
			if speaker := strings.TrimSpace(unescapeVTT(matches[1])); speaker != "" {
				current.Speaker = speaker
				current.Unattributed = false
			}
			text = matches[2]
		}
		text = strings.TrimSpace(unescapeVTT(strings.TrimSuffix(text, "</v>")))
		if text == "" {
			continue
		}
		if current.Text != "" {
			current.Text += " "
		}
		current.Text += text
	}
	closeCue()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vtt: %w", err)
	}
	return turns, nil
}

// formatVTTTimestamp renders seconds as HH:MM:SS.mmm.
func formatVTTTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	s := (ms % 60000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

// parseVTTTimestamp parses [HH:]MM:SS.mmm into seconds.
func parseVTTTimestamp(ts string) float64 {
	parts := strings.Split(ts, ":")
	var hours, minutes int
	var secPart string
	switch len(parts) {
	case 3:
		hours, _ = strconv.Atoi(parts[0])
		minutes, _ = strconv.Atoi(parts[1])
		secPart = parts[2]
	case 2:
		minutes, _ = strconv.Atoi(parts[0])
		secPart = parts[1]
	default:
		return 0
	}

	secParts := strings.Split(secPart, ".")
	seconds, _ := strconv.Atoi(secParts[0])
	milliseconds := 0
	if len(secParts) > 1 {
		milliseconds, _ = strconv.Atoi(secParts[1])
	}

	totalMs := hours*3600000 + minutes*60000 + seconds*1000 + milliseconds
	return float64(totalMs) / 1000
}

var (
	vttEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	vttUnescaper = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">")
)

func escapeVTT(s string) string   { return vttEscaper.Replace(s) }
func unescapeVTT(s string) string { return vttUnescaper.Replace(s) }
