package extract

import (
	"fmt"
	"regexp"
	"strings"
)

var videoIDPattern = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([a-zA-Z0-9_-]{11})`)

// VideoID returns the 11-character video id in a watch, short or embed link.
func VideoID(ref string) (string, error) {
	m := videoIDPattern.FindStringSubmatch(ref)
	if m == nil {
		return "", fmt.Errorf("%w: no video id in %q", ErrInvalidInput, ref)
	}
	return m[1], nil
}

// TranscriptName is the content name a video transcript is stored under.
func TranscriptName(videoID string) string {
	return "youtube_" + videoID
}

// Transcript validates a transcript upload and returns its content name and
// text as a single page.
func Transcript(ref, text string) (string, []Page, error) {
	id, err := VideoID(ref)
	if err != nil {
		return "", nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, fmt.Errorf("%w: transcript for %s is empty", ErrInvalidInput, id)
	}
	return TranscriptName(id), []Page{{Text: text}}, nil
}
