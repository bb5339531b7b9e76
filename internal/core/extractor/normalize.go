package extractor

import (
	"net/url"
	"regexp"
)

const watchURLPrefix = "https://www.youtube.com/watch?v="

// idPatterns are tried in order against the raw input; the first match wins.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([a-zA-Z0-9_-]{10,11})`),
	regexp.MustCompile(`youtube\.com/watch\?.*v=([a-zA-Z0-9_-]{10,11})`),
	regexp.MustCompile(`v=([a-zA-Z0-9_-]{10,11})`),
	regexp.MustCompile(`youtube\.com/(?:shorts|live)/([a-zA-Z0-9_-]{10,11})`),
}

var idAlphabet = regexp.MustCompile(`^[a-zA-Z0-9_-]{10,11}$`)

// ExtractVideoID returns the video identifier embedded in raw, if any.
func ExtractVideoID(raw string) (string, bool) {
	for _, re := range idPatterns {
		if m := re.FindStringSubmatch(raw); m != nil && isVideoID(m[1]) {
			return m[1], true
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if id := u.Query().Get("v"); isVideoID(id) {
		return id, true
	}
	return "", false
}

// Normalize turns raw into a canonical watch URL. Input without a recognizable
// identifier is returned unchanged; yt-dlp resolves it on its own.
func Normalize(raw string) string {
	id, ok := ExtractVideoID(raw)
	if !ok {
		return raw
	}
	return WatchURL(id)
}

// WatchURL builds the canonical watch URL for an identifier
func WatchURL(id string) string {
	return watchURLPrefix + id
}

func isVideoID(s string) bool {
	return idAlphabet.MatchString(s)
}
