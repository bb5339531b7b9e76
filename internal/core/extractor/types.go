package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/guiyumin/tubefetch/internal/core/apperr"
)

// MediaType represents the kind of artifact a download produces
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
)

// Format is the output container a caller asks for
type Format string

const (
	FormatMP3 Format = "mp3"
	FormatMP4 Format = "mp4"

	DefaultFormat = FormatMP4
)

// ParseFormat validates a caller-supplied format. Only the exact values mp3
// and mp4 are accepted; callers apply DefaultFormat when no format was sent.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatMP3:
		return FormatMP3, nil
	case FormatMP4:
		return FormatMP4, nil
	}
	return "", fmt.Errorf("format must be mp3 or mp4, got %q: %w", s, apperr.ErrInvalidFormat)
}

// ParseOptionalFormat is ParseFormat for a parameter that may be absent.
func ParseOptionalFormat(s string, present bool) (Format, error) {
	if !present {
		return DefaultFormat, nil
	}
	return ParseFormat(s)
}

// MediaType returns the media kind the format produces
func (f Format) MediaType() MediaType {
	if f == FormatMP3 {
		return MediaTypeAudio
	}
	return MediaTypeVideo
}

// ContentType returns the MIME type of an artifact in this format
func (f Format) ContentType() string {
	if f == FormatMP3 {
		return "audio/mpeg"
	}
	return "video/mp4"
}

var contentTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"ogg":  "audio/ogg",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"3gp":  "video/3gpp",
}

// ContentTypeByExt returns the MIME type for an artifact extension, with or
// without the leading dot.
func ContentTypeByExt(ext string) (string, bool) {
	ct, ok := contentTypes[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return ct, ok
}

// VideoMetadata is the metadata-only view of a video. It is never written to disk.
type VideoMetadata struct {
	ID        string `json:"-"`
	Title     string `json:"title"`
	Duration  int    `json:"duration"` // seconds
	Thumbnail string `json:"thumbnail"`
}

// SourceFormat describes one stream the video host offers
type SourceFormat struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution"`
	Filesize   *int64 `json:"filesize"`
	ACodec     string `json:"acodec"`
	VCodec     string `json:"vcodec"`
	Quality    string `json:"quality"`
}

// QualityLabel returns a human-readable quality label
func (f *SourceFormat) QualityLabel() string {
	if f.VCodec == "none" {
		return "audio only"
	}
	if f.Resolution != "" && f.Resolution != "audio only" {
		return f.Resolution
	}
	return "unknown"
}

var (
	urlRegex   = regexp.MustCompile(`https?://[^\s]+`)
	spaceRegex = regexp.MustCompile(`\s+`)
)

// SanitizeFilename removes or replaces characters that are invalid in filenames
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "",
		"<", "",
		">", "",
		"|", "",
		"\n", " ",
		"\r", "",
		"\t", " ",
	)
	result := urlRegex.ReplaceAllString(name, "")
	result = replacer.Replace(result)

	result = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, result)

	result = strings.TrimSpace(result)
	result = strings.Trim(result, ".")
	result = spaceRegex.ReplaceAllString(result, " ")

	// Most filesystems limit names to 255 bytes; 120 runes leaves room for multi-byte titles.
	const maxRunes = 120
	runes := []rune(result)
	if len(runes) > maxRunes {
		result = string(runes[:maxRunes])
	}

	return strings.TrimSpace(result)
}
