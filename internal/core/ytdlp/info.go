package ytdlp

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"

	"github.com/guiyumin/tubefetch/internal/core/extractor"
)

const unknown = "N/A"

// infoJSON is the subset of yt-dlp's -J output the service reads.
type infoJSON struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Duration  float64      `json:"duration"`
	Thumbnail string       `json:"thumbnail"`
	FormatID  string       `json:"format_id"`
	Format    string       `json:"format"`
	Ext       string       `json:"ext"`
	Formats   []formatJSON `json:"formats"`

	keys []string
}

type formatJSON struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	Resolution     string   `json:"resolution"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
	ACodec         string   `json:"acodec"`
	VCodec         string   `json:"vcodec"`
}

// parseInfo decodes yt-dlp JSON output. Empty or null output yields (nil, nil).
func parseInfo(data []byte) (*infoJSON, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var info infoJSON
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}

	info.keys = make([]string, 0, len(raw))
	for k := range raw {
		info.keys = append(info.keys, k)
	}
	sort.Strings(info.keys)

	return &info, nil
}

func (i *infoJSON) title() string {
	if i.Title == "" {
		return "Unknown"
	}
	return i.Title
}

func (i *infoJSON) duration() int {
	return int(math.Round(i.Duration))
}

func (i *infoJSON) metadata() *extractor.VideoMetadata {
	return &extractor.VideoMetadata{
		ID:        i.ID,
		Title:     i.title(),
		Duration:  i.duration(),
		Thumbnail: i.Thumbnail,
	}
}

func (i *infoJSON) sourceFormats() []extractor.SourceFormat {
	formats := make([]extractor.SourceFormat, 0, len(i.Formats))
	for _, f := range i.Formats {
		sf := extractor.SourceFormat{
			FormatID:   orUnknown(f.FormatID),
			Ext:        orUnknown(f.Ext),
			Resolution: orUnknown(f.Resolution),
			ACodec:     orUnknown(f.ACodec),
			VCodec:     orUnknown(f.VCodec),
		}
		raw := extractor.SourceFormat{Resolution: f.Resolution, VCodec: f.VCodec}
		sf.Quality = raw.QualityLabel()
		size := f.Filesize
		if size == nil {
			size = f.FilesizeApprox
		}
		if size != nil {
			n := int64(*size)
			sf.Filesize = &n
		}
		formats = append(formats, sf)
	}
	return formats
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
