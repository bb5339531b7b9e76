package ytdlp

import (
	"path/filepath"
	"strconv"

	"github.com/guiyumin/tubefetch/internal/core/extractor"
)

const (
	outputTemplate = "%(title)s.%(ext)s"

	audioSelector = "bestaudio/best"
	videoSelector = "best"
)

// Options is the engine configuration built for one download. It is exposed
// as-is by the diagnostic endpoint, hence the JSON tags.
type Options struct {
	Format                   string `json:"format"`
	OutputTemplate           string `json:"outtmpl"`
	ExtractAudio             bool   `json:"extract_audio"`
	AudioFormat              string `json:"audio_format,omitempty"`
	AudioQuality             string `json:"audio_quality,omitempty"`
	Retries                  int    `json:"retries"`
	FragmentRetries          int    `json:"fragment_retries"`
	SkipUnavailableFragments bool   `json:"skip_unavailable_fragments"`
	NoCheckCertificate       bool   `json:"nocheckcertificate"`
	NoPlaylist               bool   `json:"noplaylist"`

	// UpdateTime copies the server's Last-Modified onto the file. It stays
	// off so the store ages artifacts from when they landed on disk.
	UpdateTime bool `json:"updatetime"`
}

// Options builds the download configuration for a format.
func (g *Gateway) Options(format extractor.Format) Options {
	opts := Options{
		Format:                   videoSelector,
		OutputTemplate:           filepath.Join(g.cfg.OutputDir, outputTemplate),
		Retries:                  g.cfg.Retries,
		FragmentRetries:          g.cfg.FragmentRetries,
		SkipUnavailableFragments: true,
		NoCheckCertificate:       true,
		NoPlaylist:               true,
	}

	if format.MediaType() == extractor.MediaTypeAudio {
		opts.Format = audioSelector
		opts.ExtractAudio = true
		opts.AudioFormat = string(extractor.FormatMP3)
		opts.AudioQuality = g.cfg.AudioQuality
	}

	return opts
}

// Args renders the options as yt-dlp command-line flags.
func (o Options) Args() []string {
	args := []string{"-f", o.Format}

	if o.OutputTemplate != "" {
		args = append(args, "-o", o.OutputTemplate)
	}
	if o.ExtractAudio {
		args = append(args, "-x", "--audio-format", o.AudioFormat)
		if o.AudioQuality != "" {
			args = append(args, "--audio-quality", o.AudioQuality)
		}
	}

	args = append(args,
		"--retries", strconv.Itoa(o.Retries),
		"--fragment-retries", strconv.Itoa(o.FragmentRetries),
	)
	if o.SkipUnavailableFragments {
		args = append(args, "--skip-unavailable-fragments")
	}
	if o.NoCheckCertificate {
		args = append(args, "--no-check-certificates")
	}
	if o.NoPlaylist {
		args = append(args, "--no-playlist")
	}
	if !o.UpdateTime {
		args = append(args, "--no-mtime")
	}

	return args
}

func metadataArgs(url string) []string {
	return []string{
		"-J",
		"--flat-playlist",
		"--no-warnings",
		"--no-check-certificates",
		"--ignore-errors",
		"--no-playlist",
		"--", url,
	}
}

func probeArgs(url string, selector string) []string {
	args := []string{"-J", "--no-warnings", "--no-check-certificates", "--no-playlist"}
	if selector != "" {
		args = append(args, "-f", selector)
	}
	return append(args, "--", url)
}
