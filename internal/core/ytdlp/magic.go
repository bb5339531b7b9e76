package ytdlp

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// detectContainer reads the first bytes of the file to determine its container.
// Returns the matching extension (without dot), or an empty string if unknown.
func detectContainer(fsys afero.Fs, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	header = header[:n]
	if n < 4 {
		return "", nil // Too short
	}

	// ISO base media: ....ftyp<brand>
	if n >= 12 && string(header[4:8]) == "ftyp" {
		switch string(header[8:12]) {
		case "M4A ", "M4B ":
			return "m4a", nil
		case "3gp4", "3gp5", "3gp6":
			return "3gp", nil
		}
		return "mp4", nil
	}

	// MP3 with ID3 tag
	if string(header[0:3]) == "ID3" {
		return "mp3", nil
	}

	// MPEG audio frame sync; ADTS AAC shares the sync word but has layer 00
	if header[0] == 0xFF && header[1]&0xE0 == 0xE0 && header[1]&0x06 != 0 {
		return "mp3", nil
	}

	// EBML (WebM / Matroska)
	if bytes.Equal(header[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		return "webm", nil
	}

	if string(header[0:4]) == "OggS" {
		return "ogg", nil
	}

	return "", nil
}

// renameByContainer checks if the file's actual container differs from its
// extension and renames it if necessary. Returns the final path.
func renameByContainer(fsys afero.Fs, path string) string {
	detected, err := detectContainer(fsys, path)
	if err != nil || detected == "" {
		return path
	}

	ext := filepath.Ext(path)
	current := strings.TrimPrefix(ext, ".")
	if current == "" || strings.EqualFold(current, detected) {
		return path
	}

	renamed := path[:len(path)-len(ext)] + "." + detected
	if err := fsys.Rename(path, renamed); err != nil {
		return path
	}
	return renamed
}
