package file

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"
)

var audioExts = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".ogg":  true,
}

var playlistExts = map[string]bool{
	".m3u":  true,
	".m3u8": true,
	".pls":  true,
}

// IsSupportedExt reports whether the extension is a decodable audio format.
func IsSupportedExt(ext string) bool {
	return audioExts[strings.ToLower(ext)]
}

// IsPlaylistExt reports whether the extension is a supported playlist format.
func IsPlaylistExt(ext string) bool {
	return playlistExts[strings.ToLower(ext)]
}

// SupportedExtsList returns a human-readable list of decodable formats.
func SupportedExtsList() string {
	return ".mp3, .wav, .flac, .ogg"
}

// ExpandSources turns command line arguments into a list of playable files.
// Playlists are parsed, directories are scanned one level deep in name
// order, and unsupported or missing entries are skipped.
func ExpandSources(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", arg, err)
		}
		switch {
		case info.IsDir():
			entries, err := os.ReadDir(arg)
			if err != nil {
				return nil, fmt.Errorf("reading directory: %w", err)
			}
			var paths []string
			for _, e := range entries {
				paths = append(paths, filepath.Join(arg, e.Name()))
			}
			slices.Sort(paths)
			out = append(out, filterPlayable(paths)...)
		case IsPlaylistExt(filepath.Ext(arg)):
			entries, err := ParsePlaylist(arg)
			if err != nil {
				return nil, err
			}
			out = append(out, filterPlayable(entries)...)
		default:
			if !IsSupportedExt(filepath.Ext(arg)) {
				return nil, fmt.Errorf("unsupported format %s (supported: %s)", filepath.Ext(arg), SupportedExtsList())
			}
			out = append(out, filterPlayable([]string{arg})...)
		}
	}
	return out, nil
}

// ParsePlaylist parses a local .m3u/.m3u8/.pls file into local paths.
// Relative entries are resolved against the playlist file directory; URLs
// are skipped.
func ParsePlaylist(path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !IsPlaylistExt(ext) {
		return nil, fmt.Errorf("unsupported playlist format %s", ext)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("playlist is not valid UTF-8")
	}
	text := strings.TrimPrefix(string(data), "\uFEFF")

	baseDir := filepath.Dir(absPath)
	scanner := bufio.NewScanner(strings.NewReader(text))
	if ext == ".pls" {
		return parsePLS(scanner, baseDir), nil
	}
	return parseM3U(scanner, baseDir), nil
}

// filterPlayable keeps existing, non-directory, supported files.
func filterPlayable(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		if !IsSupportedExt(filepath.Ext(p)) {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		out = append(out, p)
	}
	return out
}

func parseM3U(scanner *bufio.Scanner, baseDir string) []string {
	var entries []string
	for scanner.Scan() {
		line := strings.Trim(strings.TrimSpace(scanner.Text()), `"`)
		if line == "" || strings.HasPrefix(line, "#") || isURL(line) {
			continue
		}
		entries = append(entries, resolveEntry(line, baseDir))
	}
	return entries
}

func parsePLS(scanner *bufio.Scanner, baseDir string) []string {
	var entries []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if val == "" || !isPLSFileKey(key) || isURL(val) {
			continue
		}
		entries = append(entries, resolveEntry(val, baseDir))
	}
	return entries
}

func isPLSFileKey(key string) bool {
	rest, ok := strings.CutPrefix(strings.ToLower(key), "file")
	if !ok || rest == "" {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return false
		}
	}
	return true
}

func isURL(s string) bool {
	return strings.Contains(s, "://")
}

func resolveEntry(raw, baseDir string) string {
	p := filepath.Clean(raw)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(baseDir, p))
}
