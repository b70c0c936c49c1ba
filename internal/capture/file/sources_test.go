package file

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParsePlaylistM3U(t *testing.T) {
	dir := t.TempDir()
	playlist := filepath.Join(dir, "list.m3u")
	content := "\uFEFF#EXTM3U\n\nsong1.mp3\n#comment\n\"https://example.com/stream\"\nsub/song2.wav\n"
	if err := os.WriteFile(playlist, []byte(content), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}

	got, err := ParsePlaylist(playlist)
	if err != nil {
		t.Fatalf("ParsePlaylist() error = %v", err)
	}
	want := []string{
		filepath.Join(dir, "song1.mp3"),
		filepath.Join(dir, "sub", "song2.wav"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParsePlaylist() = %#v, want %#v", got, want)
	}
}

func TestParsePlaylistPLS(t *testing.T) {
	dir := t.TempDir()
	playlist := filepath.Join(dir, "list.pls")
	content := "[playlist]\n file1 = one.flac \nTitle1=One\nFile2=https://example.com/live\nFileX=bad.mp3\nFile3=\nFile4=/abs/two.ogg\n"
	if err := os.WriteFile(playlist, []byte(content), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}

	got, err := ParsePlaylist(playlist)
	if err != nil {
		t.Fatalf("ParsePlaylist() error = %v", err)
	}
	want := []string{filepath.Join(dir, "one.flac"), filepath.Clean("/abs/two.ogg")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParsePlaylist() = %#v, want %#v", got, want)
	}
}

func TestParsePlaylistRejectsUnknownExt(t *testing.T) {
	if _, err := ParsePlaylist("list.txt"); err == nil {
		t.Fatal("expected error")
	}
}

func TestExpandSources(t *testing.T) {
	dir := t.TempDir()
	music := filepath.Join(dir, "music")
	touch(t, filepath.Join(music, "b.ogg"))
	touch(t, filepath.Join(music, "a.mp3"))
	touch(t, filepath.Join(music, "cover.jpg"))
	touch(t, filepath.Join(dir, "single.wav"))
	touch(t, filepath.Join(dir, "other.flac"))
	playlist := filepath.Join(dir, "set.m3u")
	if err := os.WriteFile(playlist, []byte("other.flac\nmissing.mp3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ExpandSources([]string{music, filepath.Join(dir, "single.wav"), playlist})
	if err != nil {
		t.Fatalf("ExpandSources: %v", err)
	}
	want := []string{
		filepath.Join(music, "a.mp3"),
		filepath.Join(music, "b.ogg"),
		filepath.Join(dir, "single.wav"),
		filepath.Join(dir, "other.flac"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExpandSources = %#v, want %#v", got, want)
	}
}

func TestExpandSourcesErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := ExpandSources([]string{filepath.Join(dir, "nope.mp3")}); err == nil {
		t.Fatal("expected error for missing file")
	}
	txt := filepath.Join(dir, "notes.txt")
	touch(t, txt)
	if _, err := ExpandSources([]string{txt}); err == nil {
		t.Fatal("expected error for unsupported file")
	}
}
