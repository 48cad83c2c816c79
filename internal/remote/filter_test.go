package remote_test

import (
	"testing"
	"time"

	"nasferry/internal/config"
	"nasferry/internal/remote"
)

func TestFilterOrderAndRules(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-time.Hour)
	cfg := config.Default().Crawl
	cfg.MinSizeBytes = 100
	filter := remote.NewFilter(cfg)

	cases := []struct {
		name  string
		entry remote.Entry
		want  string
	}{
		{"small file", remote.NewEntry("/r", "tiny.mkv", 100, old, false, now), remote.SkipTooSmall},
		{"small and recent reports size first", remote.NewEntry("/r", "tiny.mkv", 1, now, false, now), remote.SkipTooSmall},
		{"settling", remote.NewEntry("/r", "new.mkv", 500, now.Add(-time.Minute), false, now), remote.SkipSettling},
		{"image", remote.NewEntry("/r", "cover.JPG", 500, old, false, now), remote.SkipExtension},
		{"sfv", remote.NewEntry("/r", "check.sfv", 500, old, false, now), remote.SkipExtension},
		{"sample keyword", remote.NewEntry("/r", "Show.SAMPLE.mkv", 500, old, false, now), remote.SkipKeyword},
		{"screens dir", remote.NewEntry("/r", "Screens", 0, old, true, now), remote.SkipKeyword},
		{"dir ignores size", remote.NewEntry("/r", "Show", 0, old, true, now), remote.SkipNone},
		{"dot jpg dir not an extension", remote.NewEntry("/r", "art.jpg", 0, old, true, now), remote.SkipNone},
		{"video", remote.NewEntry("/r", "Show - 01.mkv", 500, old, false, now), remote.SkipNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := filter.Check(tc.entry, now); got != tc.want {
				t.Fatalf("Check(%s) = %q, want %q", tc.entry.Name, got, tc.want)
			}
		})
	}
}

func TestFilterZeroCutoffKeepsEmptyFiles(t *testing.T) {
	now := time.Now()
	filter := remote.NewFilter(config.Default().Crawl)
	entry := remote.NewEntry("/r", "empty.mkv", 0, now.Add(-time.Hour), false, now)
	if !filter.Allow(entry, now) {
		t.Fatal("expected empty file to pass with zero cutoff")
	}
}

func TestNewEntryTruncatesModTime(t *testing.T) {
	mod := time.Date(2026, 5, 1, 12, 0, 0, 987654321, time.FixedZone("x", 3600))
	entry := remote.NewEntry("/remote/tv", "a.mkv", 1, mod, false, mod)
	if entry.Path != "/remote/tv/a.mkv" {
		t.Fatalf("unexpected path %q", entry.Path)
	}
	if entry.ModTime.Nanosecond() != 0 || entry.ModTime.Location() != time.UTC {
		t.Fatalf("expected UTC second resolution, got %v", entry.ModTime)
	}
}
