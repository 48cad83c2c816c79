package textutil

import "testing"

func TestCosineSimilarityNil(t *testing.T) {
	tests := []struct {
		name string
		a    *Fingerprint
		b    *Fingerprint
		want float64
	}{
		{"both nil", nil, nil, 0},
		{"a nil", nil, NewFingerprint("hello world"), 0},
		{"b nil", NewFingerprint("hello world"), nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTitleSimilarityIgnoresSeparators(t *testing.T) {
	if got := TitleSimilarity("Show.Name", "show name"); got != 1 {
		t.Errorf("TitleSimilarity(dotted, spaced) = %v, want 1", got)
	}
}

func TestTitleSimilarityPartialOverlap(t *testing.T) {
	got := TitleSimilarity("Attack on Titan", "Attack on Titan Junior High")
	if got <= 0 || got >= 1 {
		t.Errorf("TitleSimilarity(partial) = %v, want between 0 and 1", got)
	}
	if other := TitleSimilarity("Attack on Titan", "Vinland Saga"); other != 0 {
		t.Errorf("TitleSimilarity(different) = %v, want 0", other)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Re:Zero - Starting.Life_2")
	want := []string{"re", "zero", "starting", "life", "2"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize() = %v, want %v", got, want)
		}
	}
}

func TestSanitizePathSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Show Name", "Show Name"},
		{"Re:Zero", "Re-Zero"},
		{"What If...?", "What If"},
		{"  AC/DC  Live ", "AC-DC Live"},
		{"..", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizePathSegment(tt.in); got != tt.want {
			t.Errorf("SanitizePathSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
