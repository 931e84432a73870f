package postprocess

import (
	"errors"
	"testing"

	"mamlarr/internal/services"
)

func TestExtractMetadataListVariant(t *testing.T) {
	source := `{
		"title": "The Wide Sea",
		"author_info": ["A. Author", "B. Coauthor"],
		"narrator_info": ["N. Narrator"],
		"series": "Ocean Saga",
		"asin": "B0EXAMPLE",
		"description": "A long voyage.",
		"cover_url": "https://cdn.example.com/cover.jpg"
	}`
	meta, err := ExtractMetadata(source, "fallback")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if meta.Title != "The Wide Sea" {
		t.Fatalf("title = %q", meta.Title)
	}
	if len(meta.Authors) != 2 || meta.Authors[0] != "A. Author" {
		t.Fatalf("authors = %v", meta.Authors)
	}
	if len(meta.Narrators) != 1 || meta.Narrators[0] != "N. Narrator" {
		t.Fatalf("narrators = %v", meta.Narrators)
	}
	if meta.CoverURL != "https://cdn.example.com/cover.jpg" {
		t.Fatalf("cover = %q", meta.CoverURL)
	}
	if meta.DisplayName() != "A. Author - The Wide Sea" {
		t.Fatalf("display name = %q", meta.DisplayName())
	}
}

func TestExtractMetadataDictVariant(t *testing.T) {
	source := `{"title": "Book", "author_info": {"101": "A. Author"}}`
	meta, err := ExtractMetadata(source, "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(meta.Authors) != 1 || meta.Authors[0] != "A. Author" {
		t.Fatalf("authors = %v", meta.Authors)
	}
}

func TestExtractMetadataJSONStringVariant(t *testing.T) {
	// Some schema revisions double-encode the people lists.
	source := `{"title": "Book", "author_info": "[\"A. Author\"]", "narrator_info": "{\"7\": \"N. Narrator\"}"}`
	meta, err := ExtractMetadata(source, "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(meta.Authors) != 1 || meta.Authors[0] != "A. Author" {
		t.Fatalf("authors = %v", meta.Authors)
	}
	if len(meta.Narrators) != 1 || meta.Narrators[0] != "N. Narrator" {
		t.Fatalf("narrators = %v", meta.Narrators)
	}
}

func TestExtractMetadataBareStringVariant(t *testing.T) {
	source := `{"title": "Book", "author_info": "Solo Author"}`
	meta, err := ExtractMetadata(source, "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(meta.Authors) != 1 || meta.Authors[0] != "Solo Author" {
		t.Fatalf("authors = %v", meta.Authors)
	}
}

func TestExtractMetadataCoverFallbackChain(t *testing.T) {
	for _, key := range []string{"cover_url", "coverUrl", "image", "image_url", "thumbnail", "poster"} {
		source := `{"title": "Book", "` + key + `": "https://img.example.com/c.jpg"}`
		meta, err := ExtractMetadata(source, "")
		if err != nil {
			t.Fatalf("extract with %s: %v", key, err)
		}
		if meta.CoverURL != "https://img.example.com/c.jpg" {
			t.Fatalf("cover via %s = %q", key, meta.CoverURL)
		}
	}
}

func TestExtractMetadataFallbackTitle(t *testing.T) {
	meta, err := ExtractMetadata("", "Release Title")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if meta.Title != "Release Title" {
		t.Fatalf("title = %q", meta.Title)
	}
	if meta.DisplayName() != "Release Title" {
		t.Fatalf("display name = %q", meta.DisplayName())
	}
}

func TestExtractMetadataMalformedJSON(t *testing.T) {
	_, err := ExtractMetadata("{not json", "fallback")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFFmpegTagsNarratorsTakeArtistSlot(t *testing.T) {
	meta := &Metadata{
		Title:     "Book",
		Authors:   []string{"A. Author"},
		Narrators: []string{"N. Narrator"},
	}
	tags := meta.FFmpegTags()
	if tags["artist"] != "N. Narrator" {
		t.Fatalf("artist = %q", tags["artist"])
	}
	if tags["album_artist"] != "A. Author" {
		t.Fatalf("album_artist = %q", tags["album_artist"])
	}
	if tags["composer"] != "N. Narrator" {
		t.Fatalf("composer = %q", tags["composer"])
	}

	noNarrator := &Metadata{Title: "Book", Authors: []string{"A. Author"}}
	tags = noNarrator.FFmpegTags()
	if tags["artist"] != "A. Author" {
		t.Fatalf("artist fallback = %q", tags["artist"])
	}
	if _, ok := tags["composer"]; ok {
		t.Fatal("composer should be absent without narrators")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"A. Author - The Wide Sea", "A_Author_-_The_Wide_Sea"},
		{"Weird/Name:With*Chars?", "WeirdNameWithChars"},
		{"   ", "audiobook"},
		{"", "audiobook"},
	}
	for _, tc := range tests {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
