package postprocess

import (
	"encoding/json"
	"fmt"
	"strings"

	"mamlarr/internal/services"
)

// Metadata is the normalized book description assembled from a release's
// source document. Tracker APIs are inconsistent across schema versions, so
// extraction walks a chain of fallback field names for each value.
type Metadata struct {
	Title       string   `json:"title"`
	Authors     []string `json:"authors,omitempty"`
	Narrators   []string `json:"narrators,omitempty"`
	Series      string   `json:"series,omitempty"`
	ASIN        string   `json:"asin,omitempty"`
	Description string   `json:"description,omitempty"`
	CoverURL    string   `json:"cover,omitempty"`
	PublishDate string   `json:"publishDate,omitempty"`
}

// ExtractMetadata parses a release source document and normalizes it.
// fallbackTitle is used when the document carries no title of its own.
func ExtractMetadata(sourceJSON, fallbackTitle string) (*Metadata, error) {
	source := map[string]any{}
	if strings.TrimSpace(sourceJSON) != "" {
		if err := json.Unmarshal([]byte(sourceJSON), &source); err != nil {
			return nil, services.Wrap(services.ErrValidation, "postprocess", "metadata", "decode source document", err)
		}
	}

	meta := &Metadata{
		Title:       firstString(source, "title"),
		Series:      firstString(source, "series"),
		ASIN:        firstString(source, "asin"),
		Description: firstString(source, "description", "desc"),
		CoverURL:    firstString(source, "cover_url", "coverUrl", "image", "image_url", "thumbnail", "poster"),
		PublishDate: firstString(source, "publish_date", "publishDate"),
	}
	if meta.Title == "" {
		meta.Title = fallbackTitle
	}

	meta.Authors = parsePeople(source["author_info"])
	if len(meta.Authors) == 0 {
		meta.Authors = parsePeople(source["authors"])
	}
	meta.Narrators = parsePeople(source["narrator_info"])
	if len(meta.Narrators) == 0 {
		meta.Narrators = parsePeople(source["narrators"])
	}
	return meta, nil
}

// parsePeople accepts the shapes tracker schema variants use for name lists:
// a JSON array, an id-to-name object, a JSON string encoding either, or a
// bare name.
func parsePeople(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		var people []string
		for _, item := range v {
			switch entry := item.(type) {
			case string:
				if entry != "" {
					people = append(people, entry)
				}
			case float64:
				people = append(people, strings.TrimSuffix(fmt.Sprintf("%v", entry), ".0"))
			}
		}
		return people
	case map[string]any:
		var people []string
		for _, name := range v {
			if s, ok := name.(string); ok && s != "" {
				people = append(people, s)
			}
		}
		return people
	case string:
		if v == "" {
			return nil
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			switch decoded.(type) {
			case []any, map[string]any:
				return parsePeople(decoded)
			}
		}
		return []string{v}
	default:
		return nil
	}
}

func firstString(source map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := source[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// PrimaryAuthor returns the first author, or empty.
func (m *Metadata) PrimaryAuthor() string {
	if len(m.Authors) == 0 {
		return ""
	}
	return m.Authors[0]
}

// DisplayName renders "Author - Title", falling back to the bare title.
func (m *Metadata) DisplayName() string {
	if author := m.PrimaryAuthor(); author != "" {
		return author + " - " + m.Title
	}
	return m.Title
}

// FFmpegTags renders the container tags applied to the finished file.
// Narrators take the artist slot when present; authors always hold
// album_artist so library scanners group by author.
func (m *Metadata) FFmpegTags() map[string]string {
	tags := map[string]string{}
	if m.Title != "" {
		tags["title"] = m.Title
		tags["album"] = m.Title
	}
	artist := strings.Join(m.Narrators, ", ")
	if artist == "" {
		artist = strings.Join(m.Authors, ", ")
	}
	if artist != "" {
		tags["artist"] = artist
	}
	albumArtist := m.PrimaryAuthor()
	if albumArtist == "" {
		albumArtist = strings.Join(m.Authors, ", ")
	}
	if albumArtist != "" {
		tags["album_artist"] = albumArtist
	}
	if len(m.Narrators) > 0 {
		tags["composer"] = strings.Join(m.Narrators, ", ")
	}
	if m.Description != "" {
		tags["comment"] = m.Description
	}
	return tags
}

// SanitizeName reduces a display name to a filesystem-safe directory name.
func SanitizeName(name string) string {
	var builder strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			builder.WriteRune(r)
		}
	}
	safe := strings.ReplaceAll(strings.TrimSpace(builder.String()), " ", "_")
	if safe == "" {
		return "audiobook"
	}
	return safe
}
