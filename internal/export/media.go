package export

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// MaxMediaLinks bounds how many media objects an archive links to.
const MaxMediaLinks = 250

var mediaKeys = []string{"media", "blobPath", "imageUrls", "asset", "attachment"}

// MediaLink points at one referenced media object through a short-lived URL.
type MediaLink struct {
	BlobPath  string    `json:"blobPath"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExtractMediaPaths collects distinct object paths referenced by records, in
// first-seen order, capped at MaxMediaLinks.
func ExtractMediaPaths(records []map[string]any) []string {
	var paths []string
	for _, rec := range records {
		for _, key := range mediaKeys {
			paths = append(paths, mediaValue(rec[key])...)
		}
	}
	paths = lo.Uniq(paths)
	if len(paths) > MaxMediaLinks {
		paths = paths[:MaxMediaLinks]
	}
	return paths
}

func mediaValue(value any) []string {
	switch typed := value.(type) {
	case string:
		if path := strings.TrimSpace(typed); path != "" {
			return []string{path}
		}
	case map[string]any:
		if path, ok := typed["blobPath"].(string); ok && strings.TrimSpace(path) != "" {
			return []string{strings.TrimSpace(path)}
		}
	case []any:
		return lo.FlatMap(typed, func(item any, _ int) []string {
			if _, nested := item.([]any); nested {
				return nil
			}
			return mediaValue(item)
		})
	}
	return nil
}
