package export

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractMediaPaths(t *testing.T) {
	paths := ExtractMediaPaths([]map[string]any{
		{"media": " media/a.jpg ", "blobPath": "media/b.png"},
		{"imageUrls": []any{"media/c.jpg", "media/a.jpg", []any{"media/nested.jpg"}, 7}},
		{"asset": map[string]any{"blobPath": "media/d.mp4"}, "attachment": ""},
		{"text": "no media"},
	})
	assert.Equal(t, []string{"media/a.jpg", "media/b.png", "media/c.jpg", "media/d.mp4"}, paths)
}

func TestExtractMediaPathsCapsLinks(t *testing.T) {
	records := make([]map[string]any, 0, MaxMediaLinks+20)
	for i := 0; i < MaxMediaLinks+20; i++ {
		records = append(records, map[string]any{"media": fmt.Sprintf("media/%03d.jpg", i)})
	}
	paths := ExtractMediaPaths(records)
	assert.Len(t, paths, MaxMediaLinks)
	assert.Equal(t, "media/000.jpg", paths[0])
}

func TestExtractMediaPathsEmpty(t *testing.T) {
	assert.Empty(t, ExtractMediaPaths(nil))
}
