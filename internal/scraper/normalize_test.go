package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadia/gigradar/internal/domain"
)

func TestNormalizeItemsPostSchema(t *testing.T) {
	raw := []map[string]interface{}{
		{
			"id":            "3412345678901234567",
			"shortCode":     "CxYzAbC",
			"ownerUsername": "clubvertigo",
			"displayUrl":    "https://cdn.example.com/p/1.jpg",
			"type":          "Image",
			"caption":       "FRIDAY: Techno All Night",
			"timestamp":     "2026-08-21T20:00:00.000Z",
		},
	}

	items := NormalizeItems(raw)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "3412345678901234567", item.ItemID)
	assert.Equal(t, "clubvertigo", item.OwnerUsername)
	assert.Equal(t, "https://cdn.example.com/p/1.jpg", item.MediaURL)
	assert.Equal(t, domain.MediaTypeImage, item.MediaType)
	assert.Equal(t, "FRIDAY: Techno All Night", item.Caption)
	assert.Equal(t, 0, item.OriginalIndex)
}

func TestNormalizeItemsStorySchema(t *testing.T) {
	// Stories come back with different field names and a nested owner object.
	raw := []map[string]interface{}{
		{
			"shortcode":          "StOrY01",
			"display_url":        "https://cdn.example.com/s/1.jpg",
			"thumbnail_src":      "https://cdn.example.com/s/1_thumb.jpg",
			"owner":              map[string]interface{}{"username": "barlunar"},
			"caption":            map[string]interface{}{"text": "doors at 9"},
			"taken_at_timestamp": float64(1787342400),
		},
	}

	items := NormalizeItems(raw)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "StOrY01", item.ItemID)
	assert.Equal(t, "barlunar", item.OwnerUsername)
	assert.Equal(t, "https://cdn.example.com/s/1.jpg", item.MediaURL)
	assert.Equal(t, "https://cdn.example.com/s/1_thumb.jpg", item.ThumbnailURL)
	assert.Equal(t, "doors at 9", item.Caption)
	assert.Equal(t, "2026-08-21T20:00:00Z", item.Timestamp)
}

func TestNormalizeItemsVideoDetection(t *testing.T) {
	raw := []map[string]interface{}{
		{"id": "v1", "type": "Video", "videoUrl": "https://cdn.example.com/v/1.mp4"},
		{"id": "v2", "is_video": true, "displayUrl": "https://cdn.example.com/v/2.jpg"},
		{"id": "p1", "type": "Image", "displayUrl": "https://cdn.example.com/p/1.jpg"},
	}

	items := NormalizeItems(raw)
	require.Len(t, items, 3)
	assert.Equal(t, domain.MediaTypeVideo, items[0].MediaType)
	assert.Equal(t, domain.MediaTypeVideo, items[1].MediaType)
	assert.Equal(t, domain.MediaTypeImage, items[2].MediaType)
}

func TestNormalizeItemsIndexFallbackID(t *testing.T) {
	raw := []map[string]interface{}{
		{"displayUrl": "https://cdn.example.com/a.jpg"},
		{"displayUrl": "https://cdn.example.com/b.jpg"},
	}

	items := NormalizeItems(raw)
	require.Len(t, items, 2)
	assert.Equal(t, "item-0", items[0].ItemID)
	assert.Equal(t, "item-1", items[1].ItemID)
	assert.Equal(t, 1, items[1].OriginalIndex)
}

func TestNormalizeItemsNumericID(t *testing.T) {
	raw := []map[string]interface{}{
		{"id": float64(3412345678901), "displayUrl": "https://cdn.example.com/a.jpg"},
	}

	items := NormalizeItems(raw)
	require.Len(t, items, 1)
	assert.Equal(t, "3412345678901", items[0].ItemID)
}

func TestNormalizeItemsEmptyInput(t *testing.T) {
	assert.Empty(t, NormalizeItems(nil))
	assert.Empty(t, NormalizeItems([]map[string]interface{}{}))
}
