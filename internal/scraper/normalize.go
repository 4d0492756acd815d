package scraper

import (
	"fmt"
	"strings"
	"time"

	"github.com/nadia/gigradar/internal/domain"
)

// The upstream schema is inconsistent across run kinds ("posts" and "stories")
// and provider versions, so every normalized field is resolved through an
// ordered list of accessors. New provider quirks are handled by appending an
// accessor, not by branching inline.

// accessor extracts one candidate value from a raw provider item.
type accessor func(raw map[string]interface{}) (string, bool)

func key(name string) accessor {
	return func(raw map[string]interface{}) (string, bool) {
		return stringValue(raw[name])
	}
}

func nested(names ...string) accessor {
	return func(raw map[string]interface{}) (string, bool) {
		var current interface{} = raw
		for _, name := range names {
			m, ok := current.(map[string]interface{})
			if !ok {
				return "", false
			}
			current = m[name]
		}
		return stringValue(current)
	}
}

// firstOf applies accessors in order and returns the first hit.
func firstOf(raw map[string]interface{}, accessors []accessor) string {
	for _, a := range accessors {
		if v, ok := a(raw); ok {
			return v
		}
	}
	return ""
}

func stringValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return "", false
		}
		return t, true
	case float64:
		// Unix timestamps and numeric ids arrive as JSON numbers.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t)), true
		}
		return fmt.Sprintf("%v", t), true
	}
	return "", false
}

// Ordered fallback lists per normalized field.
var (
	itemIDAccessors = []accessor{
		key("id"), key("shortCode"), key("shortcode"), key("code"),
	}
	ownerAccessors = []accessor{
		key("ownerUsername"), key("username"), nested("owner", "username"), nested("user", "username"),
	}
	mediaURLAccessors = []accessor{
		key("displayUrl"), key("display_url"), key("imageUrl"), key("mediaUrl"),
		key("videoUrl"), key("thumbnailUrl"), key("thumbnail_src"),
	}
	thumbnailAccessors = []accessor{
		key("thumbnailUrl"), key("thumbnail_src"), key("displayUrl"), key("display_url"),
	}
	captionAccessors = []accessor{
		key("caption"), nested("caption", "text"), key("text"), key("title"),
	}
	timestampAccessors = []accessor{
		key("timestamp"), key("takenAt"), key("taken_at_timestamp"), key("taken_at"),
	}
	mediaTypeAccessors = []accessor{
		key("type"), key("mediaType"), key("media_type"), key("__typename"),
	}
)

// NormalizeItems converts raw provider-schema items into the canonical
// ScrapedItem shape. Items with no resolvable id fall back to their position in
// the dataset so the id stays stable across re-fetches of the same dataset.
func NormalizeItems(raw []map[string]interface{}) []domain.ScrapedItem {
	items := make([]domain.ScrapedItem, 0, len(raw))
	for i, r := range raw {
		itemID := firstOf(r, itemIDAccessors)
		if itemID == "" {
			itemID = fmt.Sprintf("item-%d", i)
		}

		items = append(items, domain.ScrapedItem{
			ItemID:        itemID,
			OwnerUsername: firstOf(r, ownerAccessors),
			MediaURL:      firstOf(r, mediaURLAccessors),
			ThumbnailURL:  firstOf(r, thumbnailAccessors),
			MediaType:     normalizeMediaType(firstOf(r, mediaTypeAccessors), r),
			Caption:       firstOf(r, captionAccessors),
			Timestamp:     normalizeTimestamp(firstOf(r, timestampAccessors)),
			OriginalIndex: i,
		})
	}
	return items
}

func normalizeMediaType(t string, raw map[string]interface{}) domain.MediaType {
	if isVideo, ok := raw["is_video"].(bool); ok && isVideo {
		return domain.MediaTypeVideo
	}
	switch strings.ToLower(t) {
	case "video", "graphvideo", "clips", "reel":
		return domain.MediaTypeVideo
	}
	return domain.MediaTypeImage
}

// normalizeTimestamp accepts RFC3339 strings or unix-second numbers and always
// emits RFC3339 UTC. Unparseable values pass through unchanged rather than get
// dropped; the raw value is still useful for debugging.
func normalizeTimestamp(ts string) string {
	if ts == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	var unix int64
	if _, err := fmt.Sscanf(ts, "%d", &unix); err == nil && unix > 1_000_000_000 {
		return time.Unix(unix, 0).UTC().Format(time.RFC3339)
	}
	return ts
}
