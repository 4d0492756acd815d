package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// MediaType of a scraped item as reported by the provider.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// ScrapedItem is one normalized scraped unit (a post or a story) within a run's
// dataset. Immutable once written to the results cache.
type ScrapedItem struct {
	ItemID        string    `json:"item_id"`
	OwnerUsername string    `json:"owner_username"`
	MediaURL      string    `json:"media_url"`
	ThumbnailURL  string    `json:"thumbnail_url,omitempty"`
	MediaType     MediaType `json:"media_type"`
	Caption       string    `json:"caption"`
	Timestamp     string    `json:"timestamp"`
	OriginalIndex int       `json:"original_index"`
}

// ScrapedItemList stores the normalized item array as a JSON document column.
type ScrapedItemList []ScrapedItem

// Value implements the driver.Valuer interface for database serialization.
func (l ScrapedItemList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (l *ScrapedItemList) Scan(value interface{}) error {
	if value == nil {
		*l = ScrapedItemList{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan ScrapedItemList")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, l)
}

// ScrapeResult is the results-cache document for a run: the normalized item array
// written once at ingestion. The run id is the cache key.
type ScrapeResult struct {
	RunID     string          `gorm:"type:text;primaryKey" json:"run_id"`
	Items     ScrapedItemList `gorm:"type:text" json:"items"`
	ItemCount int             `json:"item_count"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName returns the database table name for ScrapeResult.
func (ScrapeResult) TableName() string {
	return "scrape_results"
}
