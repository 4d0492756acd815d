package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Signals are the supporting cues the vision model reports alongside its verdict.
type Signals struct {
	DateFound   bool `json:"date_found"`
	VenueFound  bool `json:"venue_found"`
	PriceFound  bool `json:"price_found"`
	FlyerLayout bool `json:"flyer_layout"`
}

// Value implements the driver.Valuer interface for database serialization.
func (s Signals) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (s *Signals) Scan(value interface{}) error {
	if value == nil {
		*s = Signals{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Signals")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, s)
}

// Classification is the stored verdict for one (run, item) pair. Existence of the
// record is the idempotency guard: the automatic classifier never overwrites a
// record once present. The materializer annotates EventID and StoragePath after a
// successful commit; that annotation is the at-most-once marker for events.
type Classification struct {
	ID            string      `gorm:"type:text;primaryKey" json:"id"`
	RunID         string      `gorm:"type:text;not null;index:idx_classifications_run_item,unique" json:"run_id"`
	ItemID        string      `gorm:"type:text;not null;index:idx_classifications_run_item,unique" json:"item_id"`
	IsEvent       bool        `gorm:"index:idx_classifications_is_event" json:"is_event"`
	Confidence    float64     `json:"confidence"`
	Reasons       StringArray `gorm:"type:text" json:"reasons"`
	Signals       Signals     `gorm:"type:text" json:"signals"`
	ImageURL      string      `gorm:"type:text" json:"image_url,omitempty"`
	Caption       string      `gorm:"type:text" json:"caption,omitempty"`
	OwnerUsername string      `gorm:"type:text" json:"owner_username,omitempty"`
	TriageModel   string      `gorm:"type:text" json:"triage_model,omitempty"`
	EscalateModel string      `gorm:"type:text" json:"escalate_model,omitempty"`
	EventID       string      `gorm:"type:text" json:"event_id,omitempty"`
	StoragePath   string      `gorm:"type:text" json:"storage_path,omitempty"`
	Error         string      `gorm:"type:text" json:"error,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Classification.
func (Classification) TableName() string {
	return "classifications"
}

// Materialized reports whether this classification has already produced an event.
func (c *Classification) Materialized() bool {
	return c.EventID != ""
}
