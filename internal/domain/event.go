package domain

import "time"

const PlatformInstagram = "instagram"

// EventVenue is the canonical venue identity embedded in an event record. Extracted
// free-text venue fields are replaced with these values during materialization.
type EventVenue struct {
	VenueID string  `gorm:"type:text;index:idx_events_venue" json:"venue_id"`
	Name    string  `gorm:"type:text" json:"name"`
	Address string  `gorm:"type:text" json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// Provenance ties an event back to the scrape run and item it came from.
type Provenance struct {
	Platform string `gorm:"type:text" json:"platform"`
	RunID    string `gorm:"type:text;index:idx_events_run" json:"run_id"`
	ItemID   string `gorm:"type:text" json:"item_id"`
}

// Event is the terminal artifact of the pipeline: a canonical, queryable event
// record materialized from a positive classification. The semantic embedding lives
// in the vector index under the same id.
type Event struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	Name        string      `gorm:"type:text;not null" json:"name"`
	Description string      `gorm:"type:text" json:"description,omitempty"`
	StartsAt    *time.Time  `json:"starts_at,omitempty"`
	EndsAt      *time.Time  `json:"ends_at,omitempty"`
	Price       string      `gorm:"type:text" json:"price,omitempty"`
	Tags        StringArray `gorm:"type:text" json:"tags"`
	SearchText  string      `gorm:"type:text" json:"search_text"`
	ImagePath   string      `gorm:"type:text" json:"image_path,omitempty"`
	Venue       EventVenue  `gorm:"embedded;embeddedPrefix:venue_" json:"venue"`
	Provenance  Provenance  `gorm:"embedded;embeddedPrefix:source_" json:"provenance"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Event.
func (Event) TableName() string {
	return "events"
}
