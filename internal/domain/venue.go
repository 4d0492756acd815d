package domain

import "time"

// Venue is a canonical venue identity. AltNames carries the spellings that show up
// on flyers; SourceHandles carries the Instagram usernames scraped for this venue.
type Venue struct {
	ID            string      `gorm:"type:text;primaryKey" json:"id"`
	Name          string      `gorm:"type:text;not null;uniqueIndex:idx_venues_name" json:"name"`
	Address       string      `gorm:"type:text" json:"address"`
	Lat           float64     `json:"lat"`
	Lng           float64     `json:"lng"`
	AltNames      StringArray `gorm:"type:text" json:"alt_names"`
	SourceHandles StringArray `gorm:"type:text" json:"source_handles"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Venue.
func (Venue) TableName() string {
	return "venues"
}
