package visitors

import (
	"time"

	"gorm.io/gorm"
)

// Visitor is the persisted record for one identity.
type Visitor struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	IPAddress   string    `gorm:"not null;uniqueIndex:idx_visitor_identity,priority:1;index" json:"ipAddress"`
	ProjectName string    `gorm:"not null;uniqueIndex:idx_visitor_identity,priority:2;index" json:"projectName"`
	UserAgent   string    `gorm:"not null" json:"userAgent"`
	Browser     string    `gorm:"not null;index" json:"browser"`
	Device      string    `gorm:"not null;index" json:"device"`
	Location    string    `gorm:"not null;index" json:"location"`
	LastVisit   time.Time `gorm:"not null;index" json:"lastVisit"`
	CreatedAt   time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"not null" json:"updatedAt"`

	Alias string `gorm:"-" json:"alias"`
}

func (v *Visitor) AfterFind(tx *gorm.DB) error {
	v.Alias = v.Identity().Alias()
	return nil
}

// Identity returns the immutable key of the record.
func (v *Visitor) Identity() Identity {
	return Identity{IPAddress: v.IPAddress, ProjectName: v.ProjectName}
}

// Enrichment is the derived, overwritable part of a visitor.
type Enrichment struct {
	UserAgent string
	Browser   string
	Device    string
	Location  string
}

// orUnknown fills empty fields so stored rows never carry blanks.
func (e Enrichment) orUnknown() Enrichment {
	fill := func(s string) string {
		if s == "" {
			return Unknown
		}
		return s
	}
	return Enrichment{
		UserAgent: fill(e.UserAgent),
		Browser:   fill(e.Browser),
		Device:    fill(e.Device),
		Location:  fill(e.Location),
	}
}

// VisitorUpdate is a partial edit of the enrichment fields. Nil means keep.
type VisitorUpdate struct {
	UserAgent *string `json:"userAgent"`
	Browser   *string `json:"browser"`
	Device    *string `json:"device"`
	Location  *string `json:"location"`
}

func (u VisitorUpdate) columns() map[string]any {
	cols := make(map[string]any)
	if u.UserAgent != nil {
		cols["user_agent"] = *u.UserAgent
	}
	if u.Browser != nil {
		cols["browser"] = *u.Browser
	}
	if u.Device != nil {
		cols["device"] = *u.Device
	}
	if u.Location != nil {
		cols["location"] = *u.Location
	}
	return cols
}
