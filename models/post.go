package models

import "time"

// PostCategory groups announcements on the board.
type PostCategory string

const (
	CategoryAnnouncement PostCategory = "Announcement"
	CategoryElections    PostCategory = "Elections"
	CategoryEvents       PostCategory = "Events"
	CategoryAcademic     PostCategory = "Academic"
	CategoryGeneral      PostCategory = "General"
)

// PostCategories lists the accepted categories in display order.
var PostCategories = []PostCategory{
	CategoryAnnouncement,
	CategoryElections,
	CategoryEvents,
	CategoryAcademic,
	CategoryGeneral,
}

// Valid reports whether c is one of PostCategories.
func (c PostCategory) Valid() bool {
	for _, known := range PostCategories {
		if c == known {
			return true
		}
	}
	return false
}

// PublishDateLayout is the format of Post.PublishDate.
const PublishDateLayout = "2006-01-02"

// Post is a board announcement. It has no relationship to polls.
type Post struct {
	ID          string       `gorm:"primaryKey;size:36" json:"id"`
	Title       string       `gorm:"size:200;not null" json:"title"`
	Content     string       `gorm:"type:text;not null" json:"content"`
	Author      string       `gorm:"size:255" json:"author"`
	Category    PostCategory `gorm:"size:32;not null;index" json:"category"`
	PublishDate string       `gorm:"size:10" json:"date"`
	CreatedAt   time.Time    `gorm:"index" json:"created_at"`
}
