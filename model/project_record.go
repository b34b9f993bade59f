package model

import "time"

// ProjectRecord is the MySQL row holding one project document as JSON.
type ProjectRecord struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"size:255"`
	Document  []byte    `gorm:"type:longblob;not null"`
	Origin    string    `gorm:"size:64;index"`
	SavedAt   int64     `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 表名
func (ProjectRecord) TableName() string {
	return "projects"
}
