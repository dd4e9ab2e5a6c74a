package model

import "time"

// User is the authenticated account profile, mirrored locally so the
// client can report who is signed in while offline.
type User struct {
	ID        string `gorm:"primaryKey" json:"id"`
	Name      string `json:"name"`
	Email     string `gorm:"uniqueIndex" json:"email"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
