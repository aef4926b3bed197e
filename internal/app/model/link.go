package model

import "time"

// Link describes a shortened URL stored in Postgres.
//
// ShortCode is unique across every row, expired ones included. IsExpired only
// flips to true through the expiration sweep.
type Link struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	OriginalURL   string     `gorm:"type:text;not null;index"`
	ShortCode     string     `gorm:"size:64;not null;uniqueIndex"`
	ShortLink     string     `gorm:"type:text;not null"`
	CreatedAt     time.Time  `gorm:"not null;index"`
	RedirectCount int64      `gorm:"not null;default:0"`
	LastUsedAt    *time.Time `gorm:"index"`
	ExpiresAt     *time.Time `gorm:"index"`
	IsExpired     bool       `gorm:"not null;default:false;index"`
	UserID        *int64     `gorm:"index"`
}

// Owned reports whether the link belongs to userID. Anonymous links are owned by nobody.
func (l *Link) Owned(userID *int64) bool {
	if l == nil || l.UserID == nil || userID == nil {
		return false
	}
	return *l.UserID == *userID
}
