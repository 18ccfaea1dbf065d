package profiles

import "time"

// Profile is a saved connection profile. Password and PrivateKey are
// stored fernet-encrypted; they are never serialized to clients.
type Profile struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"uniqueIndex;not null;size:128" json:"name"`
	Host       string    `gorm:"not null" json:"host"`
	Port       int       `gorm:"not null;default:22" json:"port"`
	Username   string    `gorm:"not null;size:64" json:"username"`
	Password   string    `json:"-"` // fernet-encrypted
	PrivateKey string    `json:"-"` // fernet-encrypted
	UseCount   int       `gorm:"not null;default:0" json:"use_count"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Setting is a key/value row for server-side state such as the
// encryption key.
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
