package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email      string    `gorm:"not null;column:email" json:"email"`
	Name       string    `gorm:"not null;column:name" json:"name"`
	Avatar     string    `gorm:"column:avatar" json:"avatar"`
	Username   string    `gorm:"column:username" json:"username"`
	Provider   string    `gorm:"not null;column:provider;uniqueIndex:idx_user_provider_identity" json:"provider"`
	ProviderID int64     `gorm:"not null;column:provider_id;uniqueIndex:idx_user_provider_identity" json:"provider_id"`

	// Bullhorn bearer forwarded to the tool bridge on the user's behalf.
	AccessToken *string `gorm:"column:access_token" json:"-"`

	// Optional Google account linkage for extended tool capability.
	GoogleEmail          *string    `gorm:"column:google_email" json:"google_email,omitempty"`
	GoogleAccessToken    *string    `gorm:"column:google_access_token" json:"-"`
	GoogleRefreshToken   *string    `gorm:"column:google_refresh_token" json:"-"`
	GoogleTokenExpiresAt *time.Time `gorm:"column:google_token_expires_at" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (User) TableName() string {
	return "user"
}
