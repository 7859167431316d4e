package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Chat struct {
	gorm.Model
	ID    uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Title string    `gorm:"column:title" json:"title"`

	// OwnerID is a user id, or an anonymous session id until the session
	// authenticates and its chats are migrated.
	OwnerID uuid.UUID `gorm:"index;not null;column:owner_id" json:"owner_id"`

	// LastResponseID is the provider's opaque continuation handle. Stored and
	// forwarded verbatim; no structure is assumed.
	LastResponseID *string `gorm:"column:last_response_id" json:"last_response_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Chat) TableName() string {
	return "chat"
}
