package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

type Message struct {
	gorm.Model
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChatID  uuid.UUID `gorm:"index;not null;column:chat_id" json:"chat_id"`
	Chat    *Chat     `gorm:"constraint:OnDelete:CASCADE;foreignKey:ChatID;references:ID" json:"-"`
	Role    string    `gorm:"not null;column:role" json:"role"`
	Content string    `gorm:"not null;column:content" json:"content"`

	// ResponseID is set on assistant messages only: the provider response id
	// that produced the content.
	ResponseID *string `gorm:"column:response_id" json:"response_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Message) TableName() string {
	return "message"
}
