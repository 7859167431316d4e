package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	FeedbackRatingPositive = "positive"
	FeedbackRatingNegative = "negative"
)

type Feedback struct {
	gorm.Model
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MessageID uuid.UUID `gorm:"not null;column:message_id;uniqueIndex:idx_feedback_message_user" json:"message_id"`
	Message   *Message  `gorm:"constraint:OnDelete:CASCADE;foreignKey:MessageID;references:ID" json:"-"`
	UserID    uuid.UUID `gorm:"not null;column:user_id;uniqueIndex:idx_feedback_message_user" json:"user_id"`
	User      *User     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"-"`
	Rating    string    `gorm:"not null;column:rating" json:"rating"`
	Comment   *string   `gorm:"column:comment" json:"comment,omitempty"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Feedback) TableName() string {
	return "feedback"
}
