package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/types"
)

type FeedbackRepo interface {
	GetByMessageAndUser(ctx context.Context, tx *gorm.DB, messageID, userID uuid.UUID) (*types.Feedback, error)
	Upsert(ctx context.Context, tx *gorm.DB, feedback *types.Feedback) (*types.Feedback, error)
}

type feedbackRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFeedbackRepo(db *gorm.DB, baseLog *logger.Logger) FeedbackRepo {
	repoLog := baseLog.With("repo", "FeedbackRepo")
	return &feedbackRepo{db: db, log: repoLog}
}

func (fr *feedbackRepo) GetByMessageAndUser(ctx context.Context, tx *gorm.DB, messageID, userID uuid.UUID) (*types.Feedback, error) {
	transaction := tx
	if transaction == nil {
		transaction = fr.db
	}

	var results []*types.Feedback
	if err := transaction.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Limit(1).
		Find(&results).Error; err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	return results[0], nil
}

// Upsert keeps at most one feedback row per (message, user) pair.
func (fr *feedbackRepo) Upsert(ctx context.Context, tx *gorm.DB, feedback *types.Feedback) (*types.Feedback, error) {
	transaction := tx
	if transaction == nil {
		transaction = fr.db
	}

	existing, err := fr.GetByMessageAndUser(ctx, transaction, feedback.MessageID, feedback.UserID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := transaction.WithContext(ctx).Create(feedback).Error; err != nil {
			return nil, err
		}
		return feedback, nil
	}

	if err := transaction.WithContext(ctx).
		Model(&types.Feedback{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{
			"rating":  feedback.Rating,
			"comment": feedback.Comment,
		}).Error; err != nil {
		return nil, err
	}

	existing.Rating = feedback.Rating
	existing.Comment = feedback.Comment
	return existing, nil
}
