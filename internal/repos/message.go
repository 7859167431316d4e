package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/types"
)

type MessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, message *types.Message) (*types.Message, error)
	ListByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.Message, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, messageIDs []uuid.UUID) ([]*types.Message, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	repoLog := baseLog.With("repo", "MessageRepo")
	return &messageRepo{db: db, log: repoLog}
}

func (mr *messageRepo) Create(ctx context.Context, tx *gorm.DB, message *types.Message) (*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}

	if err := transaction.WithContext(ctx).Create(message).Error; err != nil {
		return nil, err
	}

	return message, nil
}

// ListByChatID returns the chat's messages in creation order. Messages are
// append-only, so this is the conversation transcript.
func (mr *messageRepo) ListByChatID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}

	var results []*types.Message
	if err := transaction.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}

	return results, nil
}

func (mr *messageRepo) GetByIDs(ctx context.Context, tx *gorm.DB, messageIDs []uuid.UUID) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}

	var results []*types.Message
	if len(messageIDs) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", messageIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}

	return results, nil
}
