package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/types"
)

type ChatRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error)
	GetByIDForOwner(ctx context.Context, tx *gorm.DB, chatID, ownerID uuid.UUID) (*types.Chat, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, limit int) ([]*types.Chat, error)
	UpdateTitle(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, title string) error
	UpdateLastResponseID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, responseID string) error
	ReassignOwner(ctx context.Context, tx *gorm.DB, fromOwnerID, toOwnerID uuid.UUID) error
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, baseLog *logger.Logger) ChatRepo {
	repoLog := baseLog.With("repo", "ChatRepo")
	return &chatRepo{db: db, log: repoLog}
}

func (cr *chatRepo) Create(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	if err := transaction.WithContext(ctx).Create(chat).Error; err != nil {
		return nil, err
	}

	return chat, nil
}

// GetByIDForOwner scopes the lookup by owner so a caller can never read
// another caller's chat. Returns (nil, nil) when no such chat exists.
func (cr *chatRepo) GetByIDForOwner(ctx context.Context, tx *gorm.DB, chatID, ownerID uuid.UUID) (*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	var results []*types.Chat
	if err := transaction.WithContext(ctx).
		Where("id = ? AND owner_id = ?", chatID, ownerID).
		Limit(1).
		Find(&results).Error; err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	return results[0], nil
}

func (cr *chatRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, limit int) ([]*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	if limit <= 0 {
		limit = 50
	}

	var results []*types.Chat
	if err := transaction.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}

	return results, nil
}

func (cr *chatRepo) UpdateTitle(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, title string) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	return transaction.WithContext(ctx).
		Model(&types.Chat{}).
		Where("id = ?", chatID).
		Update("title", title).Error
}

func (cr *chatRepo) UpdateLastResponseID(ctx context.Context, tx *gorm.DB, chatID uuid.UUID, responseID string) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	return transaction.WithContext(ctx).
		Model(&types.Chat{}).
		Where("id = ?", chatID).
		Update("last_response_id", responseID).Error
}

// ReassignOwner migrates every chat owned by an anonymous session to the
// authenticated user. Happens at most once per session, at login.
func (cr *chatRepo) ReassignOwner(ctx context.Context, tx *gorm.DB, fromOwnerID, toOwnerID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	return transaction.WithContext(ctx).
		Model(&types.Chat{}).
		Where("owner_id = ?", fromOwnerID).
		Update("owner_id", toOwnerID).Error
}
