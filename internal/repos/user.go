package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/types"
)

type UserRepo interface {
	GetByIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.User, error)
	GetByProviderIdentity(ctx context.Context, tx *gorm.DB, provider string, providerID int64) (*types.User, error)
	UpsertByProviderIdentity(ctx context.Context, tx *gorm.DB, user *types.User) (*types.User, error)
	UpdateName(ctx context.Context, tx *gorm.DB, userID uuid.UUID, name string) (*types.User, error)
	UpdateAccessToken(ctx context.Context, tx *gorm.DB, userID uuid.UUID, accessToken *string) error
	UpdateGoogleTokens(ctx context.Context, tx *gorm.DB, userID uuid.UUID, email, accessToken, refreshToken *string, expiresAt *time.Time) error
	ClearGoogleTokens(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	repoLog := baseLog.With("repo", "UserRepo")
	return &userRepo{db: db, log: repoLog}
}

func (ur *userRepo) GetByIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	var results []*types.User
	if len(userIDs) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", userIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}

	return results, nil
}

func (ur *userRepo) GetByProviderIdentity(ctx context.Context, tx *gorm.DB, provider string, providerID int64) (*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	var results []*types.User
	if err := transaction.WithContext(ctx).
		Where("provider = ? AND provider_id = ?", provider, providerID).
		Limit(1).
		Find(&results).Error; err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	return results[0], nil
}

// UpsertByProviderIdentity creates the user on first login and refreshes the
// profile fields plus the stored bearer token on every subsequent login.
func (ur *userRepo) UpsertByProviderIdentity(ctx context.Context, tx *gorm.DB, user *types.User) (*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	existing, err := ur.GetByProviderIdentity(ctx, transaction, user.Provider, user.ProviderID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := transaction.WithContext(ctx).Create(user).Error; err != nil {
			return nil, err
		}
		return user, nil
	}

	updates := map[string]any{
		"email":        user.Email,
		"name":         user.Name,
		"avatar":       user.Avatar,
		"username":     user.Username,
		"access_token": user.AccessToken,
	}
	if err := transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		return nil, err
	}

	existing.Email = user.Email
	existing.Name = user.Name
	existing.Avatar = user.Avatar
	existing.Username = user.Username
	existing.AccessToken = user.AccessToken
	return existing, nil
}

func (ur *userRepo) UpdateName(ctx context.Context, tx *gorm.DB, userID uuid.UUID, name string) (*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	if err := transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", userID).
		Update("name", name).Error; err != nil {
		return nil, err
	}

	users, err := ur.GetByIDs(ctx, transaction, []uuid.UUID{userID})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return users[0], nil
}

func (ur *userRepo) UpdateAccessToken(ctx context.Context, tx *gorm.DB, userID uuid.UUID, accessToken *string) error {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	return transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", userID).
		Update("access_token", accessToken).Error
}

func (ur *userRepo) UpdateGoogleTokens(ctx context.Context, tx *gorm.DB, userID uuid.UUID, email, accessToken, refreshToken *string, expiresAt *time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	updates := map[string]any{
		"google_access_token":     accessToken,
		"google_token_expires_at": expiresAt,
	}
	if email != nil {
		updates["google_email"] = email
	}
	if refreshToken != nil {
		updates["google_refresh_token"] = refreshToken
	}

	return transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", userID).
		Updates(updates).Error
}

func (ur *userRepo) ClearGoogleTokens(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	return transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"google_email":            nil,
			"google_access_token":     nil,
			"google_refresh_token":    nil,
			"google_token_expires_at": nil,
		}).Error
}
