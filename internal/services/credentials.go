package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/repos"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/utils"
)

// CredentialResolver looks up the Bullhorn bearer to attach to tool bridge
// calls for a given user. Anonymous callers resolve to an empty token.
type CredentialResolver interface {
	BearerToken(ctx context.Context, userID uuid.UUID) (string, error)
	Invalidate(ctx context.Context, userID uuid.UUID)
}

type credentialResolver struct {
	log      *logger.Logger
	userRepo repos.UserRepo
	cache    *redis.Client
	cacheTTL time.Duration
	group    singleflight.Group
}

// NewCredentialResolver builds the resolver. The redis client is optional;
// without one every lookup goes to the database.
func NewCredentialResolver(userRepo repos.UserRepo, cache *redis.Client, baseLog *logger.Logger) CredentialResolver {
	log := baseLog.With("service", "CredentialResolver")
	ttlSeconds := utils.GetEnvAsInt("CREDENTIAL_CACHE_TTL_SECONDS", 300, log)

	return &credentialResolver{
		log:      log,
		userRepo: userRepo,
		cache:    cache,
		cacheTTL: time.Duration(ttlSeconds) * time.Second,
	}
}

func credentialCacheKey(userID uuid.UUID) string {
	return "bh:credential:" + userID.String()
}

func (r *credentialResolver) BearerToken(ctx context.Context, userID uuid.UUID) (string, error) {
	if userID == uuid.Nil {
		return "", nil
	}

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, credentialCacheKey(userID)).Result()
		if err == nil {
			return cached, nil
		}
		if err != redis.Nil {
			r.log.Debug("Credential cache read failed, falling back to database", "user_id", userID, "error", err)
		}
	}

	// Collapse concurrent turns for the same user into one DB read.
	v, err, _ := r.group.Do(userID.String(), func() (interface{}, error) {
		users, err := r.userRepo.GetByIDs(ctx, nil, []uuid.UUID{userID})
		if err != nil {
			return "", err
		}
		token := ""
		if len(users) > 0 && users[0].AccessToken != nil {
			token = *users[0].AccessToken
		}

		if r.cache != nil && token != "" {
			if err := r.cache.Set(ctx, credentialCacheKey(userID), token, r.cacheTTL).Err(); err != nil {
				r.log.Debug("Credential cache write failed", "user_id", userID, "error", err)
			}
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *credentialResolver) Invalidate(ctx context.Context, userID uuid.UUID) {
	if r.cache == nil || userID == uuid.Nil {
		return
	}
	if err := r.cache.Del(ctx, credentialCacheKey(userID)).Err(); err != nil {
		r.log.Debug("Credential cache invalidation failed", "user_id", userID, "error", err)
	}
}
