package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/platform/apierr"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/repos"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/requestdata"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/types"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/utils"
)

const SessionCookieName = "bh_session"

// AuthService issues and validates the signed session cookie. A session
// exists for every visitor; uid is present only after a Bullhorn login.
type AuthService interface {
	IssueSession(sessionID, userID uuid.UUID) (string, error)
	ParseSession(token string) (*requestdata.RequestData, error)
	CurrentUser(ctx context.Context) (*types.User, error)
	UpdateName(ctx context.Context, name string) (*types.User, error)
	Logout(ctx context.Context) error
	CookieMaxAge() int
}

type sessionClaims struct {
	SessionID string `json:"sid"`
	UserID    string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

type authService struct {
	log       *logger.Logger
	userRepo  repos.UserRepo
	jwtSecret []byte
	ttl       time.Duration
}

func NewAuthService(userRepo repos.UserRepo, baseLog *logger.Logger) (AuthService, error) {
	log := baseLog.With("service", "AuthService")

	secret := utils.GetEnv("JWT_SECRET", "", log)
	if secret == "" {
		return nil, fmt.Errorf("missing JWT_SECRET")
	}

	ttlHours := utils.GetEnvAsInt("SESSION_TTL_HOURS", 24*30, log)

	return &authService{
		log:       log,
		userRepo:  userRepo,
		jwtSecret: []byte(secret),
		ttl:       time.Duration(ttlHours) * time.Hour,
	}, nil
}

func (s *authService) IssueSession(sessionID, userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	if userID != uuid.Nil {
		claims.UserID = userID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ParseSession(token string) (*requestdata.RequestData, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apierr.Unauthorized("invalid_session", err)
	}

	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, apierr.Unauthorized("invalid_session", err)
	}

	rd := &requestdata.RequestData{SessionID: sessionID}
	if claims.UserID != "" {
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			return nil, apierr.Unauthorized("invalid_session", err)
		}
		rd.UserID = userID
	}
	return rd, nil
}

func (s *authService) CookieMaxAge() int {
	return int(s.ttl / time.Second)
}

func (s *authService) CurrentUser(ctx context.Context) (*types.User, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || !rd.Authenticated() {
		return nil, apierr.Unauthorized("not_authenticated", fmt.Errorf("no authenticated user on session"))
	}

	users, err := s.userRepo.GetByIDs(ctx, nil, []uuid.UUID{rd.UserID})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, apierr.NotFound("user_not_found", gorm.ErrRecordNotFound)
	}
	return users[0], nil
}

func (s *authService) UpdateName(ctx context.Context, name string) (*types.User, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || !rd.Authenticated() {
		return nil, apierr.Unauthorized("not_authenticated", fmt.Errorf("no authenticated user on session"))
	}
	return s.userRepo.UpdateName(ctx, nil, rd.UserID, name)
}

// Logout drops the stored Bullhorn bearer so the tool bridge loses access
// immediately. The cookie itself is cleared by the handler.
func (s *authService) Logout(ctx context.Context) error {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || !rd.Authenticated() {
		return nil
	}
	if err := s.userRepo.UpdateAccessToken(ctx, nil, rd.UserID, nil); err != nil {
		s.log.Warn("Failed to clear access token on logout", "user_id", rd.UserID, "error", err)
		return err
	}
	return nil
}
