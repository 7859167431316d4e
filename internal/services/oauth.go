package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/platform/apierr"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/repos"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/requestdata"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/types"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/utils"
)

const (
	ProviderBullhorn = "bullhorn"

	oauthStateTTL = 10 * time.Minute
)

// GoogleStatus reports whether the caller is signed in and whether a Google
// account is linked to them.
type GoogleStatus struct {
	Authenticated bool       `json:"authenticated"`
	Connected     bool       `json:"connected"`
	Email         *string    `json:"email,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	NeedsRefresh  bool       `json:"needsRefresh,omitempty"`
}

type OAuthService interface {
	// Bullhorn is the primary identity. Login starts the PKCE flow and
	// HandleBullhornCallback completes it, returning the signed-in user.
	BullhornLoginURL(ctx context.Context, state string) (string, error)
	HandleBullhornCallback(ctx context.Context, state, code string) (*types.User, error)
	RevokeBullhornToken(ctx context.Context, userID uuid.UUID)

	// Google is an optional linked account layered on top of a Bullhorn
	// session.
	GoogleLinkURL(ctx context.Context, state string) (string, error)
	HandleGoogleCallback(ctx context.Context, state, code string) error
	GoogleStatus(ctx context.Context) (*GoogleStatus, error)
	RefreshGoogleToken(ctx context.Context) (*GoogleStatus, error)
	DisconnectGoogle(ctx context.Context) error
}

type oauthService struct {
	log         *logger.Logger
	userRepo    repos.UserRepo
	chatRepo    repos.ChatRepo
	credentials CredentialResolver
	httpClient  *http.Client

	bullhorn        *oauth2.Config
	userInfoURL     string
	revokeURL       string
	googleRedirect  string
	googleScopes    []string
	googleAuthURL   string
	googleTokenURL  string
	googleRevokeURL string

	// State storage for in-flight authorization rounds. Redis when
	// available, in-process otherwise.
	cache   *redis.Client
	localMu sync.Mutex
	local   map[string]oauthState
}

type oauthState struct {
	Verifier string    `json:"verifier"`
	UserID   string    `json:"user_id,omitempty"`
	Expires  time.Time `json:"expires"`
}

func NewOAuthService(
	userRepo repos.UserRepo,
	chatRepo repos.ChatRepo,
	credentials CredentialResolver,
	cache *redis.Client,
	baseLog *logger.Logger,
) (OAuthService, error) {
	log := baseLog.With("service", "OAuthService")

	clientID := utils.GetEnv("BULLHORN_CLIENT_ID", "", log)
	clientSecret := utils.GetEnv("BULLHORN_CLIENT_SECRET", "", log)
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("missing BULLHORN_CLIENT_ID or BULLHORN_CLIENT_SECRET")
	}

	authURL := utils.GetEnv("BULLHORN_AUTH_URL", "https://auth.bullhornstaffing.com/oauth/authorize", log)
	tokenURL := utils.GetEnv("BULLHORN_TOKEN_URL", "https://auth.bullhornstaffing.com/oauth/token", log)
	redirectURL := utils.GetEnv("BULLHORN_REDIRECT_URL", "", log)
	if redirectURL == "" {
		return nil, fmt.Errorf("missing BULLHORN_REDIRECT_URL")
	}

	return &oauthService{
		log:         log,
		userRepo:    userRepo,
		chatRepo:    chatRepo,
		credentials: credentials,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		bullhorn: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		userInfoURL:     utils.GetEnv("BULLHORN_USERINFO_URL", "", log),
		revokeURL:       utils.GetEnv("BULLHORN_REVOKE_URL", "", log),
		googleRedirect:  utils.GetEnv("GOOGLE_REDIRECT_URL", "", log),
		googleScopes:    strings.Fields(utils.GetEnv("GOOGLE_SCOPES", "openid email https://www.googleapis.com/auth/calendar.readonly", log)),
		googleAuthURL:   utils.GetEnv("GOOGLE_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth", log),
		googleTokenURL:  utils.GetEnv("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token", log),
		googleRevokeURL: utils.GetEnv("GOOGLE_REVOKE_URL", "https://oauth2.googleapis.com/revoke", log),
		cache:           cache,
		local:           map[string]oauthState{},
	}, nil
}

// Google client credentials are read lazily and cached process-wide. A
// concurrent first read may compute them twice; both computations agree.
var (
	googleClientID     string
	googleClientSecret string
	googleCredsLoaded  bool
)

func loadGoogleClientCredentials(log *logger.Logger) (string, string, error) {
	if googleCredsLoaded {
		return googleClientID, googleClientSecret, nil
	}

	id := utils.GetEnv("GOOGLE_CLIENT_ID", "", log)
	secret := utils.GetEnv("GOOGLE_CLIENT_SECRET", "", log)
	if id == "" || secret == "" {
		return "", "", fmt.Errorf("missing GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET")
	}

	googleClientID = id
	googleClientSecret = secret
	googleCredsLoaded = true
	return id, secret, nil
}

func (s *oauthService) googleConfig() (*oauth2.Config, error) {
	id, secret, err := loadGoogleClientCredentials(s.log)
	if err != nil {
		return nil, err
	}
	if s.googleRedirect == "" {
		return nil, fmt.Errorf("missing GOOGLE_REDIRECT_URL")
	}
	return &oauth2.Config{
		ClientID:     id,
		ClientSecret: secret,
		RedirectURL:  s.googleRedirect,
		Scopes:       s.googleScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  s.googleAuthURL,
			TokenURL: s.googleTokenURL,
		},
	}, nil
}

// -------------------- state storage --------------------

func oauthStateKey(provider, state string) string {
	return "bh:oauth:" + provider + ":" + state
}

func (s *oauthService) putState(ctx context.Context, provider, state string, st oauthState) error {
	st.Expires = time.Now().Add(oauthStateTTL)

	if s.cache != nil {
		payload, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return s.cache.Set(ctx, oauthStateKey(provider, state), payload, oauthStateTTL).Err()
	}

	s.localMu.Lock()
	defer s.localMu.Unlock()
	for k, v := range s.local {
		if time.Now().After(v.Expires) {
			delete(s.local, k)
		}
	}
	s.local[oauthStateKey(provider, state)] = st
	return nil
}

func (s *oauthService) takeState(ctx context.Context, provider, state string) (oauthState, error) {
	key := oauthStateKey(provider, state)

	if s.cache != nil {
		payload, err := s.cache.GetDel(ctx, key).Result()
		if err == redis.Nil {
			return oauthState{}, apierr.Unauthorized("invalid_oauth_state", fmt.Errorf("unknown or expired oauth state"))
		}
		if err != nil {
			return oauthState{}, err
		}
		var st oauthState
		if err := json.Unmarshal([]byte(payload), &st); err != nil {
			return oauthState{}, err
		}
		return st, nil
	}

	s.localMu.Lock()
	defer s.localMu.Unlock()
	st, ok := s.local[key]
	delete(s.local, key)
	if !ok || time.Now().After(st.Expires) {
		return oauthState{}, apierr.Unauthorized("invalid_oauth_state", fmt.Errorf("unknown or expired oauth state"))
	}
	return st, nil
}

// -------------------- Bullhorn --------------------

func (s *oauthService) BullhornLoginURL(ctx context.Context, state string) (string, error) {
	verifier := oauth2.GenerateVerifier()
	if err := s.putState(ctx, ProviderBullhorn, state, oauthState{Verifier: verifier}); err != nil {
		return "", err
	}
	return s.bullhorn.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

type bullhornUserInfo struct {
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	AvatarURL string `json:"avatarUrl"`
}

func (s *oauthService) fetchBullhornUserInfo(ctx context.Context, token *oauth2.Token) (*bullhornUserInfo, error) {
	if s.userInfoURL == "" {
		return nil, fmt.Errorf("missing BULLHORN_USERINFO_URL")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", s.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bullhorn userinfo http %d: %s", resp.StatusCode, string(raw))
	}

	var info bullhornUserInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, err
	}
	if info.UserID == 0 {
		return nil, fmt.Errorf("bullhorn userinfo missing userId")
	}
	return &info, nil
}

func (s *oauthService) HandleBullhornCallback(ctx context.Context, state, code string) (*types.User, error) {
	st, err := s.takeState(ctx, ProviderBullhorn, state)
	if err != nil {
		return nil, err
	}

	token, err := s.bullhorn.Exchange(ctx, code, oauth2.VerifierOption(st.Verifier))
	if err != nil {
		return nil, apierr.Unauthorized("oauth_exchange_failed", err)
	}

	info, err := s.fetchBullhornUserInfo(ctx, token)
	if err != nil {
		return nil, apierr.Unauthorized("oauth_userinfo_failed", err)
	}

	name := strings.TrimSpace(info.Name)
	if name == "" {
		name = strings.TrimSpace(strings.TrimSpace(info.FirstName) + " " + strings.TrimSpace(info.LastName))
	}
	if name == "" {
		name = info.Username
	}

	accessToken := token.AccessToken
	user, err := s.userRepo.UpsertByProviderIdentity(ctx, nil, &types.User{
		Provider:    ProviderBullhorn,
		ProviderID:  info.UserID,
		Email:       info.Email,
		Name:        name,
		Username:    info.Username,
		Avatar:      info.AvatarURL,
		AccessToken: &accessToken,
	})
	if err != nil {
		return nil, err
	}

	s.credentials.Invalidate(ctx, user.ID)
	s.migrateAnonymousChats(ctx, user.ID)

	s.log.Info("Bullhorn login completed", "user_id", user.ID, "provider_id", info.UserID)
	return user, nil
}

// migrateAnonymousChats moves chats created before login from the anonymous
// session identity to the user. Best effort; the chats stay reachable under
// the session if it fails.
func (s *oauthService) migrateAnonymousChats(ctx context.Context, userID uuid.UUID) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.SessionID == uuid.Nil || rd.SessionID == userID {
		return
	}
	if err := s.chatRepo.ReassignOwner(ctx, nil, rd.SessionID, userID); err != nil {
		s.log.Warn("Anonymous chat migration failed", "session_id", rd.SessionID, "user_id", userID, "error", err)
	}
}

// RevokeBullhornToken tells the identity provider to invalidate the stored
// bearer. Best effort; logout proceeds regardless.
func (s *oauthService) RevokeBullhornToken(ctx context.Context, userID uuid.UUID) {
	if s.revokeURL == "" || userID == uuid.Nil {
		return
	}

	users, err := s.userRepo.GetByIDs(ctx, nil, []uuid.UUID{userID})
	if err != nil || len(users) == 0 || users[0].AccessToken == nil {
		return
	}

	form := url.Values{"token": {*users[0].AccessToken}}
	req, err := http.NewRequestWithContext(ctx, "POST", s.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.bullhorn.ClientID, s.bullhorn.ClientSecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Debug("Bullhorn token revoke failed", "user_id", userID, "error", err)
		return
	}
	_ = resp.Body.Close()

	s.credentials.Invalidate(ctx, userID)
}

// -------------------- Google --------------------

func (s *oauthService) GoogleLinkURL(ctx context.Context, state string) (string, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || !rd.Authenticated() {
		return "", apierr.Unauthorized("not_authenticated", fmt.Errorf("google linking requires a signed-in user"))
	}

	cfg, err := s.googleConfig()
	if err != nil {
		return "", err
	}

	verifier := oauth2.GenerateVerifier()
	if err := s.putState(ctx, "google", state, oauthState{Verifier: verifier, UserID: rd.UserID.String()}); err != nil {
		return "", err
	}

	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.S256ChallengeOption(verifier),
	), nil
}

func (s *oauthService) HandleGoogleCallback(ctx context.Context, state, code string) error {
	st, err := s.takeState(ctx, "google", state)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(st.UserID)
	if err != nil {
		return apierr.Unauthorized("invalid_oauth_state", err)
	}

	cfg, err := s.googleConfig()
	if err != nil {
		return err
	}

	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(st.Verifier))
	if err != nil {
		return apierr.Unauthorized("oauth_exchange_failed", err)
	}

	var email *string
	if idToken, ok := token.Extra("id_token").(string); ok {
		if parsed := emailFromIDToken(idToken); parsed != "" {
			email = &parsed
		}
	}

	accessToken := token.AccessToken
	var refreshToken *string
	if token.RefreshToken != "" {
		refreshToken = &token.RefreshToken
	}
	expiry := token.Expiry

	return s.userRepo.UpdateGoogleTokens(ctx, nil, userID, email, &accessToken, refreshToken, &expiry)
}

// emailFromIDToken pulls the email claim out of an OIDC id token without
// verifying the signature. The token just arrived over TLS from the token
// endpoint itself.
func emailFromIDToken(idToken string) string {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Email
}

func (s *oauthService) currentUserRecord(ctx context.Context) (*types.User, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || !rd.Authenticated() {
		return nil, apierr.Unauthorized("not_authenticated", fmt.Errorf("no authenticated user on session"))
	}
	users, err := s.userRepo.GetByIDs(ctx, nil, []uuid.UUID{rd.UserID})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, apierr.NotFound("user_not_found", fmt.Errorf("user %s not found", rd.UserID))
	}
	return users[0], nil
}

func googleStatusOf(user *types.User) *GoogleStatus {
	status := &GoogleStatus{Authenticated: true}
	if user.GoogleAccessToken == nil {
		return status
	}
	status.Connected = true
	status.Email = user.GoogleEmail
	status.ExpiresAt = user.GoogleTokenExpiresAt
	if user.GoogleTokenExpiresAt != nil {
		status.NeedsRefresh = time.Until(*user.GoogleTokenExpiresAt) < 5*time.Minute
	}
	return status
}

func (s *oauthService) GoogleStatus(ctx context.Context) (*GoogleStatus, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || !rd.Authenticated() {
		return &GoogleStatus{Authenticated: false}, nil
	}

	user, err := s.currentUserRecord(ctx)
	if err != nil {
		return nil, err
	}
	return googleStatusOf(user), nil
}

func (s *oauthService) RefreshGoogleToken(ctx context.Context) (*GoogleStatus, error) {
	user, err := s.currentUserRecord(ctx)
	if err != nil {
		return nil, err
	}
	if user.GoogleRefreshToken == nil {
		return nil, apierr.New(http.StatusConflict, "google_not_linked", fmt.Errorf("no google refresh token on file"))
	}

	cfg, err := s.googleConfig()
	if err != nil {
		return nil, err
	}

	stale := &oauth2.Token{RefreshToken: *user.GoogleRefreshToken}
	fresh, err := cfg.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, apierr.New(http.StatusBadGateway, "google_refresh_failed", err)
	}

	accessToken := fresh.AccessToken
	var refreshToken *string
	if fresh.RefreshToken != "" && fresh.RefreshToken != *user.GoogleRefreshToken {
		refreshToken = &fresh.RefreshToken
	}
	expiry := fresh.Expiry

	if err := s.userRepo.UpdateGoogleTokens(ctx, nil, user.ID, nil, &accessToken, refreshToken, &expiry); err != nil {
		return nil, err
	}

	return &GoogleStatus{
		Authenticated: true,
		Connected:     true,
		Email:         user.GoogleEmail,
		ExpiresAt:     &expiry,
	}, nil
}

func (s *oauthService) DisconnectGoogle(ctx context.Context) error {
	user, err := s.currentUserRecord(ctx)
	if err != nil {
		return err
	}

	if user.GoogleAccessToken != nil && s.googleRevokeURL != "" {
		form := url.Values{"token": {*user.GoogleAccessToken}}
		req, reqErr := http.NewRequestWithContext(ctx, "POST", s.googleRevokeURL, strings.NewReader(form.Encode()))
		if reqErr == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if resp, doErr := s.httpClient.Do(req); doErr == nil {
				_ = resp.Body.Close()
			} else {
				s.log.Debug("Google token revoke failed", "user_id", user.ID, "error", doErr)
			}
		}
	}

	return s.userRepo.ClearGoogleTokens(ctx, nil, user.ID)
}
