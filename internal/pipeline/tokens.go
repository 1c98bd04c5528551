package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stockpilot/marketplace-sync/internal/infrastructure/storage"
	"github.com/stockpilot/marketplace-sync/internal/marketplace"
)

// Token lifecycle failures. Each one is fatal for the account being
// processed and maps to a summary reason; none of them is retried.
var (
	// ErrMissingToken: the account has no token row at all.
	ErrMissingToken = errors.New("no token on file for account")

	// ErrNoAccessToken: the newest token row has an empty access token.
	ErrNoAccessToken = errors.New("token row has no access token")

	// ErrRefreshTokenMissing: refresh was needed but no refresh token is
	// on file.
	ErrRefreshTokenMissing = errors.New("no refresh token on file")

	// ErrCredentialsMissing: refresh was needed but the account carries no
	// client credentials.
	ErrCredentialsMissing = errors.New("account has no client credentials")

	// ErrTokenExpired: the refresh exchange itself failed.
	ErrTokenExpired = errors.New("token refresh failed")
)

// TokenManager hands out access tokens for marketplace accounts. Tokens are
// used optimistically: no expiry check up front, the manager only reacts
// when a downstream call comes back 401.
type TokenManager struct {
	repo          storage.TokenRepository
	client        *marketplace.Client
	defaultScopes string
	logger        *slog.Logger
}

// NewTokenManager creates a token manager.
func NewTokenManager(repo storage.TokenRepository, client *marketplace.Client, defaultScopes string, logger *slog.Logger) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		repo:          repo,
		client:        client,
		defaultScopes: defaultScopes,
		logger:        logger.With("system", "tokens"),
	}
}

// AccessToken returns the newest access token on file for the account.
func (m *TokenManager) AccessToken(ctx context.Context, account *storage.Account) (string, error) {
	token, err := m.repo.LatestToken(account.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if token == nil {
		return "", ErrMissingToken
	}
	if token.AccessToken == "" {
		return "", ErrNoAccessToken
	}
	return token.AccessToken, nil
}

// Refresh performs one refresh exchange and persists the result as a new
// token row before handing the fresh access token back. It is called exactly
// once per 401; the design never loops refresh attempts.
func (m *TokenManager) Refresh(ctx context.Context, account *storage.Account) (string, error) {
	prior, err := m.repo.LatestToken(account.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if prior == nil || prior.RefreshToken == "" {
		m.logger.Warn("cannot refresh: refresh_token_missing", slog.Int64("account_id", account.ID))
		return "", ErrRefreshTokenMissing
	}
	if account.ClientID == "" || account.ClientSecret == "" {
		m.logger.Warn("cannot refresh: credentials_missing", slog.Int64("account_id", account.ID))
		return "", ErrCredentialsMissing
	}

	scopes := prior.Scopes
	if scopes == "" {
		scopes = m.defaultScopes
	}

	fresh, err := m.client.Refresh(ctx, account.ClientID, account.ClientSecret, prior.RefreshToken, scopes)
	if err != nil {
		m.logger.Warn("token refresh failed",
			slog.Int64("account_id", account.ID),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}

	// The provider may rotate the refresh token; keep the old one when it
	// does not.
	refreshToken := fresh.RefreshToken
	if refreshToken == "" {
		refreshToken = prior.RefreshToken
	}

	row := &storage.OAuthToken{
		AccountID:    account.ID,
		AccessToken:  fresh.AccessToken,
		RefreshToken: refreshToken,
		Scopes:       scopes,
	}
	if err := m.repo.InsertToken(row); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	m.logger.Info("refreshed access token", slog.Int64("account_id", account.ID))
	return fresh.AccessToken, nil
}
