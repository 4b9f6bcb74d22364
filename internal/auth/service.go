package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pitchcraft/internal/types"
)

// AccountStore is the account access the auth service needs.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *types.Account) error
	GetAccountByHandle(ctx context.Context, handle string) (*types.Account, error)
}

// Service implements registration and login. Accounts start on the trial
// plan with a zeroed counter; an exhausted anonymous allowance has no bearing
// on the fresh account's budget.
type Service struct {
	store  AccountStore
	hasher PasswordHasher
	signer *TokenSigner
	logger *slog.Logger
}

// NewService creates an auth Service.
func NewService(store AccountStore, hasher PasswordHasher, signer *TokenSigner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		hasher: hasher,
		signer: signer,
		logger: logger,
	}
}

// Register creates a trial account and returns it with a session token.
// A duplicate handle surfaces as conflict_handle_exists from the store.
func (s *Service) Register(ctx context.Context, handle, email, password string) (*types.Account, string, time.Time, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	account := &types.Account{
		ID:                 uuid.NewString(),
		Handle:             handle,
		Email:              email,
		PasswordHash:       hash,
		Plan:               types.PlanTrial,
		UsageCount:         0,
		SubscriptionStatus: types.SubStatusActive,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, "", time.Time{}, err
	}

	token, expiresAt := s.signer.Issue(account.ID)
	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID, "handle", handle)
	return account, token, expiresAt, nil
}

// Login verifies credentials and returns the account with a session token.
// A missing handle and a wrong password produce the same error.
func (s *Service) Login(ctx context.Context, handle, password string) (*types.Account, string, time.Time, error) {
	account, err := s.store.GetAccountByHandle(ctx, handle)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeNotFoundAccount {
			return nil, "", time.Time{}, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid credentials", nil)
		}
		return nil, "", time.Time{}, err
	}
	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, err
	}

	token, expiresAt := s.signer.Issue(account.ID)
	s.logger.InfoContext(ctx, "account logged in", "account_id", account.ID)
	return account, token, expiresAt, nil
}
