package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitchcraft/internal/store"
	"pitchcraft/internal/types"
)

const testSessionKey = types.SecretString("0123456789abcdef0123456789abcdef")

func TestBcryptHasher_HashAndCompare(t *testing.T) {
	hasher := NewBcryptHasher(4) // minimum cost keeps the test fast

	hash, err := hasher.Hash("s3cret-password")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-password", hash)
	assert.True(t, strings.HasPrefix(hash, "$2"))

	require.NoError(t, hasher.Compare(hash, "s3cret-password"))

	err = hasher.Compare(hash, "wrong-password")
	require.Error(t, err)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthInvalidCreds, appErr.Code)
}

func TestTokenSigner_IssueAndVerify(t *testing.T) {
	signer := NewTokenSigner(testSessionKey, time.Hour)

	token, expiresAt := signer.Issue("acct_1")
	assert.True(t, expiresAt.After(time.Now()))

	accountID, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "acct_1", accountID)
}

func TestTokenSigner_Verify_Tampered(t *testing.T) {
	signer := NewTokenSigner(testSessionKey, time.Hour)
	token, _ := signer.Issue("acct_1")
	flip := "0"
	if strings.HasSuffix(token, "0") {
		flip = "1"
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no separator", "justonepart"},
		{"flipped signature", token[:len(token)-1] + flip},
		{"swapped payload", "YWNjdF8yLjk5OTk5OTk5OTk" + token[strings.Index(token, "."):]},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := signer.Verify(tc.token)
			require.Error(t, err)
			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
		})
	}
}

func TestTokenSigner_Verify_WrongKeyRejected(t *testing.T) {
	signer := NewTokenSigner(testSessionKey, time.Hour)
	other := NewTokenSigner(types.SecretString("ffffffffffffffffffffffffffffffff"), time.Hour)

	token, _ := signer.Issue("acct_1")
	_, err := other.Verify(token)
	require.Error(t, err)
}

func TestTokenSigner_Verify_Expired(t *testing.T) {
	signer := NewTokenSigner(testSessionKey, time.Hour)
	past := time.Now().Add(-2 * time.Hour)
	signer.now = func() time.Time { return past }
	token, _ := signer.Issue("acct_1")

	signer.now = time.Now
	_, err := signer.Verify(token)
	require.Error(t, err)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func newAuthService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	svc := NewService(s, NewBcryptHasher(4), NewTokenSigner(testSessionKey, time.Hour), nil)
	return svc, s
}

func TestService_Register_CreatesTrialAccount(t *testing.T) {
	svc, s := newAuthService(t)

	account, token, expiresAt, err := svc.Register(context.Background(), "jsparrow", "j@example.com", "pass-123")
	require.NoError(t, err)

	assert.Equal(t, types.PlanTrial, account.Plan)
	assert.Equal(t, 0, account.UsageCount)
	assert.Equal(t, types.SubStatusActive, account.SubscriptionStatus)
	assert.NotEmpty(t, account.ID)
	assert.NotEqual(t, "pass-123", account.PasswordHash)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	stored, err := s.GetAccountByHandle(context.Background(), "jsparrow")
	require.NoError(t, err)
	assert.Equal(t, account.ID, stored.ID)
}

func TestService_Register_DuplicateHandle(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	_, _, _, err := svc.Register(ctx, "taken", "a@example.com", "pass-123")
	require.NoError(t, err)

	_, _, _, err = svc.Register(ctx, "taken", "b@example.com", "pass-456")
	require.Error(t, err)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictHandle, appErr.Code)
}

func TestService_Login_Success(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	created, _, _, err := svc.Register(ctx, "jsparrow", "j@example.com", "pass-123")
	require.NoError(t, err)

	account, token, _, err := svc.Login(ctx, "jsparrow", "pass-123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, account.ID)

	accountID, err := NewTokenSigner(testSessionKey, time.Hour).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, accountID)
}

func TestService_Login_WrongPasswordAndUnknownHandleIndistinguishable(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	_, _, _, err := svc.Register(ctx, "jsparrow", "j@example.com", "pass-123")
	require.NoError(t, err)

	_, _, _, wrongPass := svc.Login(ctx, "jsparrow", "nope")
	_, _, _, unknownHandle := svc.Login(ctx, "ghost", "nope")

	var e1, e2 *types.AppError
	require.True(t, errors.As(wrongPass, &e1))
	require.True(t, errors.As(unknownHandle, &e2))
	assert.Equal(t, types.ErrCodeAuthInvalidCreds, e1.Code)
	assert.Equal(t, e1.Code, e2.Code)
	assert.Equal(t, e1.Message, e2.Message)
}
