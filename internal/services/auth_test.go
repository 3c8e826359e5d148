package services

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"gua-backend/internal/logger"
	"gua-backend/internal/middleware"
	"gua-backend/internal/models"
)

func TestValidateSignUp(t *testing.T) {
	tests := []struct {
		name   string
		req    models.SignUpRequest
		fields []string
	}{
		{"valid", models.SignUpRequest{Name: "Ada", Email: "ada@example.com", Password: "Secret123"}, nil},
		{"bad email", models.SignUpRequest{Email: "ada@", Password: "Secret123"}, []string{"email"}},
		{"short password", models.SignUpRequest{Email: "ada@example.com", Password: "a1"}, []string{"password"}},
		{"password without digit", models.SignUpRequest{Email: "ada@example.com", Password: "abcdefghij"}, []string{"password"}},
		{"long name", models.SignUpRequest{Name: strings.Repeat("n", 101), Email: "ada@example.com", Password: "Secret123"}, []string{"name"}},
		{"everything wrong", models.SignUpRequest{Name: strings.Repeat("n", 101), Email: "x", Password: ""}, []string{"name", "email", "password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSignUp(tt.req)
			if tt.fields == nil {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Fields, len(tt.fields))
			for _, f := range tt.fields {
				require.Contains(t, verr.Fields, f)
			}
		})
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := generateToken(32)
	require.NoError(t, err)
	require.Len(t, a, 64)

	b, err := generateToken(32)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestEmailService_DevModeLogsLink(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.NewWithWriter(&buf, "info", "json")
	require.NoError(t, err)

	svc := NewEmailService("", "587", "", "", "noreply@gua.chat", "http://localhost:5173", log)
	require.NoError(t, svc.SendVerificationEmail("ada@example.com", "tok123"))

	require.Contains(t, buf.String(), "dev email")
	require.Contains(t, buf.String(), "http://localhost:5173/verify-email?token=tok123")
}

type stubUserStore struct {
	byEmail map[string]*models.User
	logins  []uuid.UUID
}

func (s *stubUserStore) Create(ctx context.Context, user *models.User) error {
	s.byEmail[user.Email] = user
	return nil
}

func (s *stubUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func (s *stubUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	for _, u := range s.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *stubUserStore) VerifyEmail(ctx context.Context, userID uuid.UUID) error {
	u, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	u.IsVerified = true
	return nil
}

func (s *stubUserStore) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error {
	s.logins = append(s.logins, userID)
	return nil
}

type memTokenStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{values: make(map[string]string)}
}

func (m *memTokenStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memTokenStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", errTokenNotFound
	}
	return v, nil
}

func (m *memTokenStore) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memTokenStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

func newTestAuthService(t *testing.T, users ...*models.User) (*AuthService, *stubUserStore, *memTokenStore) {
	t.Helper()
	store := &stubUserStore{byEmail: make(map[string]*models.User)}
	for _, u := range users {
		store.byEmail[u.Email] = u
	}
	tokens := newMemTokenStore()
	svc := &AuthService{
		userRepo: store,
		tokens:   tokens,
		jwt:      middleware.NewJWTAuth("test-secret"),
		log:      zerolog.Nop(),
	}
	return svc, store, tokens
}

func hashPassword(t *testing.T, pw string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestLogin(t *testing.T) {
	hash := hashPassword(t, "Secret123")
	ok := &models.User{ID: uuid.New(), Email: "ada@example.com", PasswordHash: hash, IsVerified: true, IsActive: true}
	unverified := &models.User{ID: uuid.New(), Email: "new@example.com", PasswordHash: hash, IsActive: true}
	inactive := &models.User{ID: uuid.New(), Email: "gone@example.com", PasswordHash: hash, IsVerified: true}

	tests := []struct {
		name     string
		req      models.SignInRequest
		wantAuth string
		wantForb string
	}{
		{"unknown email", models.SignInRequest{Email: "nobody@example.com", Password: "Secret123"}, "Invalid email or password", ""},
		{"bad password", models.SignInRequest{Email: ok.Email, Password: "Wrong1234"}, "Invalid email or password", ""},
		{"unverified", models.SignInRequest{Email: unverified.Email, Password: "Secret123"}, "", "Please verify your email before signing in."},
		{"inactive", models.SignInRequest{Email: inactive.Email, Password: "Secret123"}, "Account is deactivated", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, tokens := newTestAuthService(t, ok, unverified, inactive)

			user, issued, err := svc.Login(context.Background(), tt.req)
			require.Nil(t, user)
			require.Nil(t, issued)
			if tt.wantAuth != "" {
				var aerr *AuthError
				require.ErrorAs(t, err, &aerr)
				require.Equal(t, tt.wantAuth, aerr.Message)
			} else {
				var ferr *ForbiddenError
				require.ErrorAs(t, err, &ferr)
				require.Equal(t, tt.wantForb, ferr.Message)
			}
			require.Empty(t, store.logins)
			require.Empty(t, tokens.values)
		})
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	svc, _, _ := newTestAuthService(t)

	_, _, err := svc.Login(context.Background(), models.SignInRequest{Email: " ", Password: "x"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "credentials")
}

func TestLogin_IssuesTokens(t *testing.T) {
	u := &models.User{ID: uuid.New(), Email: "ada@example.com", PasswordHash: hashPassword(t, "Secret123"), IsVerified: true, IsActive: true}
	svc, store, tokens := newTestAuthService(t, u)

	user, issued, err := svc.Login(context.Background(), models.SignInRequest{Email: " ADA@example.com ", Password: "Secret123"})
	require.NoError(t, err)
	require.Equal(t, u.ID, user.ID)
	require.NotEmpty(t, issued.AccessToken)
	require.True(t, tokens.has("refresh:"+issued.RefreshToken))
	require.Equal(t, []uuid.UUID{u.ID}, store.logins)

	id, err := svc.jwt.ParseUserID(issued.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, id)
}

func TestRefreshToken_Rotates(t *testing.T) {
	u := &models.User{ID: uuid.New(), Email: "ada@example.com", PasswordHash: hashPassword(t, "Secret123"), IsVerified: true, IsActive: true}
	svc, _, tokens := newTestAuthService(t, u)
	ctx := context.Background()

	_, issued, err := svc.Login(ctx, models.SignInRequest{Email: u.Email, Password: "Secret123"})
	require.NoError(t, err)

	rotated, err := svc.RefreshToken(ctx, issued.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, issued.RefreshToken, rotated.RefreshToken)
	require.False(t, tokens.has("refresh:"+issued.RefreshToken))
	require.True(t, tokens.has("refresh:"+rotated.RefreshToken))

	_, err = svc.RefreshToken(ctx, issued.RefreshToken)
	var aerr *AuthError
	require.ErrorAs(t, err, &aerr)
}

func TestLogout_RevokesOnlyOwnToken(t *testing.T) {
	owner := uuid.New()
	svc, _, tokens := newTestAuthService(t)
	ctx := context.Background()
	require.NoError(t, tokens.Set(ctx, "refresh:victim", owner.String(), time.Hour))

	err := svc.Logout(ctx, uuid.New(), "victim")
	var ferr *ForbiddenError
	require.ErrorAs(t, err, &ferr)
	require.True(t, tokens.has("refresh:victim"))

	require.NoError(t, svc.Logout(ctx, owner, "victim"))
	require.False(t, tokens.has("refresh:victim"))

	// Already revoked or expired.
	require.NoError(t, svc.Logout(ctx, owner, "victim"))
}
