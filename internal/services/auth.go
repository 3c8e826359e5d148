package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"gua-backend/internal/middleware"
	"gua-backend/internal/models"
	"gua-backend/internal/repository"
)

const (
	verifyTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
)

// MailQueue hands verification mails to the background mail workers.
type MailQueue interface {
	EnqueueVerification(ctx context.Context, to, token string) error
}

// userStore is the part of repository.UserRepo the identity service uses.
type userStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	VerifyEmail(ctx context.Context, userID uuid.UUID) error
	UpdateLastLogin(ctx context.Context, userID uuid.UUID) error
}

var errTokenNotFound = errors.New("token not found")

// tokenStore keeps verification and refresh tokens with an expiry. Get
// returns errTokenNotFound for a missing or expired key.
type tokenStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

type redisTokenStore struct {
	client *redis.Client
}

func (r redisTokenStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r redisTokenStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", errTokenNotFound
	}
	return val, err
}

func (r redisTokenStore) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// AuthService is the identity service: it owns credentials, verification
// and token issuance.
type AuthService struct {
	userRepo userStore
	tokens   tokenStore
	jwt      *middleware.JWTAuth
	mail     MailQueue
	log      zerolog.Logger
}

func NewAuthService(userRepo *repository.UserRepo, redisClient *redis.Client, jwt *middleware.JWTAuth, mail MailQueue, log zerolog.Logger) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		tokens:   redisTokenStore{client: redisClient},
		jwt:      jwt,
		mail:     mail,
		log:      log,
	}
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateSignUp(req models.SignUpRequest) error {
	fieldErrors := make(map[string]string)

	if len(strings.TrimSpace(req.Name)) > 100 {
		fieldErrors["name"] = "Name must be at most 100 characters"
	}
	if !emailRegex.MatchString(req.Email) {
		fieldErrors["email"] = "Invalid email format"
	}
	if err := validatePassword(req.Password); err != nil {
		fieldErrors["password"] = err.Error()
	}

	if len(fieldErrors) > 0 {
		return &ValidationError{Fields: fieldErrors}
	}
	return nil
}

// Register creates an unverified account and queues the confirmation mail.
// The user cannot sign in until the link is followed.
func (s *AuthService) Register(ctx context.Context, req models.SignUpRequest) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateSignUp(req); err != nil {
		return nil, err
	}

	_, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err == nil {
		return nil, &ConflictError{Message: "Email already in use"}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(req.Name),
		IsVerified:   false,
		IsActive:     true,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	token, err := generateToken(32)
	if err != nil {
		return nil, err
	}
	err = s.tokens.Set(ctx, "email_verify:"+token, user.ID.String(), verifyTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to store verification token: %w", err)
	}

	if err := s.mail.EnqueueVerification(ctx, user.Email, token); err != nil {
		// The account exists; a failed enqueue must not fail sign-up.
		s.log.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to queue verification email")
	}

	return user, nil
}

// VerifyEmail consumes a verification token and signs the user in.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*models.User, *models.AuthTokens, error) {
	userIDStr, err := s.tokens.Get(ctx, "email_verify:"+token)
	if err != nil {
		return nil, nil, &NotFoundError{Message: "Invalid or expired verification token"}
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid user ID in token: %w", err)
	}

	if err := s.userRepo.VerifyEmail(ctx, userID); err != nil {
		return nil, nil, err
	}
	s.tokens.Del(ctx, "email_verify:"+token)

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	tokens, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

func (s *AuthService) Login(ctx context.Context, req models.SignInRequest) (*models.User, *models.AuthTokens, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, nil, &ValidationError{Fields: map[string]string{"credentials": "Email and password are required"}}
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, &AuthError{Message: "Invalid email or password"}
		}
		return nil, nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, nil, &AuthError{Message: "Invalid email or password"}
	}
	if !user.IsVerified {
		return nil, nil, &ForbiddenError{Message: "Please verify your email before signing in."}
	}
	if !user.IsActive {
		return nil, nil, &AuthError{Message: "Account is deactivated"}
	}

	if err := s.userRepo.UpdateLastLogin(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to record last login")
	}

	tokens, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

// GetUser resolves a user id carried by a valid access token.
func (s *AuthService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "User not found"}
		}
		return nil, err
	}
	return user, nil
}

// RefreshToken rotates the refresh token.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*models.AuthTokens, error) {
	userIDStr, err := s.tokens.Get(ctx, "refresh:"+refreshToken)
	if err != nil {
		return nil, &AuthError{Message: "Invalid or expired refresh token. Please log in again."}
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid user ID: %w", err)
	}

	s.tokens.Del(ctx, "refresh:"+refreshToken)

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, &AuthError{Message: "Account is deactivated"}
	}

	return s.issueTokens(ctx, user)
}

// Logout revokes a refresh token of userID. A token that already expired
// is not an error; a token issued to someone else is.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID, refreshToken string) error {
	owner, err := s.tokens.Get(ctx, "refresh:"+refreshToken)
	if errors.Is(err, errTokenNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up refresh token: %w", err)
	}
	if owner != userID.String() {
		return &ForbiddenError{Message: "Refresh token belongs to another user"}
	}
	return s.tokens.Del(ctx, "refresh:"+refreshToken)
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User) (*models.AuthTokens, error) {
	accessToken, err := s.jwt.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := generateToken(64)
	if err != nil {
		return nil, err
	}

	err = s.tokens.Set(ctx, "refresh:"+refreshToken, user.ID.String(), refreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &models.AuthTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(middleware.AccessTokenTTL.Seconds()),
	}, nil
}

func generateToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func validatePassword(pw string) error {
	if len(pw) < 8 {
		return fmt.Errorf("Password must be at least 8 characters")
	}
	hasNumber := false
	for _, ch := range pw {
		if unicode.IsDigit(ch) {
			hasNumber = true
			break
		}
	}
	if !hasNumber {
		return fmt.Errorf("Password must contain at least one number")
	}
	return nil
}
