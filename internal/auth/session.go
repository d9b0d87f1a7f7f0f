package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/repository"
)

const issuer = "premiumcollect"

// Claims are the staff session token claims.
type Claims struct {
	UserID string      `json:"user_id"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// UserStore loads and creates staff accounts.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
}

// MinPasswordLength applies to accounts created through Register.
const MinPasswordLength = 8

// SessionService issues and verifies staff JWTs.
type SessionService struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
}

func NewSessionService(users UserStore, secret string, ttl time.Duration) *SessionService {
	return &SessionService{users: users, secret: []byte(secret), ttl: ttl}
}

// Login checks credentials and returns a signed token.
func (s *SessionService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, apperr.Unauthorized(apperr.CodeInvalidCredentials, "Invalid credentials")
		}
		return "", nil, apperr.Internal(apperr.CodeInternal, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, apperr.Unauthorized(apperr.CodeInvalidCredentials, "Invalid credentials")
	}
	if !user.IsActive {
		return "", nil, apperr.Unauthorized(apperr.CodeAccountInactive, "Account is inactive")
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return "", nil, apperr.Internal(apperr.CodeInternal, err)
	}
	return token, user, nil
}

// Register creates a staff account with a bcrypt password hash.
func (s *SessionService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	role := req.Role
	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return nil, apperr.BadRequest(apperr.CodeInvalidRole,
			fmt.Sprintf("Invalid role %q; expected admin, manager or user", req.Role))
	}
	if len(req.Password) < MinPasswordLength {
		return nil, apperr.BadRequest(apperr.CodeInvalidRequest,
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeInternal, fmt.Errorf("failed to hash password: %w", err))
	}
	user := &models.User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         role,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict(apperr.CodeUserExists, "User already exists")
		}
		return nil, apperr.Internal(apperr.CodeInternal, err)
	}
	return user, nil
}

// Me reloads the account behind verified claims.
func (s *SessionService) Me(ctx context.Context, claims *Claims) (*models.User, error) {
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, apperr.Unauthorized(apperr.CodeInvalidToken, "Invalid token")
	}
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Unauthorized(apperr.CodeInvalidToken, "Invalid token")
		}
		return nil, apperr.Internal(apperr.CodeInternal, err)
	}
	return user, nil
}

// IssueToken signs an HS256 token for user.
func (s *SessionService) IssueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   user.ID.String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyToken parses and validates a token.
func (s *SessionService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// HashPassword bcrypts a staff password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
