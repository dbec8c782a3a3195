package selfhosted

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
)

const minPasswordLength = 8

// Claims is the payload of access tokens issued by the Authenticator.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator implements registration and password login against the
// MongoDB identity store.
type Authenticator struct {
	repo      ports.UserRepository
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewAuthenticator(repo ports.UserRepository, jwtSecret string, tokenTTL time.Duration) *Authenticator {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &Authenticator{repo: repo, jwtSecret: []byte(jwtSecret), tokenTTL: tokenTTL, now: time.Now}
}

func (a *Authenticator) Register(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || len(password) < minPasswordLength {
		return nil, domain.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := a.now().UTC()
	return a.repo.Create(ctx, &domain.User{
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// Login checks the password and issues a session. Unknown emails and wrong
// passwords both report domain.ErrInvalidCredentials.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	if email == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := a.repo.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return a.issue(user)
}

func (a *Authenticator) issue(user *domain.User) (*domain.Session, error) {
	now := a.now()
	exp := now.Add(a.tokenTTL)
	claims := Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &domain.Session{
		UserID:      user.ID,
		Email:       user.Email,
		AccessToken: token,
		ExpiresAt:   exp.UTC().Truncate(time.Second),
	}, nil
}

// Verify parses an access token issued by this Authenticator.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid {
		return nil, domain.ErrNoSession
	}
	return claims, nil
}
