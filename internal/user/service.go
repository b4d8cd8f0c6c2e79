package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"spark-client/internal/apperr"
	"spark-client/internal/logger"
)

const minPasswordLength = 8

var ErrMalformedToken = errors.New("user: malformed access token")

// TokenClaims are the parts of the access token the client relies on. The
// signature is not checked here; the backend verifies every request.
type TokenClaims struct {
	UserID    int
	ExpiresAt time.Time
}

// Expired reports whether the token has an expiry that is not after now.
func (c TokenClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseClaims reads the subject and expiry of an access token without
// verifying it.
func ParseClaims(token string) (TokenClaims, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var out TokenClaims
	if claims.Subject != "" {
		id, err := strconv.Atoi(claims.Subject)
		if err != nil {
			return TokenClaims{}, fmt.Errorf("%w: subject %q", ErrMalformedToken, claims.Subject)
		}
		out.UserID = id
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// AuthBackend is the authentication half of the API.
type AuthBackend interface {
	Me(ctx context.Context) (*User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req ResetPasswordRequest) error
}

// Service wraps the authentication calls with the client-side checks a
// form would do before submitting.
type Service struct {
	backend AuthBackend
	log     *slog.Logger
}

func NewService(backend AuthBackend, log *slog.Logger) *Service {
	return &Service{
		backend: backend,
		log:     logger.OrDefault(log),
	}
}

// Login exchanges credentials for an access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", apperr.Reject("login", "email and password are required")
	}
	res, err := s.backend.Login(ctx, LoginRequest{Email: email, Password: password})
	if err != nil {
		return "", err
	}
	if res.AccessToken == "" {
		return "", apperr.Auth("login", ErrMalformedToken)
	}
	if claims, err := ParseClaims(res.AccessToken); err != nil {
		s.log.Warn("access token is not a readable JWT", "err", err)
	} else if claims.Expired(time.Now()) {
		return "", apperr.Auth("login", errors.New("access token already expired"))
	}
	return res.AccessToken, nil
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	switch {
	case req.FullName == "":
		return nil, apperr.Reject("register", "full name is required")
	case !validEmail(req.Email):
		return nil, apperr.Reject("register", "invalid email address")
	case len(req.Password) < minPasswordLength:
		return nil, apperr.Reject("register", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if _, err := time.Parse(time.DateOnly, req.Birthdate); err != nil {
		return nil, apperr.Reject("register", "birthdate must be YYYY-MM-DD")
	}
	return s.backend.Register(ctx, req)
}

// ForgotPassword asks the backend to issue a reset code.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return apperr.Reject("forgot password", "invalid email address")
	}
	return s.backend.ForgotPassword(ctx, email)
}

func (s *Service) ResetPassword(ctx context.Context, code, newPassword string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return apperr.Reject("reset password", "reset code is required")
	}
	if newPassword == "" {
		return apperr.Reject("reset password", "new password is required")
	}
	return s.backend.ResetPassword(ctx, ResetPasswordRequest{Token: code, NewPassword: newPassword})
}

func (s *Service) Me(ctx context.Context) (*User, error) {
	return s.backend.Me(ctx)
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
