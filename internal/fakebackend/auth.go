package fakebackend

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var errBadToken = errors.New("fakebackend: invalid token")

// tokens mints and validates HS256 access tokens whose subject is the
// decimal user id.
type tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (t *tokens) Mint(userID int) (string, error) {
	return t.MintAt(userID, t.now().Add(t.ttl))
}

// MintAt issues a token expiring at exp, which may be in the past.
func (t *tokens) MintAt(userID int, exp time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.Itoa(userID),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	return tok.SignedString(t.secret)
}

func (t *tokens) ValidateToken(raw string) (int, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return 0, errBadToken
	}
	id, err := strconv.Atoi(claims.Subject)
	if err != nil {
		return 0, errBadToken
	}
	return id, nil
}

func hashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
}

func checkPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
