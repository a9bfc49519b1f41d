package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims is the identity carried by a validated token.
type Claims struct {
	UserID   string
	Username string
}

// TokenIssuer signs and validates HS256 access and refresh tokens.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (ti *TokenIssuer) GenerateJWT(userID, username string) (string, error) {
	return ti.sign(userID, username, tokenTypeAccess, ti.accessTTL)
}

func (ti *TokenIssuer) GenerateRefreshToken(userID, username string) (string, error) {
	return ti.sign(userID, username, tokenTypeRefresh, ti.refreshTTL)
}

func (ti *TokenIssuer) sign(userID, username, typ string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id":  userID,
		"username": username,
		"type":     typ,
		"exp":      ti.now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// ValidateToken accepts access tokens only.
func (ti *TokenIssuer) ValidateToken(tokenString string) (*Claims, error) {
	return ti.validate(tokenString, tokenTypeAccess)
}

func (ti *TokenIssuer) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return ti.validate(tokenString, tokenTypeRefresh)
}

func (ti *TokenIssuer) validate(tokenString, typ string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return ti.secret, nil
	}, jwt.WithTimeFunc(ti.now))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if t, _ := claims["type"].(string); t != typ {
		return nil, ErrInvalidToken
	}
	userID, _ := claims["user_id"].(string)
	username, _ := claims["username"].(string)
	if userID == "" {
		return nil, ErrInvalidToken
	}
	return &Claims{UserID: userID, Username: username}, nil
}
