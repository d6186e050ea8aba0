package utils

import (
	"errors"
	"time"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the JWT claims
type Claims struct {
	UserID  models.UserID `json:"user_id"`
	Email   string        `json:"email"`
	IsAdmin bool          `json:"is_admin"`
	jwt.RegisteredClaims
}

// GenerateToken signs an access token for the given user
func GenerateToken(secret string, userID models.UserID, email string, isAdmin bool, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}

	now := time.Now()
	claims := Claims{
		UserID:  userID,
		Email:   email,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken validates a JWT token and returns the claims
func ValidateToken(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("failed to parse token claims")
	}

	return claims, nil
}
