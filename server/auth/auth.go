package auth

import (
	"fmt"
	"time"

	"github.com/Steven867533/hce-backend/server/auth/key"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// TokenDuration is how long an issued bearer token stays valid.
const TokenDuration = time.Hour

type HceTokenClaims struct {
	Role string `json:"role"`
	jwt.StandardClaims
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// NewTokenClaims creates the claims for a user's bearer token. The subject
// is the user's record id, and the role claim mirrors the user's role so
// handlers can gate role-dependent reads without a store lookup.
func NewTokenClaims(userID, role string) HceTokenClaims {
	now := time.Now()

	return HceTokenClaims{
		Role: role,
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			Id:        uuid.NewString(),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(TokenDuration).Unix(),
		},
	}
}

func EncodeJWT(claims HceTokenClaims, keyPair *key.KeyPair) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod("RS256"), claims)

	tokenString, err := token.SignedString(keyPair.PrivateKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func DecodeJWT(tokenString string, keyPair *key.KeyPair) (*HceTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &HceTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		// validate the alg is what you expect:
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return keyPair.PublicKey, nil
	})

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid jwt: %v", err)
	}

	tokenClaims, ok := token.Claims.(*HceTokenClaims)
	if !ok {
		return nil, fmt.Errorf("unable to assert token.Claims to HceTokenClaims")
	}

	return tokenClaims, nil
}
