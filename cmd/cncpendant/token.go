package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims is the payload CNCjs expects in its access token.
type accessClaims struct {
	UserID   string `json:"id"`
	UserName string `json:"name"`
	jwt.RegisteredClaims
}

// cncrcFile is the subset of ~/.cncrc the pendant reads.
type cncrcFile struct {
	Secret string `json:"secret"`
}

// LoadCNCrcSecret reads the token signing secret from a CNCjs rc file.
func LoadCNCrcSecret(path string) (string, error) {
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return "", fmt.Errorf("read cncrc: %w", err)
	}
	var rc cncrcFile
	if err := json.Unmarshal(b, &rc); err != nil {
		return "", fmt.Errorf("decode cncrc %s: %w", path, err)
	}
	if rc.Secret == "" {
		return "", fmt.Errorf("cncrc %s has no secret", path)
	}
	return rc.Secret, nil
}

// GenerateAccessToken signs an HS256 token CNCjs accepts as a socket or API credential.
func GenerateAccessToken(secret string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	claims := accessClaims{
		UserID:   "",
		UserName: pendantUserName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// AccessTokenFromCNCrc loads the secret from path and signs a token valid for ttl.
func AccessTokenFromCNCrc(path string, ttl time.Duration) (string, error) {
	secret, err := LoadCNCrcSecret(path)
	if err != nil {
		return "", err
	}
	return GenerateAccessToken(secret, ttl, time.Now())
}
