package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// StateCookieName はOAuth stateを保持するCookieの名前。
	StateCookieName = "oauth_state"

	// StateTTL はstateの有効期間。
	StateTTL = 10 * time.Minute

	stateIssuer = "sociallogin"
)

// stateClaims はstate JWTのクレーム。
type stateClaims struct {
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// StateSigner はOAuthのstateパラメータをHS256署名付きJWTとして発行・検証する。
// サーバー側に状態を持たずにCSRFとリプレイ期間を制限する。
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner はStateSignerを生成する。
func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{
		secret: []byte(secret),
		ttl:    StateTTL,
		now:    time.Now,
	}
}

// Issue はプロバイダー名とランダムなnonceを含むstateを発行する。
func (s *StateSigner) Issue(provider string) (string, error) {
	now := s.now()
	claims := stateClaims{
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return token, nil
}

// Verify はstateの署名、有効期限、プロバイダー名を検証する。
func (s *StateSigner) Verify(token, provider string) error {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}
	if claims.Provider != provider {
		return errors.New("state was issued for a different provider")
	}
	return nil
}
