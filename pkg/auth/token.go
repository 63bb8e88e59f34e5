package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	ScopeEvents   = "events"
	ScopePrograms = "programs"
)

// APIClaims identify an integration acting for one owner.
type APIClaims struct {
	jwt.RegisteredClaims
	OwnerID string `json:"owner_id"`
	Scope   string `json:"scope"`
}

type TokenManager struct {
	signingKey []byte
	ttl        time.Duration
}

func NewTokenManager(signingKey []byte, ttl time.Duration) *TokenManager {
	return &TokenManager{signingKey: signingKey, ttl: ttl}
}

func (m *TokenManager) Generate(ownerID uuid.UUID, scopes ...string) (string, error) {
	now := time.Now()
	claims := APIClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Subject:  ownerID.String(),
			Issuer:   "leadflow",
		},
		OwnerID: ownerID.String(),
		Scope:   strings.Join(scopes, ","),
	}
	if m.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

func (m *TokenManager) Validate(tokenString string) (*APIClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &APIClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*APIClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	// link tokens share the key but must not authenticate API calls
	for _, aud := range claims.Audience {
		if aud == linkAudience {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}

func (c *APIClaims) HasScope(required string) bool {
	for _, scope := range strings.Split(c.Scope, ",") {
		if scope == required {
			return true
		}
	}
	return false
}

// Owner returns the owner id, or uuid.Nil if the claim is malformed.
func (c *APIClaims) Owner() uuid.UUID {
	id, err := uuid.Parse(c.OwnerID)
	if err != nil {
		return uuid.Nil
	}
	return id
}
