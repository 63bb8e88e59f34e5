package auth

import (
	"errors"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const linkAudience = "click"

var ErrInvalidLink = errors.New("invalid tracking link")

// LinkClaims bind a click-through target to one enrollment so the tracking
// endpoint only redirects to URLs that were actually sent.
type LinkClaims struct {
	jwt.RegisteredClaims
	URL string `json:"url"`
}

// SignLink returns a token for a tracked link. Link tokens do not expire;
// emails get clicked long after they are sent.
func (m *TokenManager) SignLink(enrollmentID uuid.UUID, target string) (string, error) {
	if !redirectable(target) {
		return "", ErrInvalidLink
	}
	claims := LinkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
			Subject:  enrollmentID.String(),
			Issuer:   "leadflow",
			Audience: jwt.ClaimStrings{linkAudience},
		},
		URL: target,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
}

// VerifyLink returns the enrollment and target URL carried by a link token.
func (m *TokenManager) VerifyLink(tokenString string) (uuid.UUID, string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LinkClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(linkAudience),
	)
	if err != nil {
		return uuid.Nil, "", err
	}

	claims, ok := token.Claims.(*LinkClaims)
	if !ok || !token.Valid {
		return uuid.Nil, "", ErrInvalidLink
	}
	enrollmentID, err := uuid.Parse(claims.Subject)
	if err != nil || !redirectable(claims.URL) {
		return uuid.Nil, "", ErrInvalidLink
	}
	return enrollmentID, claims.URL, nil
}

func redirectable(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
