package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTypeRefresh = "refresh"

// TokenService produces and verifies compact signed tokens without any
// server-side state. A single shared secret signs both token kinds with
// HS256; verification is a pure function of secret + claims + clock.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string

	now func() time.Time
}

// Claims carried by access and refresh tokens. Access tokens assert
// {subject, role, tenant}; refresh tokens assert {subject, type=refresh}.
// Tokens reference an identity by id only, never by live object.
type Claims struct {
	Role      string `json:"role,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	TokenType string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// IsRefresh reports whether the token carries the explicit refresh marker.
func (c *Claims) IsRefresh() bool { return c.TokenType == tokenTypeRefresh }

func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     "school-access-service",
		now:        time.Now,
	}
}

// IssueAccess creates a short-lived access token for the identity.
// tenantID is empty for super admins.
func (s *TokenService) IssueAccess(identityID uuid.UUID, role, tenantID string) (string, error) {
	now := s.now()
	claims := &Claims{
		Role:     role,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   identityID.String(),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// IssueRefresh creates a longer-lived refresh token carrying the explicit
// type=refresh claim.
func (s *TokenService) IssueRefresh(identityID uuid.UUID) (string, error) {
	now := s.now()
	claims := &Claims{
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   identityID.String(),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a token. Any mismatch - bad signature,
// malformed payload, or expiry at or past the verification instant - is
// ErrInvalidToken; the specific check that failed is carried as wrapped
// detail for logging, never returned to the caller.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, fail(KindInvalidToken, ErrInvalidToken.Message, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fail(KindInvalidToken, ErrInvalidToken.Message, fmt.Errorf("claims type mismatch"))
	}

	return claims, nil
}

// Subject parses the identity id out of verified claims.
func (c *Claims) SubjectID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// AccessTTL returns the access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }
