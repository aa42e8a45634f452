// Package extjwt verifies inbound Twitch Extension JWTs and mints short-lived
// outbound JWTs for Extension API calls. Both directions share one
// base64-encoded secret but have different claim shapes, so verification and
// issuance are kept as separate functions over a shared Signer.
//
// Docs: https://dev.twitch.tv/docs/extensions/building/#verifying-a-jwt-token
package extjwt

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnconfigured indicates the shared extension secret is absent.
	ErrUnconfigured = errors.New("extension secret not configured")
	// ErrExpired indicates the token's exp claim is absent or in the past.
	ErrExpired = errors.New("extension token expired")
	// ErrInvalidSignature indicates a malformed token or a signature that does
	// not verify under the configured secret and algorithm.
	ErrInvalidSignature = errors.New("invalid extension token signature")
)

// Roles carried by extension JWTs.
const (
	RoleBroadcaster = "broadcaster"
	RoleModerator   = "moderator"
	RoleViewer      = "viewer"
	// RoleExternal is required on JWTs the backend mints for Extension API calls.
	RoleExternal = "external"
)

// IssuedTokenTTL bounds outbound tokens; they are minted per call, never cached.
const IssuedTokenTTL = 60 * time.Second

// Claims is the extension JWT payload. user_id is only present when the
// viewer has granted identity linking.
type Claims struct {
	ChannelID    string `json:"channel_id"`
	UserID       string `json:"user_id,omitempty"`
	OpaqueUserID string `json:"opaque_user_id,omitempty"`
	Role         string `json:"role"`
	jwt.RegisteredClaims
}

// ChannelInfo is the projection handlers consume.
type ChannelInfo struct {
	ChannelID    string
	UserID       string
	OpaqueUserID string
	Role         string
	IsUnlinked   bool
}

// Info projects claims into ChannelInfo. When the viewer has not linked a
// persistent identity, UserID falls back to the opaque id for identification
// only; callers must gate personalized behavior on IsUnlinked.
func (c *Claims) Info() ChannelInfo {
	info := ChannelInfo{
		ChannelID:    c.ChannelID,
		UserID:       c.UserID,
		OpaqueUserID: c.OpaqueUserID,
		Role:         c.Role,
		IsUnlinked:   c.UserID == "",
	}
	if info.UserID == "" {
		info.UserID = c.OpaqueUserID
	}
	return info
}

// IsPrivileged reports whether a role may change broadcaster configuration.
func IsPrivileged(role string) bool {
	return role == RoleBroadcaster || role == RoleModerator
}

// Signer holds the decoded shared secret.
type Signer struct {
	secret []byte
}

// NewSigner decodes the base64-encoded extension secret. Returns
// ErrUnconfigured when the secret is empty.
func NewSigner(base64Secret string) (*Signer, error) {
	if base64Secret == "" {
		return nil, ErrUnconfigured
	}
	secret, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode extension secret: %w", err)
	}
	return &Signer{secret: secret}, nil
}

// Verify validates an inbound extension JWT and returns its claims.
// Only HS256 is accepted; tokens signed with "none" or any other algorithm
// fail as ErrInvalidSignature.
func (s *Signer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	// Explicit expiry check on top of library validation, in case parser
	// options ever disable claim validation. Absent exp is rejected too.
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(time.Now()) {
		return nil, ErrExpired
	}
	return claims, nil
}

// Issue mints a fresh 60-second JWT for calling Extension APIs on behalf of
// the given broadcaster/service user id. role=external is required by the
// configuration service.
func (s *Signer) Issue(userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"exp":     now.Add(IssuedTokenTTL).Unix(),
		"user_id": userID,
		"role":    RoleExternal,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign extension token: %w", err)
	}
	return signed, nil
}
