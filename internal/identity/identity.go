// Package identity scopes carts and order fetches to one actor: an
// authenticated user carried in a session JWT, or an anonymous guest
// keyed by a device marker.
package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the session token payload issued by the (external) auth layer.
type Claims struct {
	UserID    uuid.UUID `json:"user_id"`
	SellerRef uuid.UUID `json:"seller_ref"`
	Role      string    `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the token under which a cart is persisted and orders are
// fetched. Exactly one of UserID / GuestID is set.
type Identity struct {
	UserID    uuid.UUID
	GuestID   string
	SellerRef uuid.UUID
	Role      string
	Token     string
}

// IsGuest reports whether this is an anonymous identity.
func (id Identity) IsGuest() bool {
	return id.GuestID != ""
}

// Key returns the storage key carts are filed under. Stable across
// sessions for the same user or device.
func (id Identity) Key() string {
	if id.IsGuest() {
		return "guest:" + id.GuestID
	}
	return "user:" + id.UserID.String()
}

// FromToken validates a session JWT and returns the authenticated
// identity it carries.
func FromToken(secret, tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("parse session token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("invalid session token")
	}
	return Identity{
		UserID:    claims.UserID,
		SellerRef: claims.SellerRef,
		Role:      claims.Role,
		Token:     tokenStr,
	}, nil
}

// Guest returns an anonymous identity for the given device marker. A new
// marker is generated when none is supplied.
func Guest(deviceID string) Identity {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	return Identity{GuestID: deviceID}
}
