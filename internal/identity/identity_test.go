package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestFromToken(t *testing.T) {
	userID := uuid.New()
	sellerRef := uuid.New()
	tokenStr := signToken(t, testSecret, Claims{
		UserID:    userID,
		SellerRef: sellerRef,
		Role:      "STAFF",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})

	id, err := FromToken(testSecret, tokenStr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != userID {
		t.Errorf("user id: got %s, want %s", id.UserID, userID)
	}
	if id.SellerRef != sellerRef {
		t.Errorf("seller ref: got %s, want %s", id.SellerRef, sellerRef)
	}
	if id.IsGuest() {
		t.Error("authenticated identity reported as guest")
	}
	if id.Key() != "user:"+userID.String() {
		t.Errorf("key: got %s", id.Key())
	}
}

func TestFromToken_WrongSecret(t *testing.T) {
	tokenStr := signToken(t, "other-secret", Claims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if _, err := FromToken(testSecret, tokenStr); err == nil {
		t.Fatal("expected error for wrong secret, got nil")
	}
}

func TestFromToken_Expired(t *testing.T) {
	tokenStr := signToken(t, testSecret, Claims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	if _, err := FromToken(testSecret, tokenStr); err == nil {
		t.Fatal("expected error for expired token, got nil")
	}
}

func TestGuest(t *testing.T) {
	id := Guest("device-42")
	if !id.IsGuest() {
		t.Fatal("guest identity not reported as guest")
	}
	if id.Key() != "guest:device-42" {
		t.Errorf("key: got %s", id.Key())
	}

	// Generated markers must differ between calls.
	a, b := Guest(""), Guest("")
	if a.Key() == b.Key() {
		t.Error("generated guest markers collided")
	}
}
