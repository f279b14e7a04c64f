package auth

import (
	"context"
	"time"
)

type User struct {
	UID   string
	Email string
}

// Credential is what a successful password sign-in or sign-up returns.
type Credential struct {
	User         User
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Provider is the identity provider operation set the application consumes.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Credential, error)
	CreateUser(ctx context.Context, email, password string) (*Credential, error)
	// SessionCookie exchanges a fresh ID token for a long-lived session cookie.
	SessionCookie(ctx context.Context, idToken string, ttl time.Duration) (string, error)
	VerifySessionCookie(ctx context.Context, cookie string) (*User, error)
	VerifyIDToken(ctx context.Context, idToken string) (*User, error)
	// SignOut revokes the user's refresh tokens and session cookies.
	SignOut(ctx context.Context, uid string) error
}
