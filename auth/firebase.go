package auth

import (
	"context"
	"net/http"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/errorutils"
	"github.com/klipach/contactcast/apperr"
	"google.golang.org/api/option"
)

type FirebaseConfig struct {
	ProjectID          string
	APIKey             string
	CredentialsFile    string
	IdentityToolkitURL string
	HTTPClient         *http.Client
}

// FirebaseProvider combines the admin SDK (tokens, session cookies,
// revocation) with the Identity Toolkit REST API (password checks).
type FirebaseProvider struct {
	client  *auth.Client
	toolkit *IdentityToolkit
}

func NewFirebaseProvider(ctx context.Context, cfg FirebaseConfig) (*FirebaseProvider, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, err
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	return &FirebaseProvider{
		client:  client,
		toolkit: NewIdentityToolkit(cfg.IdentityToolkitURL, cfg.APIKey, cfg.HTTPClient),
	}, nil
}

func (p *FirebaseProvider) SignInWithPassword(ctx context.Context, email, password string) (*Credential, error) {
	return p.toolkit.SignInWithPassword(ctx, email, password)
}

func (p *FirebaseProvider) CreateUser(ctx context.Context, email, password string) (*Credential, error) {
	return p.toolkit.SignUp(ctx, email, password)
}

func (p *FirebaseProvider) SessionCookie(ctx context.Context, idToken string, ttl time.Duration) (string, error) {
	cookie, err := p.client.SessionCookie(ctx, idToken, ttl)
	if err != nil {
		return "", adminError("sessionCookie", err)
	}
	return cookie, nil
}

func (p *FirebaseProvider) VerifySessionCookie(ctx context.Context, cookie string) (*User, error) {
	token, err := p.client.VerifySessionCookieAndCheckRevoked(ctx, cookie)
	if err != nil {
		return nil, adminError("verifySessionCookie", err)
	}
	return userFromToken(token), nil
}

func (p *FirebaseProvider) VerifyIDToken(ctx context.Context, idToken string) (*User, error) {
	token, err := p.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	if err != nil {
		return nil, adminError("verifyIDToken", err)
	}
	return userFromToken(token), nil
}

func (p *FirebaseProvider) SignOut(ctx context.Context, uid string) error {
	if err := p.client.RevokeRefreshTokens(ctx, uid); err != nil {
		return adminError("signOut", err)
	}
	return nil
}

// IDTokenForUID mints a custom token for uid and exchanges it for an ID token.
func (p *FirebaseProvider) IDTokenForUID(ctx context.Context, uid string) (*Credential, error) {
	customToken, err := p.client.CustomToken(ctx, uid)
	if err != nil {
		return nil, adminError("customToken", err)
	}
	return p.toolkit.SignInWithCustomToken(ctx, customToken)
}

func userFromToken(token *auth.Token) *User {
	email, _ := token.Claims["email"].(string)
	return &User{UID: token.UID, Email: email}
}

func adminError(op string, err error) *apperr.Error {
	kind := apperr.KindAuth
	if errorutils.IsUnavailable(err) || errorutils.IsDeadlineExceeded(err) || errorutils.IsInternal(err) {
		kind = apperr.KindNetwork
	}
	return apperr.New(kind, op, err)
}
