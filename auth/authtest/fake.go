// Package authtest provides an in-memory identity provider for tests.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klipach/contactcast/apperr"
	"github.com/klipach/contactcast/auth"
)

type account struct {
	uid      string
	password string
	// revokedAt is the issue sequence at the last revocation. Tokens issued
	// at or before it stay invalid, as with Firebase's tokensValidAfterTime.
	revokedAt uint64
}

type token struct {
	user     auth.User
	issuedAt uint64
}

// Provider keeps accounts in memory. Session cookies and ID tokens are
// opaque random strings.
type Provider struct {
	mu       sync.Mutex
	accounts map[string]*account
	tokens   map[string]token
	issued   uint64

	// FailSignOut, Unavailable and VerifyUnavailable inject provider failures.
	FailSignOut       bool
	Unavailable       bool
	VerifyUnavailable bool

	SignInCalls int
	SignUpCalls int
}

func NewProvider() *Provider {
	return &Provider{accounts: make(map[string]*account), tokens: make(map[string]token)}
}

// AddUser registers an account and returns its uid.
func (p *Provider) AddUser(email, password string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	uid := uuid.NewString()
	p.accounts[email] = &account{uid: uid, password: password}
	return uid
}

// IDToken returns a valid ID token for a registered email.
func (p *Provider) IDToken(email string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.accounts[email]
	return p.mint(auth.User{UID: a.uid, Email: email})
}

func (p *Provider) mint(user auth.User) string {
	p.issued++
	value := uuid.NewString()
	p.tokens[value] = token{user: user, issuedAt: p.issued}
	return value
}

func (p *Provider) credential(email string, a *account) *auth.Credential {
	user := auth.User{UID: a.uid, Email: email}
	return &auth.Credential{User: user, IDToken: p.mint(user), ExpiresIn: time.Hour}
}

func (p *Provider) SignInWithPassword(_ context.Context, email, password string) (*auth.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SignInCalls++
	if p.Unavailable {
		return nil, apperr.New(apperr.KindNetwork, "signInWithPassword", context.DeadlineExceeded)
	}
	a, ok := p.accounts[email]
	if !ok || a.password != password {
		return nil, apperr.WithCode(apperr.KindAuth, "signInWithPassword", "INVALID_LOGIN_CREDENTIALS", nil)
	}
	return p.credential(email, a), nil
}

func (p *Provider) CreateUser(_ context.Context, email, password string) (*auth.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SignUpCalls++
	if p.Unavailable {
		return nil, apperr.New(apperr.KindNetwork, "signUp", context.DeadlineExceeded)
	}
	if _, ok := p.accounts[email]; ok {
		return nil, apperr.WithCode(apperr.KindAuth, "signUp", "EMAIL_EXISTS", nil)
	}
	if len(password) < 6 {
		return nil, apperr.WithCode(apperr.KindAuth, "signUp", "WEAK_PASSWORD", nil)
	}
	if !strings.Contains(email, "@") {
		return nil, apperr.WithCode(apperr.KindAuth, "signUp", "INVALID_EMAIL", nil)
	}
	a := &account{uid: uuid.NewString(), password: password}
	p.accounts[email] = a
	return p.credential(email, a), nil
}

func (p *Provider) SessionCookie(_ context.Context, idToken string, _ time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok, ok := p.tokens[idToken]
	if !ok {
		return "", apperr.New(apperr.KindAuth, "sessionCookie", nil)
	}
	return p.mint(tok.user), nil
}

func (p *Provider) VerifySessionCookie(ctx context.Context, cookie string) (*auth.User, error) {
	return p.verify("verifySessionCookie", cookie)
}

func (p *Provider) VerifyIDToken(_ context.Context, idToken string) (*auth.User, error) {
	return p.verify("verifyIDToken", idToken)
}

func (p *Provider) verify(op, value string) (*auth.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.VerifyUnavailable {
		return nil, apperr.New(apperr.KindNetwork, op, context.DeadlineExceeded)
	}
	tok, ok := p.tokens[value]
	if !ok {
		return nil, apperr.New(apperr.KindAuth, op, nil)
	}
	if a := p.accounts[tok.user.Email]; a == nil || tok.issuedAt <= a.revokedAt {
		return nil, apperr.WithCode(apperr.KindAuth, op, "REVOKED", nil)
	}
	user := tok.user
	return &user, nil
}

func (p *Provider) SignOut(_ context.Context, uid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailSignOut {
		return apperr.New(apperr.KindNetwork, "signOut", context.DeadlineExceeded)
	}
	for _, a := range p.accounts {
		if a.uid == uid {
			a.revokedAt = p.issued
		}
	}
	return nil
}
