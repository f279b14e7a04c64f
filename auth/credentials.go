package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/klipach/contactcast/log"
	"github.com/klipach/contactcast/metrics"
)

// SignIn checks an email/password pair with exactly one provider call.
// Validation is left to the provider.
func SignIn(ctx context.Context, p Provider, email, password string) (cred *Credential, err error) {
	defer metrics.Observe("signIn", time.Now(), &err)
	cred, err = p.SignInWithPassword(ctx, email, password)
	if err != nil {
		log.LoggerFromContext(ctx).Info("sign-in failed", slog.String(ErrorMsgLogField, err.Error()))
		return nil, err
	}
	return cred, nil
}

// SignUp creates an account with exactly one provider call.
func SignUp(ctx context.Context, p Provider, email, password string) (cred *Credential, err error) {
	defer metrics.Observe("signUp", time.Now(), &err)
	cred, err = p.CreateUser(ctx, email, password)
	if err != nil {
		log.LoggerFromContext(ctx).Info("sign-up failed", slog.String(ErrorMsgLogField, err.Error()))
		return nil, err
	}
	return cred, nil
}
