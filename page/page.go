// Package page serves the sign-in, sign-up and contact pages.
package page

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/klipach/contactcast/apperr"
	"github.com/klipach/contactcast/auth"
	"github.com/klipach/contactcast/contact"
	"github.com/klipach/contactcast/contract"
	"github.com/klipach/contactcast/log"
)

const (
	ErrorMsgLogField = "errorMsg"
	userIDLogField   = "userID"
	kindLogField     = "kind"
	pageIDLogField   = "pageID"

	pageIDKey = "page"

	homePath   = "/"
	signUpPath = "/signUp"
)

type Pages struct {
	manager     *auth.Manager
	contacts    *contact.Client
	states      StateStore
	sessions    sessions.Store
	tmpl        *template.Template
	unsubscribe func()
}

// New builds the pages and subscribes them to the manager's auth-state
// notifications. Close unsubscribes.
func New(manager *auth.Manager, contacts *contact.Client, states StateStore, store sessions.Store) (*Pages, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	p := &Pages{manager: manager, contacts: contacts, states: states, sessions: store, tmpl: tmpl}
	p.unsubscribe = manager.Subscribe(p.onAuthEvent)
	return p, nil
}

func (p *Pages) Close() {
	p.unsubscribe()
}

// onAuthEvent starts a fresh page state with the book loaded when a browser
// signs in, and drops the state when it signs out.
func (p *Pages) onAuthEvent(ctx context.Context, e auth.Event) {
	if e.Session == nil || e.User == nil {
		return
	}
	id, _ := e.Session.Values[pageIDKey].(string)
	logger := log.LoggerFromContext(ctx).With(slog.String(userIDLogField, e.User.UID))

	switch e.Kind {
	case auth.EventSignedIn:
		if id == "" {
			id = uuid.NewString()
			e.Session.Values[pageIDKey] = id
		}
		st := newState(e.User.UID)
		// a failed load leaves the book unloaded and the contact page retries
		_ = p.contacts.Load(log.WithLogger(ctx, logger), &st.Book)
		p.saveState(ctx, id, st)
	case auth.EventSignedOut:
		if id == "" {
			return
		}
		delete(e.Session.Values, pageIDKey)
		if err := p.states.Delete(ctx, id); err != nil {
			logger.Error("error while dropping page state", slog.String(ErrorMsgLogField, err.Error()))
		}
	}
}

// Register adds the page routes to r. Contact routes require a signed-in user.
func (p *Pages) Register(r *mux.Router) {
	r.HandleFunc(auth.SignInPath, p.SignInForm).Methods(http.MethodGet)
	r.HandleFunc(auth.SignInPath, p.SignIn).Methods(http.MethodPost)
	r.HandleFunc(signUpPath, p.SignUpForm).Methods(http.MethodGet)
	r.HandleFunc(signUpPath, p.SignUp).Methods(http.MethodPost)

	protected := func(h http.HandlerFunc) http.Handler { return p.manager.RequireUser(h) }
	r.Handle("/signOut", protected(p.SignOut)).Methods(http.MethodPost)
	r.Handle(homePath, protected(p.Contacts)).Methods(http.MethodGet)
	r.Handle("/contacts", protected(p.AddContact)).Methods(http.MethodPost)
	r.Handle("/contacts/{id}/delete", protected(p.RemoveContact)).Methods(http.MethodPost)
	r.Handle("/dispatch/open", protected(p.OpenDispatch)).Methods(http.MethodPost)
	r.Handle("/dispatch/cancel", protected(p.CancelDispatch)).Methods(http.MethodPost)
	r.Handle("/dispatch/send", protected(p.SendDispatch)).Methods(http.MethodPost)
}

func (p *Pages) session(r *http.Request) *sessions.Session {
	// a cookie signed with an old secret yields an empty new session
	session, _ := p.sessions.Get(r, auth.SessionName)
	return session
}

func (p *Pages) flash(w http.ResponseWriter, r *http.Request, n Notice) {
	session := p.session(r)
	session.AddFlash(n)
	if err := session.Save(r, w); err != nil {
		log.LoggerFromContext(r.Context()).Error("error while saving session", slog.String(ErrorMsgLogField, err.Error()))
	}
}

// notices pops pending flashes and appends extra.
func (p *Pages) notices(w http.ResponseWriter, r *http.Request, extra ...Notice) []Notice {
	session := p.session(r)
	var out []Notice
	flashes := session.Flashes()
	for _, f := range flashes {
		if n, ok := f.(Notice); ok {
			out = append(out, n)
		}
	}
	if len(flashes) > 0 {
		if err := session.Save(r, w); err != nil {
			log.LoggerFromContext(r.Context()).Error("error while saving session", slog.String(ErrorMsgLogField, err.Error()))
		}
	}
	return append(out, extra...)
}

func (p *Pages) SignInForm(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, http.StatusOK, "signIn", view{Title: "Login", Notices: p.notices(w, r)})
}

// SignIn shows the same notice for every failure kind.
func (p *Pages) SignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.LoggerFromContext(ctx)
	form := credentialsForm(r)

	provider, err := p.manager.Provider()
	if err != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	cred, err := auth.SignIn(ctx, provider, form.Email, form.Password)
	if err != nil {
		logger.Info("sign-in rejected", slog.String(kindLogField, apperr.KindOf(err).String()))
		p.render(w, r, http.StatusUnauthorized, "signIn", view{
			Title:   "Login",
			Email:   form.Email,
			Notices: []Notice{failure(textSignInFailed)},
		})
		return
	}
	logger = logger.With(slog.String(userIDLogField, cred.User.UID))

	if err := p.manager.Establish(w, r, cred); err != nil {
		logger.Error("error while establishing session", slog.String(ErrorMsgLogField, err.Error()))
		p.render(w, r, http.StatusServiceUnavailable, "signIn", view{
			Title:   "Login",
			Email:   form.Email,
			Notices: []Notice{failure(textSignInRetry)},
		})
		return
	}
	logger.Info("signed in")
	p.flash(w, r, success(textSignInSucceeded))
	http.Redirect(w, r, homePath, http.StatusSeeOther)
}

func (p *Pages) SignUpForm(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, http.StatusOK, "signUp", view{Title: "Sign up", Notices: p.notices(w, r)})
}

func (p *Pages) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := credentialsForm(r)

	provider, err := p.manager.Provider()
	if err != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	cred, err := auth.SignUp(ctx, provider, form.Email, form.Password)
	if err != nil {
		p.render(w, r, http.StatusBadRequest, "signUp", view{
			Title:   "Sign up",
			Email:   form.Email,
			Notices: []Notice{failure(textSignUpFailed)},
		})
		return
	}
	log.LoggerFromContext(ctx).Info("signed up", slog.String(userIDLogField, cred.User.UID))
	p.flash(w, r, success(textSignUpSucceeded))
	http.Redirect(w, r, auth.SignInPath, http.StatusSeeOther)
}

func (p *Pages) SignOut(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	result, err := p.manager.Logout(w, r, user)
	if err != nil {
		p.flash(w, r, failure(textSignOutFailed))
		http.Redirect(w, r, homePath, http.StatusSeeOther)
		return
	}
	p.flash(w, r, success(textSignedOut))
	if result.RevokeErr != nil {
		p.flash(w, r, failure(textRevokeFailed))
	}
	http.Redirect(w, r, auth.SignInPath, http.StatusSeeOther)
}

// Contacts renders the contact page. The book is loaded at sign-in; pages
// whose load failed or whose state expired load it here.
func (p *Pages) Contacts(w http.ResponseWriter, r *http.Request) {
	ctx, id, st, err := p.loadState(w, r)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !st.Book.Loaded {
		// a failed load is logged and shown as an empty list
		if err := p.contacts.Load(ctx, &st.Book); err == nil {
			p.saveState(ctx, id, st)
		}
	}

	v := view{
		Title:            "Contacts",
		User:             auth.UserFromContext(ctx),
		State:            st,
		Limit:            p.contacts.Limit(),
		Full:             st.Book.Len() >= p.contacts.Limit(),
		LastDispatchHTML: renderMarkdown(st.LastDispatch),
		Notices:          p.notices(w, r),
	}
	p.render(w, r, http.StatusOK, "contacts", v)
}

func (p *Pages) AddContact(w http.ResponseWriter, r *http.Request) {
	ctx, id, st, err := p.loadState(w, r)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	form := contactForm(r)
	st.Draft = contact.Contact{Name: form.Name, PhoneNumber: form.PhoneNumber, Email: form.Email}

	added, err := p.contacts.Add(ctx, &st.Book, st.Draft)
	switch {
	case err != nil:
		p.flash(w, r, failure(textOpFailed))
	case added:
		st.Draft = contact.Contact{}
		p.flash(w, r, success(textOpSucceeded))
	}
	p.saveState(ctx, id, st)
	http.Redirect(w, r, homePath, http.StatusSeeOther)
}

func (p *Pages) RemoveContact(w http.ResponseWriter, r *http.Request) {
	ctx, id, st, err := p.loadState(w, r)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if err := p.contacts.Remove(ctx, &st.Book, mux.Vars(r)["id"]); err != nil {
		p.flash(w, r, failure(textOpFailed))
	} else {
		p.flash(w, r, success(textOpSucceeded))
	}
	p.saveState(ctx, id, st)
	http.Redirect(w, r, homePath, http.StatusSeeOther)
}

func (p *Pages) OpenDispatch(w http.ResponseWriter, r *http.Request) {
	p.transition(w, r, func(st *State) {
		if st.Modal == ModalIdle {
			st.Modal = ModalOpen
		}
	})
}

// CancelDispatch closes the modal and keeps the typed message.
func (p *Pages) CancelDispatch(w http.ResponseWriter, r *http.Request) {
	message := r.PostFormValue(contract.FormMessage)
	p.transition(w, r, func(st *State) {
		if st.Modal == ModalOpen {
			st.Modal = ModalIdle
			st.Message = message
		}
	})
}

func (p *Pages) transition(w http.ResponseWriter, r *http.Request, fn func(*State)) {
	ctx, id, st, err := p.loadState(w, r)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	fn(st)
	p.saveState(ctx, id, st)
	http.Redirect(w, r, homePath, http.StatusSeeOther)
}

// SendDispatch broadcasts to the cached book. The modal closes and the message
// clears whatever the outcome.
func (p *Pages) SendDispatch(w http.ResponseWriter, r *http.Request) {
	ctx, id, st, err := p.loadState(w, r)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if st.Modal != ModalOpen {
		http.Redirect(w, r, homePath, http.StatusSeeOther)
		return
	}
	form := contract.DispatchForm{Message: r.PostFormValue(contract.FormMessage)}

	st.Modal = ModalSending
	st.Message = form.Message
	p.saveState(ctx, id, st)

	report, err := p.contacts.Dispatch(ctx, &st.Book, form.Message)
	switch {
	case errors.Is(err, contact.ErrPartialDispatch):
		p.flash(w, r, partialFailure(len(report.Failed), st.Book.Len()))
	case err != nil:
		p.flash(w, r, failure(textOpFailed))
	default:
		p.flash(w, r, success(textOpSucceeded))
	}
	if report != nil && report.DispatchID != "" {
		st.LastDispatch = form.Message
	}

	st.Modal = ModalIdle
	st.Message = ""
	p.saveState(ctx, id, st)
	http.Redirect(w, r, homePath, http.StatusSeeOther)
}

// loadState returns the page state of this browser for the signed-in user,
// creating the page id on first use.
func (p *Pages) loadState(w http.ResponseWriter, r *http.Request) (context.Context, string, *State, error) {
	ctx := r.Context()
	user := auth.UserFromContext(ctx)
	session := p.session(r)

	id, _ := session.Values[pageIDKey].(string)
	if id == "" {
		id = uuid.NewString()
		session.Values[pageIDKey] = id
		if err := session.Save(r, w); err != nil {
			log.LoggerFromContext(ctx).Error("error while saving session", slog.String(ErrorMsgLogField, err.Error()))
			return ctx, "", nil, err
		}
	}
	logger := log.LoggerFromContext(ctx).With(slog.String(userIDLogField, user.UID), slog.String(pageIDLogField, id))
	ctx = log.WithLogger(ctx, logger)

	st, err := p.states.Load(ctx, id)
	if err != nil {
		logger.Error("error while loading page state", slog.String(ErrorMsgLogField, err.Error()))
		return ctx, id, nil, err
	}
	if st == nil || st.UID != user.UID {
		st = newState(user.UID)
	}
	return ctx, id, st, nil
}

func (p *Pages) saveState(ctx context.Context, id string, st *State) {
	if err := p.states.Save(ctx, id, st); err != nil {
		log.LoggerFromContext(ctx).Error("error while saving page state", slog.String(ErrorMsgLogField, err.Error()))
	}
}

func credentialsForm(r *http.Request) contract.CredentialsForm {
	return contract.CredentialsForm{
		Email:    r.PostFormValue(contract.FormEmail),
		Password: r.PostFormValue(contract.FormPassword),
	}
}

func contactForm(r *http.Request) contract.ContactForm {
	return contract.ContactForm{
		Name:        r.PostFormValue(contract.FormName),
		PhoneNumber: r.PostFormValue(contract.FormPhoneNumber),
		Email:       r.PostFormValue(contract.FormEmail),
	}
}
