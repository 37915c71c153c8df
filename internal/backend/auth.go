package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bidmarket/internal/apperr"
	"bidmarket/internal/models"
)

type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
)

type AuthListener func(event AuthEvent, sess *models.Session)

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	User         authUser `json:"user"`
}

type authUser struct {
	ID           models.ID      `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// AuthSession holds one browser's auth state against the hosted auth provider and
// notifies listeners on sign-in, token refresh and sign-out.
type AuthSession struct {
	c   *Client
	now func() time.Time

	mu        sync.Mutex
	current   *models.Session
	listeners map[int]AuthListener
	nextID    int
}

func (c *Client) NewAuthSession() *AuthSession {
	return &AuthSession{c: c, now: time.Now, listeners: map[int]AuthListener{}}
}

// Restore seeds a previously persisted session without emitting an event.
func (a *AuthSession) Restore(s *models.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = cloneSession(s)
}

// CurrentSession returns the live session, refreshing it if the access token expired.
// A nil session with nil error means nobody is signed in.
func (a *AuthSession) CurrentSession(ctx context.Context) (*models.Session, error) {
	a.mu.Lock()
	cur := cloneSession(a.current)
	a.mu.Unlock()
	if cur == nil {
		return nil, nil
	}
	if !cur.Expired(a.now()) {
		return cur, nil
	}
	if cur.RefreshToken == "" {
		a.clear()
		return nil, nil
	}
	return a.Refresh(ctx)
}

func (a *AuthSession) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperr.Validation("credentials_required", "email and password required")
	}
	q := url.Values{"grant_type": {"password"}}
	var tr tokenResponse
	err := a.c.do(ctx, request{op: "sign_in", method: http.MethodPost, path: "/auth/v1/token", query: q,
		body: map[string]string{"email": email, "password": password}}, &tr)
	if err != nil {
		return nil, err
	}
	s := a.sessionFrom(tr)
	a.set(s, EventSignedIn)
	return cloneSession(s), nil
}

// SignUp registers the user with the chosen role in metadata and creates the profile row.
// Providers that require email confirmation return no session; that is not an error.
func (a *AuthSession) SignUp(ctx context.Context, email, password string, role models.Role) (*models.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperr.Validation("credentials_required", "email and password required")
	}
	if !role.Valid() {
		return nil, apperr.Validation("invalid_role", "role must be client or marketer")
	}
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"role": string(role)},
	}
	var tr tokenResponse
	if err := a.c.do(ctx, request{op: "sign_up", method: http.MethodPost, path: "/auth/v1/signup", body: body}, &tr); err != nil {
		return nil, err
	}
	userID := tr.User.ID
	if userID.IsZero() {
		var u authUser
		if err := a.c.do(ctx, request{op: "sign_up_user", method: http.MethodGet, path: "/auth/v1/user", token: tr.AccessToken}, &u); err == nil {
			userID = u.ID
		}
	}
	if !userID.IsZero() {
		if err := a.c.Store(tr.AccessToken).InsertProfile(ctx, models.Profile{ID: userID, Role: role}); err != nil {
			return nil, apperr.New(apperr.KindTransient, "profile_create_failed", "account created but profile could not be saved", err)
		}
	}
	if tr.AccessToken == "" {
		return nil, nil
	}
	s := a.sessionFrom(tr)
	if s.Role == models.RoleNone {
		s.Role = role
	}
	a.set(s, EventSignedIn)
	return cloneSession(s), nil
}

func (a *AuthSession) Refresh(ctx context.Context) (*models.Session, error) {
	a.mu.Lock()
	cur := cloneSession(a.current)
	a.mu.Unlock()
	if cur == nil || cur.RefreshToken == "" {
		return nil, apperr.Unauthenticated("no session to refresh")
	}
	q := url.Values{"grant_type": {"refresh_token"}}
	var tr tokenResponse
	err := a.c.do(ctx, request{op: "refresh", method: http.MethodPost, path: "/auth/v1/token", query: q,
		body: map[string]string{"refresh_token": cur.RefreshToken}}, &tr)
	if err != nil {
		if apperr.IsKind(err, apperr.KindUnauthenticated) || apperr.IsKind(err, apperr.KindValidation) {
			a.clear()
		}
		return nil, err
	}
	s := a.sessionFrom(tr)
	if s.Role == models.RoleNone {
		s.Role = cur.Role
	}
	a.set(s, EventTokenRefreshed)
	return cloneSession(s), nil
}

// SignOut always clears local state; a failed remote logout is returned for logging only.
func (a *AuthSession) SignOut(ctx context.Context) error {
	a.mu.Lock()
	cur := cloneSession(a.current)
	a.mu.Unlock()
	var err error
	if cur != nil && cur.AccessToken != "" {
		err = a.c.do(ctx, request{op: "sign_out", method: http.MethodPost, path: "/auth/v1/logout", token: cur.AccessToken}, nil)
	}
	a.clear()
	return err
}

// OnAuthStateChange registers fn and returns its unsubscribe func.
func (a *AuthSession) OnAuthStateChange(fn AuthListener) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *AuthSession) sessionFrom(tr tokenResponse) *models.Session {
	s := &models.Session{
		UserID:       tr.User.ID,
		Email:        tr.User.Email,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	if r, ok := tr.User.UserMetadata["role"].(string); ok {
		s.Role = models.ParseRole(r)
	}
	switch {
	case tr.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		s.ExpiresAt = a.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return s
}

func (a *AuthSession) set(s *models.Session, ev AuthEvent) {
	a.mu.Lock()
	a.current = cloneSession(s)
	ls := a.snapshotListeners()
	a.mu.Unlock()
	for _, fn := range ls {
		fn(ev, cloneSession(s))
	}
}

func (a *AuthSession) clear() {
	a.mu.Lock()
	had := a.current != nil
	a.current = nil
	ls := a.snapshotListeners()
	a.mu.Unlock()
	if !had {
		return
	}
	for _, fn := range ls {
		fn(EventSignedOut, nil)
	}
}

func (a *AuthSession) snapshotListeners() []AuthListener {
	out := make([]AuthListener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		out = append(out, fn)
	}
	return out
}

func cloneSession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
