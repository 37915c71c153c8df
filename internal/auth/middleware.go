package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"bidmarket/internal/app"
	"bidmarket/internal/apperr"
	"bidmarket/internal/shell"
)

const (
	SessionCookie = "bm_session"
	DeviceCookie  = "bm_device"

	deviceCookieTTL = 365 * 24 * time.Hour
)

// Environment binds every request to a browser environment, creating one (and its
// cookies) when the request carries no valid token or the environment was evicted.
func Environment(reg *app.Registry, signer *Signer, secure bool, lg *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID := ""
			if c, err := r.Cookie(DeviceCookie); err == nil {
				deviceID = c.Value
			}
			if raw := tokenFrom(r); raw != "" {
				claims, err := signer.Verify(raw)
				if err == nil {
					if env, ok := reg.Get(claims.EnvID); ok {
						next.ServeHTTP(w, r.WithContext(WithEnv(r.Context(), env)))
						return
					}
					if deviceID == "" {
						deviceID = claims.DeviceID
					}
				}
			}

			env := reg.Create(r.Context(), deviceID)
			tok, err := signer.Sign(env.ID, env.DeviceID)
			if err != nil {
				lg.Errorw("sign session token failed", "error", err)
				deny(w, apperr.New(apperr.KindInternal, "token_error", "token error", err))
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name: SessionCookie, Value: tok, Path: "/", HttpOnly: true, Secure: secure,
				SameSite: http.SameSiteLaxMode, MaxAge: int(signer.TTL().Seconds()),
			})
			http.SetCookie(w, &http.Cookie{
				Name: DeviceCookie, Value: env.DeviceID, Path: "/", HttpOnly: true, Secure: secure,
				SameSite: http.SameSiteLaxMode, MaxAge: int(deviceCookieTTL.Seconds()),
			})
			w.Header().Set("X-Session-Token", tok)
			next.ServeHTTP(w, r.WithContext(WithEnv(r.Context(), env)))
		})
	}
}

func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// RequireSignedIn rejects requests whose environment has no resolved session.
func RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env := EnvFromContext(r.Context())
		if env == nil {
			deny(w, apperr.Unauthenticated("no session"))
			return
		}
		st, err := env.State(r.Context())
		if err != nil {
			deny(w, err)
			return
		}
		if !st.Authenticated() {
			deny(w, apperr.Unauthenticated("sign in required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAPI lets a request through only if the resolved role may call the path.
func RequireAPI(sh *shell.Shell) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			env := EnvFromContext(r.Context())
			if env == nil {
				deny(w, apperr.Unauthenticated("no session"))
				return
			}
			st, err := env.State(r.Context())
			if err != nil {
				deny(w, err)
				return
			}
			switch {
			case !st.Authenticated():
				deny(w, apperr.Unauthenticated("sign in required"))
			case !st.Role.Valid():
				deny(w, apperr.New(apperr.KindForbidden, "role_not_found", "role not found", nil))
			case !sh.AllowAPI(st.Role, r.URL.Path):
				deny(w, apperr.Forbidden("not available for role "+string(st.Role)))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func deny(w http.ResponseWriter, err error) {
	ae := apperr.As(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.Status(ae.Kind))
	_ = json.NewEncoder(w).Encode(ae)
}
