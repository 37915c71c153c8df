package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bidmarket/internal/activity"
	"bidmarket/internal/app"
	"bidmarket/internal/auth"
	"bidmarket/internal/httpserver/handlers"
	"bidmarket/internal/shell"
)

type Options struct {
	CORSOrigins   []string
	SecureCookies bool
}

func NewRouter(reg *app.Registry, sh *shell.Shell, signer *auth.Signer, rec activity.Recorder, o Options, lg *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   o.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Session-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())

	withEnv := auth.Environment(reg, signer, o.SecureCookies, lg)
	page := handlers.Page(sh, lg)
	r.NotFound(withEnv(page).ServeHTTP)

	r.Group(func(env chi.Router) {
		env.Use(withEnv)
		env.Post("/v1/auth/signup", handlers.SignUp(lg))
		env.Post("/v1/auth/signin", handlers.SignIn(lg))
		env.Post("/v1/auth/signout", handlers.SignOut(lg))
		env.Post("/v1/auth/refresh", handlers.Refresh(lg))
		env.Get("/v1/session", handlers.Session(lg))
		env.Get("/v1/nav", handlers.Nav(lg))

		env.Get("/", page)
		for _, rt := range shell.Routes {
			env.Get(rt.Path, page)
		}

		env.Group(func(signed chi.Router) {
			signed.Use(auth.RequireSignedIn)
			signed.Get("/v1/activity", handlers.MyActivity(rec, lg))
		})

		env.Group(func(api chi.Router) {
			api.Use(auth.RequireAPI(sh))
			api.Get("/v1/wizard", handlers.WizardState(lg))
			api.Get("/v1/wizard/catalog", handlers.WizardCatalog())
			api.Patch("/v1/wizard", handlers.WizardPatch(lg))
			api.Post("/v1/wizard/next", handlers.WizardNext(lg))
			api.Post("/v1/wizard/back", handlers.WizardBack(lg))
			api.Post("/v1/wizard/submit", handlers.WizardSubmit(lg))
			api.Get("/v1/projects", handlers.ListProjects(lg))
			api.Get("/v1/projects/{id}/proposals", handlers.ProjectProposals(lg))
			api.Post("/v1/proposals/{id}/accept", handlers.AcceptProposal(lg))

			api.Get("/v1/feed", handlers.Feed(lg))
			api.Post("/v1/feed/{id}/claim", handlers.ClaimBid(lg))
			api.Post("/v1/feed/{id}/proposals", handlers.SubmitProposal(lg))
			api.Patch("/v1/profile", handlers.UpdateProfile(lg))
		})
	})
	return r
}
