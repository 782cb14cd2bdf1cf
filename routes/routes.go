package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/bookshelf-api/app"
	"github.com/upb/bookshelf-api/handlers"
	"github.com/upb/bookshelf-api/tokenauth"
)

var defaultAllowedOrigins = []string{"http://localhost:*"}

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	origins := defaultAllowedOrigins
	if deps.Config != nil && len(deps.Config.Server.CORSAllowedOrigins) > 0 {
		origins = deps.Config.Server.CORSAllowedOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Location", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(sqlDB(deps), keyProvider(deps), deps.Logger)
	r.Get("/", health.HandleRoot)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	// API v1 routes, all authenticated
	r.Route("/api/v1", func(r chi.Router) {
		if deps.AuthMiddleware != nil {
			r.Use(deps.AuthMiddleware.RequireAuth)
		}

		r.Get("/me", handlers.HandleMe)

		if deps.BookService != nil {
			books := handlers.NewBookHandler(deps.BookService, deps.Logger)
			r.Route("/books", func(r chi.Router) {
				r.Get("/", books.HandleListBooks)
				r.Post("/", books.HandleCreateBook)
				r.Get("/{id}", books.HandleGetBook)
				r.Put("/{id}", books.HandleUpdateBook)
				r.Delete("/{id}", books.HandleDeleteBook)
			})
		}
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return r
}

// sqlDB and keyProvider keep nil dependencies out of non-nil interfaces

func sqlDB(deps *app.Dependencies) *sql.DB {
	if deps.DB == nil {
		return nil
	}
	return deps.DB.DB
}

func keyProvider(deps *app.Dependencies) tokenauth.KeyProvider {
	if deps.KeyCache == nil {
		return nil
	}
	return deps.KeyCache
}
