package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DrPeryCox/pres-gen-new/internal/httpapi/handlers"
	"github.com/DrPeryCox/pres-gen-new/internal/httpkit"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/middleware"
)

type Deps struct {
	Handlers       handlers.Deps
	CORSOrigins    []string
	RequestTimeout time.Duration
	Log            *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Location", "Content-Disposition", middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(d.Handlers)
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	// ---- HEALTH ----
	r.Get("/health", wrap(h.Health))

	// ---- PRESENTATIONS ----
	r.With(middleware.Timeout(requestTimeout(d.RequestTimeout))).
		Post("/presentations", wrap(h.PostPresentation))

	// ---- VIDEOS ----
	r.Post("/videos", wrap(h.PostVideo))
	r.Get("/videos", wrap(h.ListVideos))
	r.Get("/videos/{jobId}", wrap(h.GetVideo))
	r.Get("/videos/{jobId}/download", wrap(h.DownloadVideo))
	r.Delete("/videos/{jobId}", wrap(h.DeleteVideo))

	return r
}

func requestTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 2 * time.Minute
	}
	return d
}
