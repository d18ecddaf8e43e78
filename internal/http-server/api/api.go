package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"SportRelay/internal/config"
	"SportRelay/internal/http-server/handlers/errors"
	"SportRelay/internal/http-server/handlers/webhook"
	"SportRelay/internal/http-server/handlers/worker"
	"SportRelay/internal/http-server/middleware/timeout"
	"SportRelay/internal/lib/api/response"
	"SportRelay/internal/lib/sl"
	"SportRelay/internal/ws"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

// New builds the router and serves it, blocking until the listener stops.
// Delivery of a large submission holds the webhook request open across the
// inter-chunk pauses, hence the generous timeout.
func New(conf *config.Config, log *slog.Logger,
	engine webhook.Engine, ledger webhook.Ledger, notifier webhook.Notifier,
	pipeline worker.Core, hub *ws.Hub) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(timeout.Timeout(60))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Post("/webhook", webhook.Handler(log, ledger, engine, notifier, conf.Telegram.WebhookSecret))

	router.Route("/api/v1", func(v1 chi.Router) {
		v1.Route("/worker", func(r chi.Router) {
			r.Post("/sweep", worker.Sweep(log, pipeline))
		})
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, response.Ok("alive"))
	})

	if hub != nil {
		router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			ws.ServeWs(hub, log, w, r)
		})
	}

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:  router,
		ErrorLog: httpLog,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIP, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
