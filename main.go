package main

import (
	"context"
	"flag"
	"log/slog"

	"SportRelay/bot/delivery"
	"SportRelay/bot/dialog"
	"SportRelay/bot/gateway"
	"SportRelay/internal/config"
	"SportRelay/internal/database"
	"SportRelay/internal/http-server/api"
	"SportRelay/internal/lib/logger"
	"SportRelay/internal/lib/sl"
	"SportRelay/internal/ws"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, *logPath)

	gw, err := gateway.New(conf.Telegram.ApiKey, conf.Telegram.AdminId, conf.Telegram.RatePerSec, lg)
	if err != nil {
		lg.Error("telegram gateway", sl.Err(err))
		return
	}

	// Mirror error-level records into the admin chat
	if conf.Telegram.AdminId != 0 {
		lg = logger.SetupTelegramHandler(lg, gw, slog.LevelError)
	}

	lg.Info("starting sportrelay",
		slog.String("config", *configPath),
		slog.String("env", conf.Env),
		slog.Int64("target_chat", conf.Telegram.TargetChatId),
	)
	lg.Debug("debug messages enabled")

	db, err := repository.NewMongoClient(conf, lg)
	if err != nil {
		lg.Error("mongo client", sl.Err(err))
		return
	}
	if err := db.EnsureIndexes(context.Background()); err != nil {
		lg.Warn("ensuring indexes", sl.Err(err))
	}
	lg.With(
		slog.String("host", conf.Mongo.Host),
		slog.String("port", conf.Mongo.Port),
		slog.String("database", conf.Mongo.Database),
	).Info("mongo client initialized")

	hub := ws.NewHub(lg)
	go hub.Run()

	pipeline := delivery.NewPipeline(db, gw, conf.Telegram.TargetChatId,
		conf.Worker.BatchSize, conf.Worker.MaxAttempts, lg)
	pipeline.SetMonitor(hub)

	engine := dialog.NewEngine(db, gw, lg)
	engine.SetDeliverer(pipeline)
	engine.SetMonitor(hub)

	// *** blocking start with http server ***
	err = api.New(conf, lg, engine, db, gw, pipeline, hub)
	if err != nil {
		lg.Error("server start", sl.Err(err))
		return
	}
	lg.Error("service stopped")
}
