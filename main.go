package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "config file path (YAML, optional)")
	listenAddr = flag.String("listen", "", "HTTP listen address (overrides config)")

	logLevels = map[string]logrus.Level{
		"trace": logrus.TraceLevel,
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
	}
	logLevel = flag.String("log.level", "info", "log level (trace debug info warn error)")

	log = logrus.WithField("module", "main")
)

func main() {
	flag.Parse()
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	if level, ok := logLevels[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		log.Panicf("log.level must be one of %v", logLevels)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Panicf("config load: %v", err)
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if port := os.Getenv("PORT"); port != "" && *listenAddr == "" {
		cfg.Listen = ":" + port
	}

	reg := NewRegistry(cfg.MaxIntersections)
	rules := NewRuleTable()
	hub := NewHub()
	engine := NewEngine(cfg, reg, rules, hub)
	hub.BindEngine(engine)
	server := NewServer(cfg, engine, reg, rules)
	reaper := NewReaper(engine,
		time.Duration(cfg.SweepIntervalS*float64(time.Second)),
		time.Duration(cfg.StaleAfterS*float64(time.Second)))

	router := server.Routes(hub)
	h := handlers.RecoveryHandler(handlers.RecoveryLogger(log))(router)
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.LoggingHandler(os.Stdout, h)

	httpServer := &http.Server{Addr: cfg.Listen, Handler: h}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infof("listening on %s", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return reaper.Run(ctx)
	})

	if cfg.MQTT.Broker != "" {
		client, err := setupMQTT(cfg.MQTT, engine)
		if err != nil {
			log.Panicf("mqtt connect: %v", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			client.Disconnect(250)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
	log.Info("stopped")
}
