package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studynotes-server/collab"
	"studynotes-server/core"
	"studynotes-server/handlers/api/documents"
	"studynotes-server/handlers/api/rooms"
	"studynotes-server/handlers/api/snapshots"
	"studynotes-server/handlers/websocket"
	"studynotes-server/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const shutdownTimeout = 30 * time.Second

func setupRouter(engine *collab.Engine, documentStore core.DocumentStore) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowedOrigins: []string{"tauri://localhost"},
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}

			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}

			switch parsed.Scheme {
			case "http", "https":
				switch parsed.Hostname() {
				case "localhost", "127.0.0.1", "[::1]":
					return true
				}
			case "tauri":
				return parsed.Hostname() == "localhost"
			}

			return false
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	r.Use(cors.Handler(corsOptions))

	var roomIndex core.RoomIndex
	if index, ok := documentStore.(core.RoomIndex); ok {
		roomIndex = index
	}
	r.Get("/api/rooms", rooms.HandleList(engine, roomIndex))

	r.Route("/api/rooms/{roomId}", func(r chi.Router) {
		r.Get("/document", documents.HandleGet(engine))
		r.Get("/export", documents.HandleExport(engine))
		r.Post("/save", documents.HandleSave(engine))
	})

	if snapshotStore, ok := documentStore.(core.SnapshotStore); ok {
		r.Route("/api/rooms/{roomId}/snapshots", func(r chi.Router) {
			r.Post("/", snapshots.HandleCreateSnapshot(snapshotStore, engine))
			r.Get("/", snapshots.HandleListSnapshots(snapshotStore))
			r.Get("/count", snapshots.HandleGetSnapshotCount(snapshotStore))
		})

		r.Route("/api/snapshots/{snapshotId}", func(r chi.Router) {
			r.Get("/", snapshots.HandleGetSnapshot(snapshotStore))
			r.Delete("/", snapshots.HandleDeleteSnapshot(snapshotStore))
			r.Post("/restore", snapshots.HandleRestoreSnapshot(snapshotStore, engine))
		})

		logrus.Info("Snapshot API routes registered")
	} else {
		logrus.Warn("Snapshot API not available - requires memory or sqlite storage")
	}

	return r
}

func waitForShutdown(srv *http.Server, ioo *socketio.Server, engine *collab.Engine) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop taking edits first so the flush below sees the final content.
	ioo.Close(nil)
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	if err := engine.Close(ctx); err != nil {
		logrus.WithError(err).Error("Some rooms could not be saved before exit")
		os.Exit(1)
	}
	logrus.Info("All rooms saved")
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file loaded")
	}

	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	quietPeriod := flag.Duration("quiet-period", collab.DefaultConfig().QuietPeriod, "Idle time after the last edit before a room is saved")
	maxBackoff := flag.Duration("max-backoff", collab.DefaultConfig().MaxBackoff, "Upper bound of the retry delay after failed saves")
	saveTimeout := flag.Duration("save-timeout", 0, "Abort a storage write after this long (0 disables)")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	documentStore := stores.GetStore(context.Background())
	registry := collab.NewRegistry(documentStore, collab.Config{
		QuietPeriod: *quietPeriod,
		MaxBackoff:  *maxBackoff,
		SaveTimeout: *saveTimeout,
	})
	engine := collab.NewEngine(registry)

	r := setupRouter(engine, documentStore)
	ioo := websocket.SetupSocketIO(engine)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	srv := &http.Server{Addr: *listenAddr, Handler: r}
	logrus.WithFields(logrus.Fields{
		"addr":         *listenAddr,
		"quiet_period": quietPeriod.String(),
	}).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(srv, ioo, engine)
}
