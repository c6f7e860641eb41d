package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"naimuDriver/internal/app"
	"naimuDriver/internal/config"
	"naimuDriver/internal/offerlog"
	"naimuDriver/internal/presenter"
)

type application struct {
	infoLog  *log.Logger
	errorLog *log.Logger
	offers   *presenter.Adapter
}

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	infoLog := log.New(os.Stdout, "INFO\t", log.Ldate|log.Ltime)
	errorLog := log.New(os.Stderr, "ERROR\t", log.Ldate|log.Ltime|log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		errorLog.Fatal(err)
	}

	addr := flag.String("addr", fmt.Sprintf(":%d", cfg.Server.Port), "HTTP network address")
	flag.Parse()

	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = offerlog.Open(cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			errorLog.Fatal(err)
		}
		defer db.Close()
		infoLog.Printf("Offer history stored in %s", cfg.Database.Driver)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			errorLog.Fatalf("redis ping: %v", err)
		}
		defer rdb.Close()
	}

	deps := &app.Deps{
		DB:         db,
		DBDriver:   cfg.Database.Driver,
		RDB:        rdb,
		Logger:     appLogger{infoLog: infoLog, errorLog: errorLog},
		Config:     cfg,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}

	offers, err := app.Presenter(deps)
	if err != nil {
		errorLog.Fatal(err)
	}
	driverApp := &application{infoLog: infoLog, errorLog: errorLog, offers: offers}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx, deps); err != nil {
		errorLog.Fatal(err)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
	})

	srv := &http.Server{
		Addr:         *addr,
		ErrorLog:     errorLog,
		Handler:      c.Handler(driverApp.routes()),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	go func() {
		infoLog.Printf("Starting server on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Fatal(err)
		}
	}()

	<-ctx.Done()
	infoLog.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errorLog.Printf("http shutdown: %v", err)
	}
	if err := app.Shutdown(shutdownCtx, deps); err != nil {
		errorLog.Printf("driver shutdown: %v", err)
	}
}
