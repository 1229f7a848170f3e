package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/otp-auth-service/internal/config"
	"github.com/otp-auth-service/internal/infrastructure/dynamo"
	jwtinfra "github.com/otp-auth-service/internal/infrastructure/jwt"
	redisinfra "github.com/otp-auth-service/internal/infrastructure/redis"
	"github.com/otp-auth-service/internal/infrastructure/smtp"
	"github.com/otp-auth-service/internal/infrastructure/sns"
	"github.com/otp-auth-service/internal/kv"
	transporthttp "github.com/otp-auth-service/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	var store kv.Store
	switch cfg.KVBackend {
	case "redis":
		client, err := redisinfra.NewClient(cfg)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		store = redisinfra.NewKV(client)
	default:
		dynamoClient := dynamo.NewClient(cfg)
		dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTable)
		store = dynamo.NewKV(dynamoClient, cfg.DynamoTable)
	}

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatalf("JWT provider: %v", err)
	}

	mailer := smtp.NewMailer(cfg)

	// Event fan-out is optional; the service runs fine without a topic.
	var notifier sns.Notifier
	if cfg.SNSTopicARN != "" {
		n, err := sns.NewNotifier(cfg)
		if err != nil {
			log.Printf("WARN: SNS notifier not available: %v", err)
		} else {
			notifier = n
		}
	}

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		Store:       store,
		Mailer:      mailer,
		Notifier:    notifier,
		JWTProvider: jwtProvider,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s, kv=%s)", cfg.AppPort, cfg.AppEnv, cfg.KVBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
