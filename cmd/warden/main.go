package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/sbtc-gateway/warden/adapters/email"
	"github.com/sbtc-gateway/warden/adapters/events"
	"github.com/sbtc-gateway/warden/adapters/store"
	"github.com/sbtc-gateway/warden/adapters/tokenizer"
	"github.com/sbtc-gateway/warden/adapters/wallet"
	"github.com/sbtc-gateway/warden/config"
	"github.com/sbtc-gateway/warden/logging"
	"github.com/sbtc-gateway/warden/ports"
	"github.com/sbtc-gateway/warden/service"
	"github.com/sbtc-gateway/warden/transport/http"
)

func main() {
	logger := logging.NewLoggerWithService("warden")
	config.LoadEnv(logger)
	logger.SetLevel(config.GetLogLevel())

	signKey, err := loadSigningKey(config.GetEnv("JWT_SIGNING_KEY_FILE", ""))
	if err != nil {
		logger.WithError(err).Fatal("Failed to load signing key")
	}

	var merchants ports.MerchantStore
	var keys ports.APIKeyStore
	if dsn := config.GetEnv("DATABASE_URL", ""); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open database")
		}
		if err := db.Ping(); err != nil {
			logger.WithError(err).Fatal("Failed to reach database")
		}
		merchants = store.NewPostgresMerchantStore(db)
		keys = store.NewPostgresAPIKeyStore(db)
		logger.Info("Using postgres merchant and API key stores")
	} else {
		merchants = store.NewMemoryMerchantStore()
		keys = store.NewMemoryAPIKeyStore()
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	var sessions ports.SessionStore
	var links ports.LinkStore
	var eventPub ports.EventPublisher = events.NopPublisher{}
	if redisURL := config.GetEnv("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to parse Redis URL")
		}
		redisClient := redis.NewClient(opts)
		sessions = store.NewRedisSessionStore(redisClient)
		links = store.NewRedisLinkStore(redisClient)

		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Redis publisher")
		}
		eventPub = events.NewWatermillPublisher(publisher)
		logger.Info("Using redis session and link stores")
	} else {
		sessions = store.NewMemorySessionStore()
		links = store.NewMemoryLinkStore()
		logger.Warn("REDIS_URL not set, using in-memory session store and discarding events")
	}

	var sender ports.EmailSender = email.NopSender{}
	if host := config.GetEnv("SMTP_HOST", ""); host != "" {
		sender = email.NewSMTPSender(email.Config{
			Host:     host,
			Port:     config.GetEnvInt("SMTP_PORT", 587),
			User:     config.GetEnv("SMTP_USER", ""),
			Password: config.GetEnv("SMTP_PASSWORD", ""),
			From:     config.GetEnv("SMTP_FROM", "no-reply@sbtc-gateway.local"),
			FromName: config.GetEnv("SMTP_FROM_NAME", "sBTC Gateway"),
			BaseURL:  config.GetEnv("DASHBOARD_BASE_URL", "http://localhost:3000"),
		})
	}

	jwtTokenizer := tokenizer.NewJWTTokenizer(signKey)
	verifier := wallet.NewVerifier()

	linkingService := service.NewLinkingService(merchants, links, sender, eventPub, logger)
	authService := service.NewAuthService(merchants, sessions, jwtTokenizer, verifier, linkingService, sender, eventPub, logger)
	keyService := service.NewAPIKeyService(keys, eventPub, logger)
	challenges := service.NewChallengeIssuer(jwtTokenizer)

	router := http.SetupRouter(authService, challenges, keyService, linkingService, logger)

	addr := ":" + config.GetEnv("PORT", "9000")
	logger.WithField("addr", addr).Info("Starting warden")
	if err := router.Run(addr); err != nil {
		logger.WithError(err).Fatal("Server exited")
	}
}

// loadSigningKey reads a PEM-encoded ECDSA private key, generating an
// ephemeral one when no file is configured. Ephemeral keys invalidate
// all outstanding tokens on restart, which is fine for development.
func loadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	return x509.ParseECPrivateKey(block.Bytes)
}
