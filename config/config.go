// Package config reads process settings from the environment and an optional .env file.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	MongoURI       string
	MongoDB        string
	RedisAddr      string
	RedisPassword  string
	JWTSecret      string
	StripeKey      string
	Currency       string
	SMTPHost       string
	SMTPPort       string
	SMTPUser       string
	SMTPPass       string
	SMTPFrom       string
	CompletionCron string
	PaymentTimeout time.Duration
	LockTTL        time.Duration
	AllowedOrigins []string
	ReceiptSecret  string
	RatePerMinute  int
}

func getEnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("config: %s=%q is not a duration, using %s", key, v, def)
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Load reads .env if present and then the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found; using system environment")
	}

	port := getEnvOrDefault("PORT", ":8080")
	if port[0] != ':' {
		port = ":" + port
	}
	jwtSecret := getEnvOrDefault("JWT_SECRET", "")
	return Config{
		Port:           port,
		MongoURI:       getEnvOrDefault("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:        getEnvOrDefault("MONGO_DB", "mentorly"),
		RedisAddr:      getEnvOrDefault("REDIS_ADDR", ""),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		JWTSecret:      jwtSecret,
		StripeKey:      os.Getenv("STRIPE_SECRET_KEY"),
		Currency:       strings.ToLower(getEnvOrDefault("CURRENCY", "usd")),
		SMTPHost:       os.Getenv("SMTP_HOST"),
		SMTPPort:       getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:       os.Getenv("SMTP_USER"),
		SMTPPass:       os.Getenv("SMTP_PASS"),
		SMTPFrom:       os.Getenv("SMTP_FROM"),
		CompletionCron: getEnvOrDefault("COMPLETION_CRON", "*/15 * * * *"),
		PaymentTimeout: getEnvDuration("PAYMENT_TIMEOUT", 30*time.Second),
		LockTTL:        getEnvDuration("LOCK_TTL", 15*time.Second),
		AllowedOrigins: splitList(getEnvOrDefault("ALLOWED_ORIGINS", "*")),
		ReceiptSecret:  getEnvOrDefault("RECEIPT_SECRET", jwtSecret),
		RatePerMinute:  getEnvInt("RATE_PER_MINUTE", 60),
	}
}
