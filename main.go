package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mentorly/booking"
	"mentorly/config"
	"mentorly/db"
	"mentorly/globals"
	"mentorly/live"
	"mentorly/middleware"
	"mentorly/notify"
	"mentorly/ratelim"
	"mentorly/rdx"
	"mentorly/receipts"
	"mentorly/routes"
	"mentorly/stripe"

	"github.com/robfig/cron/v3"
	"github.com/rs/cors"
)

// securityHeaders applies a set of recommended HTTP security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// XSS, content sniffing, framing
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		// HSTS (must be on HTTPS)
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		// Referrer and permissions
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		// Prevent caching
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request method, path, remote address, and duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s from %s – %v", r.Method, r.RequestURI, r.RemoteAddr, time.Since(start))
	})
}

func main() {
	cfg := config.Load()
	if cfg.JWTSecret != "" {
		globals.JwtSecret = []byte(cfg.JWTSecret)
	} else {
		log.Println("⚠️  JWT_SECRET not set; using the development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Connect(ctx, cfg.MongoURI, cfg.MongoDB); err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := db.EnsureIndexes(ctx); err != nil {
		log.Printf("⚠️  %v", err)
	}

	if cfg.RedisAddr != "" {
		if err := rdx.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword); err != nil {
			log.Printf("⚠️  %v; running without locks or pub/sub", err)
		}
	}

	hub := live.NewHub()
	go hub.Run()

	notifier := notify.NewService(db.NotificationsCollection, rdx.Conn, hub)
	go notifier.Relay(ctx)

	var mailer booking.Mailer = notify.LogMailer{}
	if cfg.SMTPHost != "" {
		mailer = &notify.SMTPMailer{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
		}
	}

	var gateway booking.PaymentGateway
	if cfg.StripeKey != "" {
		gateway = stripe.NewGateway(cfg.StripeKey)
	} else {
		log.Println("⚠️  STRIPE_SECRET_KEY not set; payments and refunds will fail")
	}

	var locker booking.Locker
	if rdx.Conn != nil {
		locker = rdx.NewLocker(rdx.Conn)
	}

	svc := booking.NewService(booking.Deps{
		Store:     db.NewStore(),
		Directory: db.NewDirectory(),
		Gateway:   gateway,
		Notifier:  notifier,
		Mailer:    mailer,
		Locker:    locker,
	}, booking.Config{
		Currency:       cfg.Currency,
		LockTTL:        cfg.LockTTL,
		GatewayTimeout: cfg.PaymentTimeout,
	})

	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := sched.AddFunc(cfg.CompletionCron, func() {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		n, err := svc.SweepCompletions(sctx)
		if err != nil {
			log.Printf("[cron] completion sweep: %v", err)
		}
		if n > 0 {
			log.Printf("[cron] completed %d collaborations", n)
		}
	}); err != nil {
		log.Fatalf("❌ bad COMPLETION_CRON %q: %v", cfg.CompletionCron, err)
	}
	sched.Start()

	router := routes.New(routes.Deps{
		Booking:     booking.NewHandlers(svc, receipts.New([]byte(cfg.ReceiptSecret))),
		Hub:         hub,
		RateLimiter: ratelim.NewRateLimiter(cfg.RatePerMinute, 10),
		Idempotency: &middleware.MongoIdempotencyStore{Coll: db.IdempotencyCollection},
	})

	// apply middleware: CORS → security headers → logging → router
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key"},
		AllowCredentials: true,
	}).Handler(router)

	handler := loggingMiddleware(securityHeaders(corsHandler))

	server := &http.Server{
		Addr:              cfg.Port,
		Handler:           handler,
		ReadTimeout:       7 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	server.RegisterOnShutdown(func() {
		log.Println("🛑 Shutting down notification hub...")
		hub.Stop()
	})

	go func() {
		log.Printf("🚀 Server listening on %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ ListenAndServe error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutdown signal received; shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Graceful shutdown failed: %v", err)
	}
	<-sched.Stop().Done()
	rdx.Close()
	db.Disconnect(shutdownCtx)

	log.Println("✅ Server stopped cleanly")
}
