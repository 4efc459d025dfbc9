package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/broadcast/internal/api"
	"github.com/ignite/broadcast/internal/config"
	"github.com/ignite/broadcast/internal/content"
	"github.com/ignite/broadcast/internal/pkg/distlock"
	"github.com/ignite/broadcast/internal/pkg/httpretry"
	"github.com/ignite/broadcast/internal/pkg/logger"
	"github.com/ignite/broadcast/internal/ratelimit"
	"github.com/ignite/broadcast/internal/repository/memory"
	"github.com/ignite/broadcast/internal/repository/postgres"
	"github.com/ignite/broadcast/internal/scheduler"
	"github.com/ignite/broadcast/internal/service/campaign"
	"github.com/ignite/broadcast/internal/service/contact"
	"github.com/ignite/broadcast/internal/service/sending"
	"github.com/ignite/broadcast/internal/service/suppression"
	"github.com/ignite/broadcast/internal/ses"
	"github.com/ignite/broadcast/internal/tracking"
)

// stores groups the repositories behind each service. Postgres when a
// database is configured, otherwise one shared in-memory store.
type stores struct {
	campaigns campaign.Repository
	contacts  contact.Repository
	sends     sending.Store
	feedback  interface {
		suppression.Repository
		suppression.EventRecorder
	}
	due scheduler.Store
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database (optional)
	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = openDB(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Database connection failed: %v", err)
		}
		defer db.Close()
		log.Println("PostgreSQL connected")
	} else {
		log.Println("DATABASE_URL not set, using in-memory store (data is lost on restart)")
	}
	st := newStores(db)

	// Redis (optional): shared limiter and cross-replica locks
	redisClient := connectRedis(ctx, cfg.Redis.URL)
	if redisClient != nil {
		defer redisClient.Close()
	}
	locks := distlock.NewFactory(redisClient, db, cfg.Sending.LockTTL())

	var limiter sending.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisWindow(redisClient, "ses", cfg.Sending.RatePerWindow, cfg.Sending.Window(), ratelimit.SystemClock{})
		log.Printf("Rate limiter: %d per %s shared via Redis", cfg.Sending.RatePerWindow, cfg.Sending.Window())
	} else {
		limiter = ratelimit.NewSlidingWindow(cfg.Sending.RatePerWindow, cfg.Sending.Window(), ratelimit.SystemClock{})
		log.Printf("Rate limiter: %d per %s (process-local)", cfg.Sending.RatePerWindow, cfg.Sending.Window())
	}

	// Delivery
	sender, err := ses.NewSender(ctx, cfg.SES)
	if err != nil {
		log.Fatalf("Failed to create SES client: %v", err)
	}
	checkQuota(ctx, sender, cfg.Sending)

	tokens := content.Tokens{Secret: cfg.Tracking.Secret}
	orch := sending.NewOrchestrator(st.sends, sender, limiter,
		content.NewProcessor(cfg.Tracking.BaseURL), tokens,
		sending.WithLocks(locks))

	// Tracking events go straight to the store, or through SQS when a queue
	// is configured.
	var events suppression.EventRecorder = tracking.DirectRecorder{Store: st.feedback}
	var consumer *tracking.Consumer
	if cfg.Tracking.SQSQueueURL != "" {
		sqsClient, err := newSQSClient(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to create SQS client: %v", err)
		}
		events = tracking.NewPublisher(sqsClient, cfg.Tracking.SQSQueueURL)
		consumer = tracking.NewConsumer(sqsClient, cfg.Tracking.SQSQueueURL, tracking.DirectRecorder{Store: st.feedback})
		log.Printf("Tracking events relayed through SQS: %s", cfg.Tracking.SQSQueueURL)
	}
	feedback := suppression.NewService(st.feedback, events, tokens)
	trackingHandler := tracking.NewHandler(events, feedback)
	trackingHandler.SetConfirmer(tracking.NewSubscriptionConfirmer(
		httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, 3)))

	sched := scheduler.New(st.due, orch,
		scheduler.WithLocks(locks),
		scheduler.WithBatchSize(cfg.Sending.BatchSize),
		scheduler.WithRunTimeout(cfg.Sending.Timeout()))
	if cfg.Scheduler.Cron != "" {
		if err := sched.Start(cfg.Scheduler.Cron); err != nil {
			log.Fatalf("Scheduler: %v", err)
		}
	} else {
		log.Println("Scheduler cron not set, sweeps run only via GET /api/cron/send")
	}
	if cfg.Scheduler.Secret == "" {
		log.Println("Warning: CRON_SECRET not set, /api/cron/send rejects every request")
	}

	contacts := contact.NewService(st.contacts,
		contact.WithValidator(newValidator(cfg.Validation, redisClient)),
		contact.WithValidationLimiter(ratelimit.NewSlidingWindow(cfg.Validation.RatePerSecond, time.Second, ratelimit.SystemClock{})))

	server := api.NewServer(cfg.Server, api.Deps{
		Sender:       orch,
		Campaigns:    campaign.NewService(st.campaigns),
		Contacts:     contacts,
		Scheduler:    sched,
		Tracking:     trackingHandler,
		Health:       api.NewHealthChecker(db, redisClient),
		CronSecret:   cfg.Scheduler.Secret,
		BatchSize:    cfg.Sending.BatchSize,
		MaxBatchSize: 1000,
		SendTimeout:  cfg.Sending.Timeout(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Starting server on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		<-sched.Stop().Done()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Exited with error: %v", err)
	}
	log.Println("Server stopped")
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newStores(db *sql.DB) stores {
	if db == nil {
		mem := memory.New()
		return stores{campaigns: mem, contacts: mem, sends: mem, feedback: mem, due: mem}
	}
	campaigns := postgres.NewCampaignRepo(db)
	return stores{
		campaigns: campaigns,
		contacts:  postgres.NewContactRepo(db),
		sends:     postgres.NewSendRepo(db),
		feedback:  postgres.NewFeedbackRepo(db),
		due:       campaigns,
	}
}

// connectRedis returns nil when no URL is set or the server is unreachable;
// callers fall back to Postgres advisory locks and a local limiter.
func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		log.Println("Redis not configured (REDIS_URL not set)")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed (%s): %v", opts.Addr, err)
		client.Close()
		return nil
	}
	log.Printf("Redis connected: %s", opts.Addr)
	return client
}

// newValidator runs the DNS checks first and asks ZeroBounce only when DNS
// cannot answer. Verdicts are cached when Redis is available.
func newValidator(vc config.ValidationConfig, rdb *redis.Client) contact.Validator {
	var v contact.Validator = contact.NewDNSValidator(nil)
	if vc.ZeroBounceAPIKey != "" {
		zb := contact.NewZeroBounce(
			httpretry.NewRetryClient(&http.Client{Timeout: 15 * time.Second}, 2),
			vc.ZeroBounceAPIKey, vc.ZeroBounceURL)
		v = contact.Fallback{Primary: v, Secondary: zb}
		log.Println("Email validation: DNS with ZeroBounce fallback")
	} else {
		log.Println("Email validation: DNS only (ZEROBOUNCE_API_KEY not set)")
	}
	if rdb != nil {
		v = contact.NewCache(v, rdb, vc.CacheTTL())
	}
	return v
}

func newSQSClient(ctx context.Context, cfg *config.Config) (*sqs.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Tracking.SQSRegion)}
	if cfg.SES.AccessKey != "" && cfg.SES.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SES.AccessKey, cfg.SES.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		o.RetryMaxAttempts = 5
		o.RetryMode = aws.RetryModeAdaptive
	}), nil
}

// checkQuota warns when the configured rate exceeds the account's SES send
// rate. Failure to read the quota is not fatal.
func checkQuota(ctx context.Context, sender *ses.Sender, sc config.SendingConfig) {
	qctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	q, err := sender.Quota(qctx)
	if err != nil {
		log.Printf("Warning: could not read SES quota: %v", err)
		return
	}
	if !q.SendingEnabled {
		log.Println("Warning: SES sending is disabled for this account")
	}
	rate := float64(sc.RatePerWindow) / sc.Window().Seconds()
	if q.MaxSendRate > 0 && rate > q.MaxSendRate {
		log.Printf("Warning: configured rate %.1f/s exceeds SES max send rate %.1f/s", rate, q.MaxSendRate)
	}
	log.Printf("SES quota: %.0f/%.0f sent in last 24h, max %.1f/s",
		q.SentLast24Hours, q.Max24HourSend, q.MaxSendRate)
}
