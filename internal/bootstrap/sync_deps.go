package bootstrap

import (
	"context"
	"os"
	"strings"
	"time"

	"mailsync_server/adapter/out/messaging"
	"mailsync_server/adapter/out/mongodb"
	"mailsync_server/adapter/out/persistence"
	"mailsync_server/adapter/out/provider/gmail"
	"mailsync_server/adapter/out/provider/outlook"
	"mailsync_server/adapter/out/realtime"
	"mailsync_server/config"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/account"
	"mailsync_server/core/service/auth"
	"mailsync_server/core/service/mailbox"
	"mailsync_server/core/service/notification"
	"mailsync_server/core/service/sync"
	"mailsync_server/infra/database"
	"mailsync_server/pkg/cache"
	"mailsync_server/pkg/crypto"
	"mailsync_server/pkg/logger"
	"mailsync_server/pkg/metrics"
	"mailsync_server/pkg/snowflake"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
)

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	JobRepo          out.SyncJobRepository
	AccountRepo      out.AccountRepository
	MailRepo         out.MailRepository
	NotificationRepo out.NotificationRepository
	SyncEventStore   out.SyncEventStore

	// Providers
	GmailProvider   *gmail.Adapter
	OutlookProvider *outlook.Adapter
	Registry        *sync.Registry

	// Messaging
	Producer *messaging.RedisProducer

	// Realtime
	RealtimeAdapter *realtime.SSEAdapter
	SSEHub          *realtime.SSEHub

	// Services
	TokenManager        *auth.TokenManager
	SyncEngine          *sync.Engine
	AccountService      *account.Service
	MailboxService      *mailbox.Service
	NotificationService *notification.Service
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	if err := crypto.Init(); err != nil {
		return nil, nil, err
	}
	if err := snowflake.Init(cfg.NodeID); err != nil {
		return nil, nil, err
	}

	// Database (pgxpool, health checks and raw queries)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the adapters)
	// Force simple protocol to avoid prepared statement conflicts with PgBouncer
	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	metrics.RegisterPool("postgres", sqlDB.DB)

	// Redis (job stream, status mirror, consumer groups)
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })
	deps.Producer = messaging.NewRedisProducer(redisClient)

	// MongoDB (sync event history)
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.Connect(context.Background(), cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed, sync event history disabled: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				mongoClient.Disconnect(context.Background())
			})

			eventStore := mongodb.NewSyncEventAdapter(mongoClient.Database(cfg.MongoDBName))
			if err := eventStore.EnsureIndexes(context.Background()); err != nil {
				logger.Warn("Failed to ensure sync event indexes: %v", err)
			}
			deps.SyncEventStore = eventStore
		}
	}

	// Repositories
	deps.JobRepo = persistence.NewSyncJobAdapter(sqlDB)
	deps.AccountRepo = persistence.NewAccountAdapter(sqlDB)
	deps.MailRepo = persistence.NewMailAdapter(sqlDB)
	deps.NotificationRepo = persistence.NewNotificationAdapter(sqlDB)

	// Realtime (SSE)
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	deps.RealtimeAdapter = realtime.NewSSEAdapter(zlog)
	deps.SSEHub = realtime.NewSSEHub(deps.RealtimeAdapter, zlog)

	// Mail providers
	var providers []out.MailProvider
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		deps.GmailProvider = gmail.NewAdapter(&gmail.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		})
		providers = append(providers, deps.GmailProvider)
	}
	if cfg.MicrosoftClientID != "" && cfg.MicrosoftClientSecret != "" {
		deps.OutlookProvider = outlook.NewAdapter(&outlook.Config{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			TokenURL:     microsoftTokenURL(cfg.MicrosoftTenantID),
		})
		providers = append(providers, deps.OutlookProvider)
	}
	if len(providers) == 0 {
		logger.Warn("No mail provider credentials configured, sync runs will fail per account")
	}
	deps.Registry = sync.NewRegistry(providers...)

	// Services
	deps.TokenManager = auth.NewTokenManager(deps.AccountRepo)
	deps.NotificationService = notification.NewService(deps.NotificationRepo, deps.RealtimeAdapter)
	deps.NotificationService.SetCache(cache.NewRedisCache(redisClient))
	deps.SyncEngine = sync.NewEngine(
		deps.JobRepo,
		deps.AccountRepo,
		deps.MailRepo,
		deps.Registry,
		deps.TokenManager,
		deps.Producer,
		deps.RealtimeAdapter,
		deps.SyncEventStore,
		deps.NotificationService,
	)
	deps.AccountService = account.NewService(deps.AccountRepo, deps.MailRepo)
	deps.MailboxService = mailbox.NewService(deps.AccountRepo, deps.Registry, deps.TokenManager)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	return deps, cleanup, nil
}

func microsoftTokenURL(tenantID string) string {
	if tenantID == "" {
		tenantID = "common"
	}
	return "https://login.microsoftonline.com/" + tenantID + "/oauth2/v2.0/token"
}
