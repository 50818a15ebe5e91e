package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alanyoungcy/battlekeeper/internal/battle"
	s3blob "github.com/alanyoungcy/battlekeeper/internal/blob/s3"
	"github.com/alanyoungcy/battlekeeper/internal/cache/local"
	"github.com/alanyoungcy/battlekeeper/internal/cache/redis"
	"github.com/alanyoungcy/battlekeeper/internal/config"
	"github.com/alanyoungcy/battlekeeper/internal/crypto"
	"github.com/alanyoungcy/battlekeeper/internal/domain"
	"github.com/alanyoungcy/battlekeeper/internal/ledger"
	"github.com/alanyoungcy/battlekeeper/internal/metrics"
	"github.com/alanyoungcy/battlekeeper/internal/notify"
	"github.com/alanyoungcy/battlekeeper/internal/platform/amm"
	"github.com/alanyoungcy/battlekeeper/internal/server/handler"
	"github.com/alanyoungcy/battlekeeper/internal/service"
	"github.com/alanyoungcy/battlekeeper/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Params battle.Params

	// Ledger
	Ledger *ledger.Client

	// Stores
	Stores postgres.Stores

	// Caches
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter // nil without Redis
	SignalBus   domain.SignalBus   // nil without Redis

	// Blob storage, nil when S3 is disabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Pipeline
	Index        *service.IndexWriter
	Orchestrator *battle.Orchestrator
	Scanner      *battle.Scanner

	// Observability
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Health   map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	params, err := ParamsFromConfig(cfg)
	if err != nil {
		return fail(fmt.Errorf("wire: battle params: %w", err))
	}
	deps.Params = params

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

	// --- Ledger ---
	keeper, err := LoadKeeper(cfg.Keeper)
	if err != nil {
		return fail(fmt.Errorf("wire: keeper: %w", err))
	}
	deps.Ledger, err = ledger.NewClient(ledger.Config{
		RPCURL:         cfg.Ledger.RPCURL,
		ProgramID:      cfg.Ledger.ProgramID,
		Treasury:       cfg.Ledger.Treasury,
		PollInterval:   cfg.Ledger.PollInterval.Duration,
		ConfirmTimeout: cfg.Ledger.ConfirmTimeout.Duration,
	}, keeper, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: ledger: %w", err))
	}
	logger.InfoContext(ctx, "keeper loaded", slog.String("address", deps.Ledger.KeeperAddress()))

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:              cfg.Supabase.DSN,
		Host:             cfg.Supabase.Host,
		Port:             cfg.Supabase.Port,
		Database:         cfg.Supabase.Database,
		User:             cfg.Supabase.User,
		Password:         cfg.Supabase.Password,
		SSLMode:          cfg.Supabase.SSLMode,
		MaxConns:         cfg.Supabase.PoolMaxConns,
		MinConns:         cfg.Supabase.PoolMinConns,
		StatementTimeout: cfg.Supabase.StatementTimeout.Duration,
		ApplicationName:  "battlekeeper",
	})
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)
	deps.Health["postgres"] = pgClient

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}
	deps.Stores = pgClient.Stores()

	// --- Redis, or in-process leases when disabled ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Health["redis"] = redisClient

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		logger.WarnContext(ctx, "redis disabled; leases are process-local")
		deps.LockManager = local.NewLockManager()
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Health["s3"] = handler.PingFunc(s3Client.Health)

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.Stores.Activity, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Pipeline ---
	deps.Index = service.NewIndexWriter(service.IndexWriterDeps{
		Assets:        deps.Stores.Assets,
		Winners:       deps.Stores.Winners,
		Rewards:       deps.Stores.Rewards,
		Notifications: deps.Stores.Notifications,
		Activity:      deps.Stores.Activity,
		Bus:           deps.SignalBus,
		Blobs:         deps.BlobWriter,
		Alerter:       deps.Notifier,
	}, params.RewardPoints, deps.Metrics, logger)

	pools := battle.NewPoolAdapter(
		amm.NewClient(cfg.AMM.BaseURL, cfg.AMM.APIKey, cfg.AMM.Timeout.Duration),
		deps.Ledger, params, logger,
	)
	deps.Orchestrator = battle.NewOrchestrator(deps.Ledger, pools, deps.Index, deps.LockManager, params, deps.Metrics, logger)
	deps.Scanner = battle.NewScanner(deps.Orchestrator, deps.Ledger, deps.Index, params, deps.Metrics, logger)

	return deps, cleanup, nil
}

// ParamsFromConfig builds the pipeline parameters from the battle and ledger
// sections.
func ParamsFromConfig(cfg *config.Config) (battle.Params, error) {
	p := battle.Params{
		Thresholds: battle.Thresholds{
			TargetDeposited: cfg.Battle.TargetDeposited,
			QualifyBps:      cfg.Battle.QualifyBps,
			MinVolume:       cfg.Battle.MinVolume,
		},
		SpoilsBps:          cfg.Battle.SpoilsBps,
		PlatformFeeBps:     cfg.Battle.PlatformFeeBps,
		ToleranceUnits:     cfg.Battle.ToleranceUnits,
		FeeReserve:         cfg.Battle.FeeReserve,
		PollInterval:       cfg.Ledger.PollInterval.Duration,
		PropagationTimeout: cfg.Battle.PropagationTimeout.Duration,
		RunBudget:          cfg.Battle.RunBudget.Duration,
		LeaseGrace:         cfg.Battle.LeaseGrace.Duration,
		ConfirmTimeout:     cfg.Ledger.ConfirmTimeout.Duration,
		RewardPoints:       cfg.Battle.RewardPoints,
		NativeMint:         cfg.Battle.NativeMint,
	}
	if err := p.Validate(); err != nil {
		return battle.Params{}, err
	}
	return p, nil
}

// LoadKeeper resolves the keeper signing key. The inline secret wins, then the
// encrypted key file, then the plain keygen file.
func LoadKeeper(k config.KeeperConfig) (solana.PrivateKey, error) {
	switch {
	case k.SecretKey != "":
		return ledger.LoadKeeper(k.SecretKey, "")
	case k.EncryptedKeyPath != "":
		raw, err := crypto.DecryptKeyFile(k.EncryptedKeyPath, k.KeyPassword)
		if err != nil {
			return nil, err
		}
		return solana.PrivateKey(raw), nil
	case k.KeyPath != "":
		return ledger.LoadKeeper("", k.KeyPath)
	default:
		return nil, domain.ErrNoKeeper
	}
}
