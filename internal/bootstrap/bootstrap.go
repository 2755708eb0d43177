// Package bootstrap arma el grafo de dependencias a partir de la configuración.
// Lo comparten la API y fiscalctl.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/application/contingency"
	"github.com/jhoicas/Facturacion-api/internal/application/webhook"
	"github.com/jhoicas/Facturacion-api/internal/domain/fiscal"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/crypto"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/memstore"
	infrapdf "github.com/jhoicas/Facturacion-api/internal/infrastructure/pdf"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/postgres"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/provider"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/redisq"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/storage"
	"github.com/jhoicas/Facturacion-api/pkg/config"
	"github.com/jhoicas/Facturacion-api/pkg/logger"
)

// Components servicios listos para usar. DeadLetters es nil sin Redis.
type Components struct {
	Issuance    *billing.IssuanceCoordinator
	NonFiscal   *billing.NonFiscalUseCase
	Engine      *contingency.Engine
	Scheduler   *contingency.Scheduler
	Webhooks    *webhook.Ingestor
	DeadLetters *redisq.DeadLetterQueue
	Sequences   repository.SequenceSeeder
	Provider    billing.ProviderClient

	closers []func()
}

// Close libera pool y conexiones en orden inverso.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

type persistence struct {
	repos     billing.FiscalRepos
	tx        billing.FiscalTxRunner
	companies repository.CompanyRepository
	nonFiscal repository.NonFiscalDocumentRepository
	sequences repository.SequenceSeeder
}

// Build construye todos los componentes. En caso de error libera lo ya abierto.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (comp *Components, err error) {
	comp = &Components{}
	defer func() {
		if err != nil {
			comp.Close()
			comp = nil
		}
	}()

	// ── Persistencia ──────────────────────────────────────────────────────────
	var p persistence
	switch cfg.DB.Driver {
	case config.DriverMemory:
		log.Warn().Msg("DB_DRIVER=memory: los datos se pierden al reiniciar")
		store := memstore.New()
		p = persistence{
			repos:     store.Repos(),
			tx:        store,
			companies: store.Companies(),
			nonFiscal: store.NonFiscal(),
			sequences: store.Sequences(),
		}
	default:
		pool, err := postgres.NewPool(ctx, cfg.DB, cfg.App.Name)
		if err != nil {
			return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
		}
		comp.closers = append(comp.closers, pool.Close)
		if cfg.DB.AutoMigrate {
			if err := postgres.Migrate(ctx, pool, log); err != nil {
				return nil, fmt.Errorf("migraciones: %w", err)
			}
		}
		p = postgresPersistence(pool)
	}

	// ── Artefactos ────────────────────────────────────────────────────────────
	blobs, err := storage.NewLocalArtifactStore(cfg.Storage.Root, cfg.Storage.Namespace)
	if err != nil {
		return nil, err
	}
	renderer := infrapdf.NewMarotoRenderer()
	artifacts := billing.NewArtifacts(blobs, renderer)

	// ── Cifrado ───────────────────────────────────────────────────────────────
	var cipher billing.PayloadCipher
	if cfg.Crypto.PayloadKey != "" {
		c, err := crypto.NewPayloadCipher(cfg.Crypto.PayloadKey)
		if err != nil {
			return nil, fmt.Errorf("CRYPTO_PAYLOAD_KEY: %w", err)
		}
		cipher = c
	} else {
		log.Warn().Msg("CRYPTO_PAYLOAD_KEY vacío: los snapshots se guardan sin cifrar")
	}

	// ── Proveedor ─────────────────────────────────────────────────────────────
	prov, err := newProvider(cfg.Provider, log)
	if err != nil {
		return nil, err
	}
	comp.Provider = prov

	// ── Redis (DLQ + lock) ────────────────────────────────────────────────────
	var (
		dlq  contingency.DeadLetterSink
		lock contingency.RunLock
	)
	if cfg.Redis.URL != "" {
		rdb, err := redisq.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		comp.closers = append(comp.closers, func() { closeRedis(rdb, log) })
		comp.DeadLetters = redisq.NewDeadLetterQueue(rdb)
		dlq = comp.DeadLetters
		lock = redisq.NewRunLock(rdb, "")
	}

	clock := billing.SystemClock{}
	comp.Issuance = billing.NewIssuanceCoordinator(p.repos, p.tx, p.companies, prov, artifacts, cipher, clock,
		billing.IssuanceConfig{
			ProviderTimeout:   cfg.Provider.Timeout,
			RetryUnclassified: cfg.Provider.RetryUnclassified,
		}, logger.Component(log, "issuance"))
	comp.NonFiscal = billing.NewNonFiscalUseCase(p.nonFiscal, p.repos.Files, p.companies, renderer, artifacts, clock)
	comp.Engine = contingency.NewEngine(p.repos, p.tx, prov, artifacts, cipher, clock, dlq, contingency.Config{
		Enabled:         cfg.Sync.Enabled,
		BatchSize:       cfg.Sync.BatchSize,
		MaxAttempts:     cfg.Sync.MaxAttempts,
		Backoff:         fiscal.BackoffPolicy{Base: cfg.Sync.BaseBackoff, Max: cfg.Sync.MaxBackoff},
		ProviderTimeout: cfg.Provider.Timeout,
	}, logger.Component(log, "contingency"))
	comp.Scheduler = contingency.NewScheduler(comp.Engine, cfg.Sync.Interval, lock, logger.Component(log, "scheduler"))
	comp.Webhooks = webhook.NewIngestor(p.repos.Documents, p.repos.Files, prov, artifacts, clock,
		cfg.Webhook.Secret, cfg.Webhook.Tolerance, logger.Component(log, "webhook"))
	comp.Sequences = p.sequences
	return comp, nil
}

func postgresPersistence(pool *pgxpool.Pool) persistence {
	return persistence{
		repos:     postgres.Repos(pool),
		tx:        postgres.NewTxRunner(pool),
		companies: postgres.NewCompanyRepository(pool),
		nonFiscal: postgres.NewNonFiscalRepository(pool),
		sequences: postgres.NewSequenceRepository(pool),
	}
}

// newProvider cliente dev o HTTP (con mTLS opcional), siempre detrás del circuit breaker.
func newProvider(cfg config.ProviderConfig, log zerolog.Logger) (billing.ProviderClient, error) {
	var inner billing.ProviderClient
	switch cfg.Mode {
	case config.ProviderModeHTTP:
		cert, err := provider.LoadClientCertificate(cfg.CertPath, cfg.CertKeyPath, cfg.CertPassword)
		if err != nil {
			return nil, fmt.Errorf("certificado del proveedor: %w", err)
		}
		c, err := provider.NewHTTPClient(provider.HTTPConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Name:       cfg.Name,
			Timeout:    cfg.Timeout,
			ClientCert: cert,
		})
		if err != nil {
			return nil, err
		}
		inner = c
		log.Info().Str("base_url", cfg.BaseURL).Bool("mtls", cert != nil).Msg("proveedor HTTP configurado")
	default:
		inner = provider.NewDevClient(cfg.DevBehavior)
		log.Warn().Str("behavior", cfg.DevBehavior).Msg("PROVIDER_MODE=dev: se usa el simulador de emisión")
	}
	return provider.NewBreakerClient(inner, provider.BreakerConfig{
		FailureThreshold: cfg.BreakerFailures,
		OpenTimeout:      cfg.BreakerOpenFor,
	}, nil), nil
}

func closeRedis(rdb *redis.Client, log zerolog.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("cerrar Redis")
	}
}
