// Package app builds the service graph shared by the API server and the
// reconcile CLI.
package app

import (
	"github.com/eksporyuk/backend/internal/config"
	"github.com/eksporyuk/backend/internal/jobs"
	"github.com/eksporyuk/backend/internal/metrics"
	"github.com/eksporyuk/backend/internal/queue"
	"github.com/eksporyuk/backend/internal/services/catalog"
	"github.com/eksporyuk/backend/internal/services/commission"
	"github.com/eksporyuk/backend/internal/services/entitlement"
	"github.com/eksporyuk/backend/internal/services/fulfillment"
	"github.com/eksporyuk/backend/internal/services/ledger"
	"github.com/eksporyuk/backend/internal/services/reconcile"
	"github.com/eksporyuk/backend/internal/services/wallet"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Services holds every wired service
type Services struct {
	DB           *gorm.DB
	Metrics      *metrics.Metrics
	Audit        *utils.AuditLogger
	Wallets      *wallet.WalletService
	Entitlements *entitlement.Service
	Fulfillment  *fulfillment.Service
	Ledger       *ledger.Service
	Commission   *commission.Service
	Catalog      *catalog.Service
	Runner       *reconcile.Runner

	// Queue, Locker and Processor are nil without a Redis client.
	Queue     *queue.RedisQueue
	Locker    *queue.Locker
	Processor *queue.JobProcessor

	ReconcileJob *jobs.ReconcileJob
}

// New wires the services. redisClient and m may be nil.
func New(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, m *metrics.Metrics, log *logrus.Logger) *Services {
	commissionOpts := commission.Options{SanityFloor: cfg.Reconcile.FlatSanityFloor}

	s := &Services{DB: db, Metrics: m}
	s.Audit = utils.NewAuditLogger(db)
	s.Wallets = wallet.NewWalletService(db, log.WithField("component", "wallet"))
	s.Entitlements = entitlement.NewService(db, s.Audit, log.WithField("component", "entitlement"))
	s.Fulfillment = fulfillment.NewService(db, s.Wallets, s.Entitlements, commissionOpts, log.WithField("component", "fulfillment"))
	s.Ledger = ledger.NewService(db, s.Wallets, s.Audit, log.WithField("component", "ledger"), cfg.Reconcile.Tolerance)
	s.Commission = commission.NewService(db, commissionOpts, log.WithField("component", "commission"))
	s.Catalog = catalog.NewService(db, s.Audit, log.WithField("component", "catalog"))
	s.Runner = reconcile.NewRunner(db, s.Entitlements, s.Ledger, s.Fulfillment, m, log.WithField("component", "reconcile"), reconcile.Config{
		Concurrency: cfg.Reconcile.Concurrency,
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		Backoff:     utils.DefaultBackoff,
	})
	s.ReconcileJob = jobs.NewReconcileJob(s.Runner, s.Entitlements, cfg.Reconcile.ApplyCorrections, log.WithField("component", "jobs"))

	if redisClient != nil {
		s.Queue = queue.NewRedisQueue(redisClient, utils.DefaultBackoff, log.WithField("component", "queue"))
		s.Locker = queue.NewLocker(redisClient)
		s.Processor = queue.NewJobProcessor(s.Queue, cfg.Server.Workers, log.WithField("component", "worker"), m)

		fulfillmentJob := jobs.NewFulfillmentJob(s.Fulfillment, s.Locker, m, log.WithField("component", "jobs"))
		jobs.RegisterAllJobHandlers(s.Processor, fulfillmentJob, s.ReconcileJob)
	}

	return s
}
