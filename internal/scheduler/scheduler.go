package scheduler

import (
	"context"
	"sync"
	"time"

	billingdomain "github.com/smallbiznis/netbill/internal/billing/domain"
	"github.com/smallbiznis/netbill/internal/clock"
	"github.com/smallbiznis/netbill/internal/config"
	obsmetrics "github.com/smallbiznis/netbill/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/netbill/internal/subscription/domain"
	"github.com/smallbiznis/netbill/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const renewalLeaderKey = "netbill:scheduler:renewal_leader"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Policy     *config.BillingPolicyHolder
	SubRepo    subscriptiondomain.Repository
	Billing    billingdomain.Service
	Lock       *LeaderLock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Scheduler renews subscriptions whose next renewal date has passed. One
// worker at a time does the renewing when a leader lock is configured;
// otherwise SKIP LOCKED claiming keeps concurrent workers off the same rows.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	policy     *config.BillingPolicyHolder
	subRepo    subscriptiondomain.Repository
	billing    billingdomain.Service
	lock       *LeaderLock
	obsMetrics *obsmetrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler"),
		clock:      p.Clock,
		policy:     p.Policy,
		subRepo:    p.SubRepo,
		billing:    p.Billing,
		lock:       p.Lock,
		obsMetrics: p.ObsMetrics,
	}
}

// Start launches the renewal loop. The run interval is re-read from the
// policy each tick so config reloads take effect without a restart.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.policy.Get().RenewalRunInterval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			timer.Reset(s.policy.Get().RenewalRunInterval)

			processed, err := s.RunOnce(ctx)
			if err != nil {
				s.log.Error("renewal pass failed", zap.Error(err))
				continue
			}
			if processed > 0 {
				s.log.Info("renewal pass complete", zap.Int("processed", processed))
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RunOnce claims one batch of due subscriptions and renews each. Failed
// renewals are logged and retried on a later pass because their renewal date
// never advanced.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	policy := s.policy.Get()

	if s.lock != nil {
		token, ok, err := s.lock.TryLock(ctx, renewalLeaderKey, policy.RenewalLockDuration)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		defer func() {
			if err := s.lock.Unlock(ctx, renewalLeaderKey, token); err != nil {
				s.log.Warn("failed to release renewal leader lock", zap.Error(err))
			}
		}()
	}

	now := s.clock.Now()
	var due []subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		due, err = s.subRepo.ClaimDueForRenewal(ctx, tx, now, policy.RenewalBatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, sub := range due {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		subCtx := tenantctx.WithCompany(ctx, sub.CompanyID)
		if _, err := s.billing.RenewSubscription(subCtx, sub.ID.String()); err != nil {
			s.log.Error("subscription renewal failed",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("customer_id", sub.CustomerID.String()),
				zap.Error(err),
			)
			if s.obsMetrics != nil {
				s.obsMetrics.RenewalFailures.Add(ctx, 1)
			}
			continue
		}
		processed++
	}

	return processed, nil
}
