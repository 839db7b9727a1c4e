package worker

import (
	"context"
	"sync"
	"time"

	"restaurant-pos/internal/models"
	"restaurant-pos/internal/service"
	"restaurant-pos/internal/util"

	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ProductLister lists the products the scheduled jobs walk over
type ProductLister interface {
	ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error)
}

// StockJobs is the part of the stock ledger the scheduler drives
type StockJobs interface {
	RefreshCache(ctx context.Context, productID int64) error
	Reconcile(ctx context.Context, productID int64) (*service.ReconcileResult, error)
}

// HeldOrderPurger drops expired held orders
type HeldOrderPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// ScheduleSpec holds the cron expressions of the periodic jobs. An empty
// expression disables the job.
type ScheduleSpec struct {
	StockResync string
	HeldPurge   string
	Reconcile   string
	Workers     int
	Location    *time.Location
}

// Scheduler runs periodic maintenance: stock cache resync, held order expiry
// and ledger reconciliation. Per-product work fans out over a goroutine pool.
type Scheduler struct {
	cron     *cron.Cron
	pool     *ants.Pool
	products ProductLister
	stock    StockJobs
	held     HeldOrderPurger
	logger   *zap.Logger
	timeout  time.Duration
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewScheduler registers the jobs named in spec
func NewScheduler(spec ScheduleSpec, products ProductLister, stock StockJobs, held HeldOrderPurger) (*Scheduler, error) {
	workers := spec.Workers
	if workers <= 0 {
		workers = 4
	}
	loc := spec.Location
	if loc == nil {
		loc = time.Local
	}

	logger := util.GetLogger()
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p interface{}) {
		logger.Error("Scheduled task panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(loc), cron.WithParser(cronParser)),
		pool:     pool,
		products: products,
		stock:    stock,
		held:     held,
		logger:   logger,
		timeout:  5 * time.Minute,
	}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"stock_resync", spec.StockResync, s.ResyncStockCache},
		{"held_purge", spec.HeldPurge, s.PurgeHeldOrders},
		{"reconcile", spec.Reconcile, s.ReconcileStock},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { s.runJob(job.name, job.run) }); err != nil {
			pool.Release()
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) runJob(name string, run func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := run(ctx); err != nil {
		s.logger.Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
		return
	}
	s.logger.Debug("Scheduled job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop waits for running jobs and releases the pool
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
	s.pool.Release()
}

// forEachProduct runs fn for every active product on the pool and returns
// the number of failures
func (s *Scheduler) forEachProduct(ctx context.Context, fn func(ctx context.Context, p models.Product) error) (int, error) {
	products, err := s.products.ListProducts(ctx, true)
	if err != nil {
		return 0, err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures int
	)
	for i := range products {
		p := products[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := fn(ctx, p); err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				s.logger.Warn("Scheduled product task failed", zap.Int64("product_id", p.ID), zap.Error(err))
			}
		}
		if err := s.pool.Submit(task); err != nil {
			wg.Done()
			return failures, err
		}
	}
	wg.Wait()
	return failures, nil
}

// ResyncStockCache pushes every product quantity to the stock cache
func (s *Scheduler) ResyncStockCache(ctx context.Context) error {
	failures, err := s.forEachProduct(ctx, func(ctx context.Context, p models.Product) error {
		return s.stock.RefreshCache(ctx, p.ID)
	})
	if err != nil {
		return err
	}
	if failures > 0 {
		s.logger.Warn("Stock cache resync incomplete", zap.Int("failures", failures))
	}
	return nil
}

// ReconcileStock checks every product against its movement ledger
func (s *Scheduler) ReconcileStock(ctx context.Context) error {
	var (
		mu         sync.Mutex
		mismatched []int64
	)
	failures, err := s.forEachProduct(ctx, func(ctx context.Context, p models.Product) error {
		result, err := s.stock.Reconcile(ctx, p.ID)
		if err != nil {
			return err
		}
		if !result.Consistent {
			mu.Lock()
			mismatched = append(mismatched, p.ID)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Stock reconciliation finished",
		zap.Int("mismatched", len(mismatched)),
		zap.Int64s("frozen_products", mismatched),
		zap.Int("failures", failures),
	)
	return nil
}

// PurgeHeldOrders drops expired held orders
func (s *Scheduler) PurgeHeldOrders(ctx context.Context) error {
	_, err := s.held.PurgeExpired(ctx, time.Now().UTC())
	return err
}
