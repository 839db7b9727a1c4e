package service

import (
	"context"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/broker"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/store"
	"restaurant-pos/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockLedger is the only writer of product quantities. Every change is an
// appended movement written in the same transaction as the quantity.
type StockLedger struct {
	store  *store.Store
	cache  StockCache
	events EventPublisher
	retry  RetryPolicy
	logger *zap.Logger
}

// NewStockLedger creates a new stock ledger
func NewStockLedger(st *store.Store, cache StockCache, events EventPublisher, retry RetryPolicy) *StockLedger {
	return &StockLedger{
		store:  st,
		cache:  cache,
		events: events,
		retry:  retry,
		logger: util.GetLogger(),
	}
}

// quantityScale is the number of decimals a stock quantity can carry
const quantityScale = 3

func fitsQuantityScale(q decimal.Decimal) bool {
	return q.Equal(q.Round(quantityScale))
}

// MovementInput describes one stock movement
type MovementInput struct {
	ProductID     int64
	Type          models.MovementType
	Quantity      decimal.Decimal
	ReferenceType models.ReferenceType
	ReferenceID   *int64
	Reason        string
}

func (in *MovementInput) validate() error {
	if in.ProductID <= 0 {
		return apperr.Validation("product_id is required")
	}
	if !in.Type.Valid() {
		return apperr.Validation("invalid movement type %q", in.Type)
	}
	if !in.Quantity.IsPositive() {
		return apperr.Validation("movement quantity must be positive")
	}
	if !fitsQuantityScale(in.Quantity) {
		return apperr.Validation("movement quantity allows at most %d decimals", quantityScale)
	}
	if !in.ReferenceType.Valid() {
		return apperr.Validation("invalid reference type %q", in.ReferenceType)
	}
	return nil
}

// RecordMovement applies a single movement to a product
func (l *StockLedger) RecordMovement(ctx context.Context, actor models.Actor, in MovementInput) (*models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.RecordMovement")
	defer span.End()

	if !actor.Authorized {
		return nil, apperr.Forbidden("record stock movements")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var (
		movement *models.StockMovement
		effects  afterCommit
	)
	err := withRetry(ctx, l.retry, "record_movement", func() error {
		effects = nil
		return l.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
			product, err := tx.LockProduct(ctx, in.ProductID)
			if err != nil {
				return err
			}
			movement, err = l.recordTx(ctx, tx, product, in, actor.ID, time.Now().UTC(), &effects)
			return err
		})
	})
	if err != nil {
		l.observeFailure("record_movement", err)
		return nil, err
	}

	effects.run(ctx)
	return movement, nil
}

// recordTx applies a movement to a product row already locked by tx and
// updates product in place, so a later movement on the same product within
// the transaction sees the new quantity.
func (l *StockLedger) recordTx(
	ctx context.Context,
	tx *store.Tx,
	product *models.Product,
	in MovementInput,
	actorID int64,
	now time.Time,
	effects *afterCommit,
) (*models.StockMovement, error) {
	if !product.IsActive {
		return nil, apperr.NotFound("product %d is not active", product.ID)
	}
	if product.StockFrozen {
		return nil, apperr.New(apperr.KindIntegrity,
			"stock of product %s is frozen pending reconciliation", product.Code)
	}

	newQuantity := product.Quantity.Add(in.Quantity)
	if in.Type == models.MovementOut {
		if in.Quantity.GreaterThan(product.Quantity) {
			return nil, apperr.New(apperr.KindInsufficientStock,
				"insufficient stock for %s: available %s, requested %s",
				product.Name, product.Quantity.String(), in.Quantity.String())
		}
		newQuantity = product.Quantity.Sub(in.Quantity)
	}

	if err := tx.SetProductQuantity(ctx, product.ID, newQuantity, now); err != nil {
		return nil, err
	}

	movement := &models.StockMovement{
		ProductID:     product.ID,
		Type:          in.Type,
		Quantity:      in.Quantity,
		BalanceAfter:  newQuantity,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		Reason:        in.Reason,
		ActorID:       actorID,
		CreatedAt:     now,
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return nil, err
	}

	product.Quantity = newQuantity
	product.UpdatedAt = now

	snapshot := *product
	recorded := *movement
	effects.add(func(ctx context.Context) {
		l.afterMovement(ctx, &snapshot, &recorded)
	})
	return movement, nil
}

// afterMovement runs once the movement is committed
func (l *StockLedger) afterMovement(ctx context.Context, product *models.Product, movement *models.StockMovement) {
	util.StockMovementsTotal.WithLabelValues(string(movement.Type), string(movement.ReferenceType)).Inc()

	if _, err := l.cache.SetStockLevel(ctx, product.ID, product.Quantity, movement.ID); err != nil {
		l.logger.Warn("Failed to refresh stock cache",
			zap.Int64("product_id", product.ID),
			zap.Error(err),
		)
	}

	if movement.Type != models.MovementOut || !product.BelowReorder() {
		return
	}

	util.StockBelowReorderTotal.Inc()
	l.logger.Info("Product reached reorder level",
		zap.Int64("product_id", product.ID),
		zap.String("code", product.Code),
		zap.String("quantity", product.Quantity.String()),
	)

	event := &models.StockLowEvent{
		BaseEvent:    broker.NewBaseEvent(models.EventTypeStockLow),
		ProductID:    product.ID,
		Code:         product.Code,
		Name:         product.Name,
		Quantity:     product.Quantity,
		ReorderLevel: product.ReorderLevel,
		MovementID:   movement.ID,
	}
	if err := l.events.PublishStockLow(ctx, event); err != nil {
		l.logger.Error("Failed to publish StockLow event", zap.Error(err))
	}
}

// AdjustRequest sets a product to an absolute quantity or moves it by a delta.
// Exactly one of NewQuantity and Delta must be set.
type AdjustRequest struct {
	ProductID     int64                `json:"-"`
	NewQuantity   *decimal.Decimal     `json:"new_quantity,omitempty"`
	Delta         *decimal.Decimal     `json:"delta,omitempty"`
	Reason        string               `json:"reason"`
	ReferenceType models.ReferenceType `json:"reference_type,omitempty"`
}

// AdjustResult reports the quantities around an adjustment. MovementID is
// zero when the adjustment was a no-op.
type AdjustResult struct {
	ProductID   int64           `json:"product_id"`
	MovementID  int64           `json:"movement_id,omitempty"`
	OldQuantity decimal.Decimal `json:"old_quantity"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
}

// AdjustStock computes the delta against the locked quantity and records it
// as an IN or OUT movement. A zero delta records nothing.
func (l *StockLedger) AdjustStock(ctx context.Context, actor models.Actor, req AdjustRequest) (*AdjustResult, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.AdjustStock")
	defer span.End()

	if !actor.Authorized {
		return nil, apperr.Forbidden("adjust stock")
	}
	if (req.NewQuantity == nil) == (req.Delta == nil) {
		return nil, apperr.Validation("exactly one of new_quantity and delta is required")
	}
	if req.NewQuantity != nil && req.NewQuantity.IsNegative() {
		return nil, apperr.Validation("new_quantity must not be negative")
	}
	for _, q := range []*decimal.Decimal{req.NewQuantity, req.Delta} {
		if q != nil && !fitsQuantityScale(*q) {
			return nil, apperr.Validation("quantity allows at most %d decimals", quantityScale)
		}
	}
	refType := req.ReferenceType
	if refType == "" {
		refType = models.RefAdjustment
	}
	switch refType {
	case models.RefAdjustment, models.RefPurchase, models.RefWaste:
	default:
		return nil, apperr.Validation("reference type %q cannot be used for adjustments", refType)
	}

	var (
		result  *AdjustResult
		effects afterCommit
	)
	err := withRetry(ctx, l.retry, "adjust_stock", func() error {
		effects = nil
		return l.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
			product, err := tx.LockProduct(ctx, req.ProductID)
			if err != nil {
				return err
			}

			result = &AdjustResult{ProductID: product.ID, OldQuantity: product.Quantity}
			var delta decimal.Decimal
			if req.Delta != nil {
				delta = *req.Delta
			} else {
				delta = req.NewQuantity.Sub(product.Quantity)
			}
			if delta.IsZero() {
				result.NewQuantity = product.Quantity
				return nil
			}

			in := MovementInput{
				ProductID:     product.ID,
				Type:          models.MovementIn,
				Quantity:      delta.Abs(),
				ReferenceType: refType,
				Reason:        req.Reason,
			}
			if delta.IsNegative() {
				in.Type = models.MovementOut
			}

			movement, err := l.recordTx(ctx, tx, product, in, actor.ID, time.Now().UTC(), &effects)
			if err != nil {
				return err
			}
			result.MovementID = movement.ID
			result.NewQuantity = movement.BalanceAfter
			return nil
		})
	})
	if err != nil {
		l.observeFailure("adjust_stock", err)
		return nil, err
	}

	effects.run(ctx)
	if result.MovementID != 0 {
		l.logger.Info("Stock adjusted",
			zap.Int64("product_id", result.ProductID),
			zap.Int64("actor_id", actor.ID),
			zap.String("old_quantity", result.OldQuantity.String()),
			zap.String("new_quantity", result.NewQuantity.String()),
		)
	}
	return result, nil
}

// ListMovements returns a cursor over movements, newest first. productID 0
// lists every product; limit 0 means no limit.
func (l *StockLedger) ListMovements(ctx context.Context, productID int64, limit int) (*MovementCursor, error) {
	if limit < 0 {
		return nil, apperr.Validation("limit must not be negative")
	}
	if productID > 0 {
		if _, err := l.store.GetProduct(ctx, productID); err != nil {
			return nil, err
		}
	}
	return &MovementCursor{
		store:     l.store,
		productID: productID,
		limit:     limit,
		pageSize:  defaultMovementPage,
	}, nil
}

// ReconcileResult compares a product quantity with its movement ledger
type ReconcileResult struct {
	ProductID     int64           `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Consistent    bool            `json:"consistent"`
	Frozen        bool            `json:"frozen"`
}

// Reconcile checks that the product quantity equals the signed sum of its
// movements. A mismatch freezes the product: every later movement on it fails
// with an integrity error until it is repaired by hand.
func (l *StockLedger) Reconcile(ctx context.Context, productID int64) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.Reconcile")
	defer span.End()

	var result *ReconcileResult
	err := l.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		product, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		balance, err := tx.MovementBalance(ctx, productID)
		if err != nil {
			return err
		}

		result = &ReconcileResult{
			ProductID:     product.ID,
			Quantity:      product.Quantity,
			LedgerBalance: balance,
			Consistent:    product.Quantity.Round(3).Equal(balance.Round(3)),
			Frozen:        product.StockFrozen,
		}
		if result.Consistent || product.StockFrozen {
			return nil
		}
		result.Frozen = true
		return tx.SetStockFrozen(ctx, productID, true)
	})
	if err != nil {
		return nil, err
	}

	if !result.Consistent {
		util.StockReconcileMismatchTotal.Inc()
		util.IntegrityErrorsTotal.WithLabelValues("reconcile").Inc()
		l.logger.Error("Stock ledger mismatch, product frozen",
			zap.Int64("product_id", result.ProductID),
			zap.String("quantity", result.Quantity.String()),
			zap.String("ledger_balance", result.LedgerBalance.String()),
		)
	}
	return result, nil
}

// RefreshCache rewrites the cached stock level of a product from the database
func (l *StockLedger) RefreshCache(ctx context.Context, productID int64) error {
	product, err := l.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	latest, err := l.store.ListMovements(ctx, store.MovementFilter{ProductID: productID, Limit: 1})
	if err != nil {
		return err
	}

	var version int64
	if len(latest) > 0 {
		version = latest[0].ID
	}
	_, err = l.cache.SetStockLevel(ctx, productID, product.Quantity, version)
	return err
}

func (l *StockLedger) observeFailure(op string, err error) {
	if apperr.KindOf(err) == apperr.KindIntegrity {
		util.IntegrityErrorsTotal.WithLabelValues(op).Inc()
	}
}
