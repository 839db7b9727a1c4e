package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/broker"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/store"
	"restaurant-pos/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SaleOptions configures receipt numbering and total validation
type SaleOptions struct {
	ReceiptPrefix  string
	TotalTolerance decimal.Decimal
	Location       *time.Location
	Retry          RetryPolicy
}

// SaleService turns an order into a committed sale. Stock, table, kitchen and
// shift changes happen in one transaction.
type SaleService struct {
	store   *store.Store
	ledger  *StockLedger
	shifts  *ShiftAccount
	kitchen *KitchenWorkflow
	tables  *TableOccupancy
	held    *HeldOrderStore
	events  EventPublisher
	opts    SaleOptions
	logger  *zap.Logger
}

// NewSaleService creates a new sale service
func NewSaleService(
	st *store.Store,
	ledger *StockLedger,
	shifts *ShiftAccount,
	kitchen *KitchenWorkflow,
	tables *TableOccupancy,
	held *HeldOrderStore,
	events EventPublisher,
	opts SaleOptions,
) *SaleService {
	if opts.ReceiptPrefix == "" {
		opts.ReceiptPrefix = "RCP"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &SaleService{
		store:   st,
		ledger:  ledger,
		shifts:  shifts,
		kitchen: kitchen,
		tables:  tables,
		held:    held,
		events:  events,
		opts:    opts,
		logger:  util.GetLogger(),
	}
}

// SaleItemRequest is one line of a new sale. UnitPrice defaults to the
// product's sell price.
type SaleItemRequest struct {
	ProductID int64            `json:"product_id"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// CreateSaleRequest represents a request to create a sale. An absent Subtotal
// or Total is computed; a supplied one must match the computed value.
type CreateSaleRequest struct {
	OrderType       models.OrderType     `json:"order_type"`
	TableNumber     string               `json:"table_number,omitempty"`
	CustomerName    string               `json:"customer_name,omitempty"`
	CustomerPhone   string               `json:"customer_phone,omitempty"`
	CustomerAddress string               `json:"customer_address,omitempty"`
	Subtotal        *decimal.Decimal     `json:"subtotal,omitempty"`
	Discount        decimal.Decimal      `json:"discount"`
	DeliveryFee     decimal.Decimal      `json:"delivery_fee"`
	Total           *decimal.Decimal     `json:"total,omitempty"`
	PaymentMethod   models.PaymentMethod `json:"payment_method"`
	Items           []SaleItemRequest    `json:"items"`
	Note            string               `json:"note,omitempty"`
	HeldOrderID     *int64               `json:"held_order_id,omitempty"`
	IdempotencyKey  string               `json:"-"`
}

func (r *CreateSaleRequest) validate() error {
	if !r.OrderType.Valid() {
		return apperr.Validation("invalid order type %q", r.OrderType)
	}
	if r.OrderType == models.OrderTypeDineIn && strings.TrimSpace(r.TableNumber) == "" {
		return apperr.Validation("table_number is required for dine-in orders")
	}
	if r.OrderType != models.OrderTypeDineIn && r.TableNumber != "" {
		return apperr.Validation("table_number is only allowed for dine-in orders")
	}
	if !r.PaymentMethod.Valid() {
		return apperr.Validation("invalid payment method %q", r.PaymentMethod)
	}
	if len(r.Items) == 0 {
		return apperr.Validation("a sale needs at least one item")
	}
	if r.Discount.IsNegative() || r.DeliveryFee.IsNegative() {
		return apperr.Validation("discount and delivery_fee must not be negative")
	}
	if (r.Subtotal != nil && r.Subtotal.IsNegative()) || (r.Total != nil && r.Total.IsNegative()) {
		return apperr.Validation("subtotal and total must not be negative")
	}
	for i, item := range r.Items {
		if item.ProductID <= 0 {
			return apperr.Validation("item %d: product_id is required", i+1)
		}
		if !item.Quantity.IsPositive() {
			return apperr.Validation("item %d: quantity must be positive", i+1)
		}
		if !fitsQuantityScale(item.Quantity) {
			return apperr.Validation("item %d: quantity allows at most %d decimals", i+1, quantityScale)
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return apperr.Validation("item %d: unit_price must not be negative", i+1)
		}
	}
	return nil
}

// priceLines builds sale items from locked products and checks the header
// amounts against them
func (s *SaleService) priceLines(req *CreateSaleRequest, products map[int64]*models.Product) ([]models.SaleItem, decimal.Decimal, decimal.Decimal, error) {
	items := make([]models.SaleItem, 0, len(req.Items))
	subtotal := decimal.Zero
	for _, line := range req.Items {
		product := products[line.ProductID]
		if !product.IsActive {
			return nil, decimal.Zero, decimal.Zero, apperr.NotFound("product %d is not active", product.ID)
		}
		price := product.SellPrice
		if line.UnitPrice != nil {
			price = *line.UnitPrice
		}
		lineTotal := line.Quantity.Mul(price).Round(2)
		subtotal = subtotal.Add(lineTotal)
		items = append(items, models.SaleItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   price,
			LineTotal:   lineTotal,
		})
	}

	tolerance := s.opts.TotalTolerance
	if req.Subtotal != nil && req.Subtotal.Sub(subtotal).Abs().GreaterThan(tolerance) {
		return nil, decimal.Zero, decimal.Zero, apperr.Validation(
			"subtotal %s does not match item total %s", req.Subtotal.String(), subtotal.String())
	}

	total := subtotal.Sub(req.Discount).Add(req.DeliveryFee)
	if total.IsNegative() {
		return nil, decimal.Zero, decimal.Zero, apperr.Validation("discount exceeds subtotal plus delivery fee")
	}
	if req.Total != nil && req.Total.Sub(total).Abs().GreaterThan(tolerance) {
		return nil, decimal.Zero, decimal.Zero, apperr.Validation(
			"total %s does not match subtotal - discount + delivery_fee = %s", req.Total.String(), total.String())
	}
	return items, subtotal, total, nil
}

// CreateSale commits a sale. Either every effect of the sale is persisted or
// none is.
func (s *SaleService) CreateSale(ctx context.Context, actor models.Actor, req *CreateSaleRequest) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.CreateSale")
	defer span.End()

	start := time.Now()
	defer func() { util.SaleLatency.Observe(time.Since(start).Seconds()) }()

	if !actor.Authorized {
		util.SalesFailedTotal.WithLabelValues(string(apperr.KindForbidden)).Inc()
		return nil, apperr.Forbidden("create sales")
	}
	if err := req.validate(); err != nil {
		util.SalesFailedTotal.WithLabelValues(string(apperr.KindValidation)).Inc()
		return nil, err
	}

	var (
		sale     *models.Sale
		replayed bool
		effects  afterCommit
	)
	fingerprint, err := requestFingerprint(req)
	if err != nil {
		return nil, err
	}

	err = withRetry(ctx, s.opts.Retry, "create_sale", func() error {
		effects = nil
		replayed = false

		return s.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
			if req.IdempotencyKey != "" {
				existing, err := tx.GetSaleByIdempotencyKey(ctx, actor.ID, req.IdempotencyKey)
				if err != nil {
					return err
				}
				if existing != nil {
					if existing.RequestHash != fingerprint {
						return apperr.Validation("idempotency key %q was already used for a different sale", req.IdempotencyKey)
					}
					sale, replayed = existing, true
					return nil
				}
			}

			var err error
			sale, err = s.createSaleTx(ctx, tx, actor, req, fingerprint, &effects)
			return err
		})
	})
	if err != nil {
		util.SpanError(span, err)
		util.SalesFailedTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		s.logger.Warn("Sale rejected",
			zap.Int64("cashier_id", actor.ID),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}

	if replayed {
		s.logger.Info("Duplicate sale request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("sale_id", sale.ID))
		return s.store.GetSaleWithItems(ctx, sale.ID)
	}

	effects.run(ctx)
	util.SalesCreatedTotal.Inc()
	s.logger.Info("Sale created",
		zap.Int64("sale_id", sale.ID),
		zap.String("receipt_number", sale.ReceiptNumber),
		zap.Int64("cashier_id", sale.CashierID),
		zap.String("total", sale.Total.String()),
	)
	s.publishSaleCreated(ctx, sale)
	return sale, nil
}

// requestFingerprint identifies the content of a sale request so a reused
// idempotency key can be told apart from a retry of the same request.
func requestFingerprint(req *CreateSaleRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode sale request: %w", err)
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, payload).String(), nil
}

func (s *SaleService) createSaleTx(ctx context.Context, tx *store.Tx, actor models.Actor, req *CreateSaleRequest, fingerprint string, effects *afterCommit) (*models.Sale, error) {
	now := time.Now().UTC()

	shift, err := s.shifts.lockOpenTx(ctx, tx, actor.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	items, subtotal, total, err := s.priceLines(req, products)
	if err != nil {
		return nil, err
	}

	businessDay := now.In(s.opts.Location).Format("20060102")
	seq, err := tx.NextReceiptSequence(ctx, businessDay)
	if err != nil {
		return nil, err
	}

	sale := &models.Sale{
		ReceiptNumber:    fmt.Sprintf("%s-%s-%04d", s.opts.ReceiptPrefix, businessDay, seq),
		OrderNumber:      seq,
		CashierID:        actor.ID,
		ShiftID:          shift.ID,
		OrderType:        req.OrderType,
		TableNumber:      strings.TrimSpace(req.TableNumber),
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		CustomerAddress:  req.CustomerAddress,
		Subtotal:         subtotal,
		Discount:         req.Discount,
		DeliveryFee:      req.DeliveryFee,
		Total:            total,
		PaymentMethod:    req.PaymentMethod,
		KitchenStatus:    models.KitchenPending,
		KitchenUpdatedAt: &now,
		IdempotencyKey:   req.IdempotencyKey,
		RequestHash:      fingerprint,
		CreatedAt:        now,
	}
	if err := tx.InsertSale(ctx, sale, req.HeldOrderID); err != nil {
		return nil, err
	}

	for i := range items {
		items[i].SaleID = sale.ID
		if err := tx.InsertSaleItem(ctx, &items[i]); err != nil {
			return nil, err
		}

		_, err := s.ledger.recordTx(ctx, tx, products[items[i].ProductID], MovementInput{
			ProductID:     items[i].ProductID,
			Type:          models.MovementOut,
			Quantity:      items[i].Quantity,
			ReferenceType: models.RefSale,
			ReferenceID:   &sale.ID,
			Reason:        "sale " + sale.ReceiptNumber,
		}, actor.ID, now, effects)
		if err != nil {
			return nil, err
		}
	}
	sale.Items = items

	if sale.OrderType == models.OrderTypeDineIn {
		if _, err := s.tables.occupyTx(ctx, tx, sale.TableNumber, now); err != nil {
			return nil, err
		}
	}

	if err := s.kitchen.initTx(ctx, tx, sale, actor.ID, effects); err != nil {
		return nil, err
	}

	if err := s.shifts.accrueTx(ctx, tx, shift, sale.Total, sale.PaymentMethod); err != nil {
		return nil, err
	}

	if req.HeldOrderID != nil {
		if err := tx.DeleteHeldOrder(ctx, *req.HeldOrderID, actor.ID); err != nil {
			return nil, err
		}
	}
	return sale, nil
}

func (s *SaleService) publishSaleCreated(ctx context.Context, sale *models.Sale) {
	items := make([]models.SaleItemData, 0, len(sale.Items))
	for _, item := range sale.Items {
		items = append(items, models.SaleItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.SaleCreatedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeSaleCreated),
		SaleID:        sale.ID,
		ReceiptNumber: sale.ReceiptNumber,
		OrderNumber:   sale.OrderNumber,
		CashierID:     sale.CashierID,
		ShiftID:       sale.ShiftID,
		OrderType:     sale.OrderType,
		TableNumber:   sale.TableNumber,
		Total:         sale.Total,
		PaymentMethod: sale.PaymentMethod,
		Items:         items,
	}
	if err := s.events.PublishSaleCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish SaleCreated event", zap.Error(err))
	}
}

// GetSale returns a sale with its items
func (s *SaleService) GetSale(ctx context.Context, saleID int64) (*models.Sale, error) {
	return s.store.GetSaleWithItems(ctx, saleID)
}

// VoidSale cancels a sale the kitchen has not finished. Its stock is returned
// through compensating movements and its amount leaves the shift totals.
func (s *SaleService) VoidSale(ctx context.Context, actor models.Actor, saleID int64, reason string) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.VoidSale")
	defer span.End()

	if !actor.Authorized {
		return nil, apperr.Forbidden("void sales")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("a void reason is required")
	}

	var (
		sale    *models.Sale
		effects afterCommit
	)
	err := withRetry(ctx, s.opts.Retry, "void_sale", func() error {
		effects = nil
		return s.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
			var err error
			sale, err = s.voidSaleTx(ctx, tx, actor, saleID, reason, &effects)
			return err
		})
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	effects.run(ctx)
	util.SalesVoidedTotal.Inc()
	s.logger.Info("Sale voided",
		zap.Int64("sale_id", sale.ID),
		zap.Int64("actor_id", actor.ID),
		zap.String("reason", reason),
	)

	event := &models.SaleVoidedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeSaleVoided),
		SaleID:    sale.ID,
		CashierID: sale.CashierID,
		Total:     sale.Total,
		Reason:    reason,
		ActorID:   actor.ID,
	}
	if err := s.events.PublishSaleVoided(ctx, event); err != nil {
		s.logger.Error("Failed to publish SaleVoided event", zap.Error(err))
	}
	return sale, nil
}

func (s *SaleService) voidSaleTx(ctx context.Context, tx *store.Tx, actor models.Actor, saleID int64, reason string, effects *afterCommit) (*models.Sale, error) {
	now := time.Now().UTC()

	sale, err := tx.LockSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Voided {
		return nil, apperr.InvalidTransition("sale %d is already voided", saleID)
	}
	if sale.KitchenStatus.Terminal() {
		return nil, apperr.InvalidTransition("sale %d is %s and can no longer be voided", saleID, sale.KitchenStatus)
	}

	shift, err := tx.LockShift(ctx, sale.ShiftID)
	if err != nil {
		return nil, err
	}
	if err := s.shifts.reverseTx(ctx, tx, shift, sale.Total, sale.PaymentMethod); err != nil {
		return nil, err
	}

	items, err := tx.GetSaleItems(ctx, saleID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		_, err := s.ledger.recordTx(ctx, tx, products[item.ProductID], MovementInput{
			ProductID:     item.ProductID,
			Type:          models.MovementIn,
			Quantity:      item.Quantity,
			ReferenceType: models.RefVoid,
			ReferenceID:   &sale.ID,
			Reason:        "void " + sale.ReceiptNumber + ": " + reason,
		}, actor.ID, now, effects)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.MarkSaleVoided(ctx, saleID, reason, actor.ID, now); err != nil {
		return nil, err
	}
	if err := s.kitchen.transitionTx(ctx, tx, sale, models.KitchenCancelled, actor.ID, now, effects); err != nil {
		return nil, err
	}

	sale.Voided = true
	sale.VoidReason = reason
	sale.VoidedAt = &now
	sale.Items = items
	return sale, nil
}

// HeldOrderView is a held order with its decoded payload
type HeldOrderView struct {
	ID        int64              `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	Order     *CreateSaleRequest `json:"order"`
}

// HoldOrder parks an order for the calling cashier. No stock, table or shift
// state changes.
func (s *SaleService) HoldOrder(ctx context.Context, actor models.Actor, req *CreateSaleRequest) (*models.HeldOrder, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.HoldOrder")
	defer span.End()

	if !actor.Authorized {
		return nil, apperr.Forbidden("hold orders")
	}

	parked := *req
	parked.HeldOrderID = nil
	parked.IdempotencyKey = ""
	payload, err := json.Marshal(&parked)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal held order: %w", err)
	}

	held, err := s.held.Put(ctx, actor.ID, payload)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Order held", zap.Int64("held_order_id", held.ID), zap.Int64("cashier_id", actor.ID))
	return held, nil
}

// ResumeHeldOrder returns the parked order for resubmission. The held order is
// deleted by the CreateSale that references it, so a failed resume loses
// nothing and a completed one cannot be resumed again.
func (s *SaleService) ResumeHeldOrder(ctx context.Context, actor models.Actor, heldOrderID int64) (*CreateSaleRequest, error) {
	if !actor.Authorized {
		return nil, apperr.Forbidden("resume held orders")
	}

	held, err := s.held.Get(ctx, heldOrderID, actor.ID)
	if err != nil {
		return nil, err
	}
	return decodeHeld(held)
}

// DeleteHeldOrder discards a parked order
func (s *SaleService) DeleteHeldOrder(ctx context.Context, actor models.Actor, heldOrderID int64) error {
	if !actor.Authorized {
		return apperr.Forbidden("delete held orders")
	}
	return s.held.Delete(ctx, heldOrderID, actor.ID)
}

// ListHeldOrders returns the calling cashier's parked orders
func (s *SaleService) ListHeldOrders(ctx context.Context, actor models.Actor) ([]HeldOrderView, error) {
	held, err := s.held.ListByCashier(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	views := make([]HeldOrderView, 0, len(held))
	for i := range held {
		order, err := decodeHeld(&held[i])
		if err != nil {
			return nil, err
		}
		views = append(views, HeldOrderView{ID: held[i].ID, CreatedAt: held[i].CreatedAt, Order: order})
	}
	return views, nil
}

func decodeHeld(held *models.HeldOrder) (*CreateSaleRequest, error) {
	var req CreateSaleRequest
	if err := json.Unmarshal(held.Payload, &req); err != nil {
		return nil, fmt.Errorf("failed to decode held order %d: %w", held.ID, err)
	}
	id := held.ID
	req.HeldOrderID = &id
	return &req, nil
}
