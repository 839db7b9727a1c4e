package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"restaurant-pos/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

//go:embed scripts/set_stock.lua
var setStockScript string

const kitchenBoardKey = "kitchen:board"

// ErrCacheMiss is returned when a key is absent from the cache
var ErrCacheMiss = fmt.Errorf("cache miss")

type Client struct {
	rdb         *redis.Client
	stockScript *redis.Script
	boardTTL    time.Duration
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int, boardTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		stockScript: redis.NewScript(setStockScript),
		boardTTL:    boardTTL,
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// SetStockLevel mirrors a product quantity. version is the id of the latest
// movement applied; stale writes from slower goroutines are dropped by the script.
func (c *Client) SetStockLevel(ctx context.Context, productID int64, quantity decimal.Decimal, version int64) (bool, error) {
	result, err := c.stockScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity.String(), version).Result()
	if err != nil {
		return false, fmt.Errorf("set stock script failed: %w", err)
	}

	applied, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return applied == 1, nil
}

// GetStockLevel returns the mirrored quantity and its version
func (c *Client) GetStockLevel(ctx context.Context, productID int64) (decimal.Decimal, int64, error) {
	result, err := c.rdb.HGetAll(ctx, stockKey(productID)).Result()
	if err != nil {
		return decimal.Zero, 0, err
	}
	if len(result) == 0 {
		return decimal.Zero, 0, ErrCacheMiss
	}

	quantity, err := decimal.NewFromString(result["quantity"])
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("corrupt stock entry for product %d: %w", productID, err)
	}
	var version int64
	fmt.Sscanf(result["version"], "%d", &version)

	return quantity, version, nil
}

// SetKitchenBoard stores the kitchen board snapshot with the configured TTL
func (c *Client) SetKitchenBoard(ctx context.Context, tickets []models.KitchenTicket) error {
	data, err := json.Marshal(tickets)
	if err != nil {
		return fmt.Errorf("failed to marshal kitchen board: %w", err)
	}
	return c.rdb.Set(ctx, kitchenBoardKey, data, c.boardTTL).Err()
}

// GetKitchenBoard returns the cached kitchen board or ErrCacheMiss
func (c *Client) GetKitchenBoard(ctx context.Context) ([]models.KitchenTicket, error) {
	data, err := c.rdb.Get(ctx, kitchenBoardKey).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var tickets []models.KitchenTicket
	if err := json.Unmarshal(data, &tickets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kitchen board: %w", err)
	}
	return tickets, nil
}

// InvalidateKitchenBoard drops the snapshot so the next read goes to the database
func (c *Client) InvalidateKitchenBoard(ctx context.Context) error {
	return c.rdb.Del(ctx, kitchenBoardKey).Err()
}
