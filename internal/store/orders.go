package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rosina/pkg/contracts/domain"
)

const orderColumns = `id, provider, provider_session_id, buyer_email, cart, status,
keys_encrypted, keys_count, stripe_session, coinbase_charge,
created_at, fulfilled_at, emailed_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var (
		o        domain.Order
		cartJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.Provider, &o.ProviderSessionID, &o.BuyerEmail, &cartJSON, &o.Status,
		&o.KeysEncrypted, &o.KeysCount, &o.StripeSession, &o.CoinbaseCharge,
		&o.CreatedAt, &o.FulfilledAt, &o.EmailedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if len(cartJSON) > 0 {
		if err := json.Unmarshal(cartJSON, &o.Cart); err != nil {
			return nil, fmt.Errorf("decode cart: %w", err)
		}
	}
	return &o, nil
}

// GetOrderBySession loads the order for (provider, provider_session_id).
func (s *Store) GetOrderBySession(ctx context.Context, provider domain.Provider, sessionID string) (*domain.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+`
FROM checkout_orders
WHERE provider = $1 AND provider_session_id = $2`, provider, sessionID)
	return scanOrder(row)
}

// GetOrderByID loads an order by its primary key.
func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+`
FROM checkout_orders
WHERE id = $1`, id)
	return scanOrder(row)
}

// CreateOrder inserts a new order in the created state and returns it with
// the generated id. Racing inserts for the same session collapse onto the
// existing row.
func (s *Store) CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	cartJSON, err := json.Marshal(order.Cart)
	if err != nil {
		return nil, fmt.Errorf("encode cart: %w", err)
	}

	tag, err := s.db.Exec(ctx, `INSERT INTO checkout_orders (provider, provider_session_id, buyer_email, cart, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (provider, provider_session_id) DO NOTHING`,
		order.Provider, order.ProviderSessionID, order.BuyerEmail, cartJSON, domain.OrderStatusCreated)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.DebugContext(ctx, "order already exists",
			"provider", order.Provider,
			"session_id", order.ProviderSessionID,
		)
	}
	return s.GetOrderBySession(ctx, order.Provider, order.ProviderSessionID)
}

// FulfillUpdate carries the write-once fulfillment columns.
type FulfillUpdate struct {
	BuyerEmail     string
	KeysEncrypted  []byte
	KeysCount      int
	StripeSession  map[string]interface{}
	CoinbaseCharge map[string]interface{}
}

// SetOrderFulfilled marks the order fulfilled and stores the encrypted key
// bundle. The keys_encrypted IS NULL guard makes the write idempotent: a
// racing second fulfillment loses and reports ErrNotFound, and the caller
// re-reads the winner's bundle.
func (s *Store) SetOrderFulfilled(ctx context.Context, provider domain.Provider, sessionID string, upd FulfillUpdate) error {
	tag, err := s.db.Exec(ctx, `UPDATE checkout_orders
SET buyer_email = $3,
    status = $4,
    keys_encrypted = $5,
    keys_count = $6,
    stripe_session = COALESCE($7, stripe_session),
    coinbase_charge = COALESCE($8, coinbase_charge),
    fulfilled_at = now()
WHERE provider = $1 AND provider_session_id = $2 AND keys_encrypted IS NULL AND fulfilled_at IS NULL`,
		provider, sessionID,
		upd.BuyerEmail, domain.OrderStatusFulfilled, upd.KeysEncrypted, upd.KeysCount,
		upd.StripeSession, upd.CoinbaseCharge)
	if err != nil {
		return fmt.Errorf("set order fulfilled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOrderEmailed records successful key delivery.
func (s *Store) SetOrderEmailed(ctx context.Context, provider domain.Provider, sessionID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE checkout_orders
SET emailed_at = $3, status = $4
WHERE provider = $1 AND provider_session_id = $2`,
		provider, sessionID, at, domain.OrderStatusEmailed)
	if err != nil {
		return fmt.Errorf("set order emailed: %w", err)
	}
	return nil
}

// ProductKeyPrefixes returns the key_prefix for each known product id.
// Unknown ids are simply absent from the result.
func (s *Store) ProductKeyPrefixes(ctx context.Context, productIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `SELECT id, key_prefix FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("load product prefixes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, prefix string
		if err := rows.Scan(&id, &prefix); err != nil {
			return nil, err
		}
		out[id] = prefix
	}
	return out, rows.Err()
}
