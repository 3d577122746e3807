package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/catalog"
	"github.com/example/ec-checkout/internal/domain/aggregate"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/keylock"
	"go.uber.org/zap"
)

const AggregateType = "Cart"

var (
	ErrInvalidQuantity = apperr.Validation("INVALID_QUANTITY", "quantity must be positive")
	ErrInvalidVariant  = apperr.Validation("INVALID_VARIANT", "variant_id is required")
	ErrItemNotInCart   = apperr.NotFound("ITEM_NOT_IN_CART", "variant is not in the cart")
)

type CartItem struct {
	ProductID string    `json:"product_id"`
	VariantID string    `json:"variant_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

type Cart struct {
	ID          string              `json:"id"`
	CustomerID  string              `json:"customer_id"`
	Items       map[string]CartItem `json:"items"` // variantID -> item
	LastUpdated time.Time           `json:"last_updated"`
	Version     int                 `json:"version"`
}

func (c *Cart) GetID() string    { return c.ID }
func (c *Cart) GetVersion() int  { return c.Version }
func (c *Cart) SetVersion(v int) { c.Version = v }

func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

// SortedItems returns the items in the order they were first added.
func (c *Cart) SortedItems() []CartItem {
	items := make([]CartItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].AddedAt.Equal(items[j].AddedAt) {
			return items[i].VariantID < items[j].VariantID
		}
		return items[i].AddedAt.Before(items[j].AddedAt)
	})
	return items
}

// CartID returns the aggregate id of a customer's cart.
func CartID(customerID string) string {
	return "cart-" + customerID
}

func newCart(customerID string) *Cart {
	return &Cart{
		ID:         CartID(customerID),
		CustomerID: customerID,
		Items:      make(map[string]CartItem),
	}
}

// ApplyEvent applies a single event to the cart state
func (c *Cart) ApplyEvent(event store.Event) error {
	if c.Items == nil {
		c.Items = make(map[string]CartItem)
	}
	switch event.EventType {
	case EventItemAdded:
		var data ItemAddedToCart
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.ID = data.CartID
		c.CustomerID = data.CustomerID
		if existing, ok := c.Items[data.VariantID]; ok {
			existing.Quantity += data.Quantity
			c.Items[data.VariantID] = existing
		} else {
			c.Items[data.VariantID] = CartItem{
				ProductID: data.ProductID,
				VariantID: data.VariantID,
				Quantity:  data.Quantity,
				AddedAt:   data.AddedAt,
			}
		}
		c.LastUpdated = data.AddedAt
	case EventQuantityUpdated:
		var data CartItemQuantityUpdated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		if item, ok := c.Items[data.VariantID]; ok {
			item.Quantity = data.Quantity
			c.Items[data.VariantID] = item
		}
		c.LastUpdated = data.UpdatedAt
	case EventItemRemoved:
		var data ItemRemovedFromCart
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		delete(c.Items, data.VariantID)
		c.LastUpdated = data.RemovedAt
	case EventCartCleared:
		var data CartCleared
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.Items = make(map[string]CartItem)
		c.LastUpdated = data.ClearedAt
	}
	c.Version = event.Version
	return nil
}

type Service struct {
	eventStore store.EventStoreInterface
	catalog    catalog.Reader
	locks      *keylock.Locker
	logger     *zap.Logger
}

// NewService wires the cart. locks must be the same Locker the checkout uses
// so cart edits and order creation for one customer never interleave.
func NewService(es store.EventStoreInterface, c catalog.Reader, locks *keylock.Locker, logger *zap.Logger) *Service {
	return &Service{
		eventStore: es,
		catalog:    c,
		locks:      locks,
		logger:     logger.Named("cart"),
	}
}

// Get returns the customer's cart; a customer who never added anything gets
// an empty one.
func (s *Service) Get(ctx context.Context, customerID string) (*Cart, error) {
	c, found, err := aggregate.Load(ctx, s.eventStore, CartID(customerID), func() *Cart {
		return newCart(customerID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if !found {
		return newCart(customerID), nil
	}
	return c, nil
}

func (s *Service) AddItem(ctx context.Context, customerID, variantID string, quantity int) (*Cart, error) {
	if variantID == "" {
		return nil, ErrInvalidVariant
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	return s.mutate(ctx, customerID, func(c *Cart) (string, any, error) {
		v, _, err := catalog.SellableVariant(ctx, s.catalog, variantID)
		if err != nil {
			return "", nil, err
		}
		return EventItemAdded, ItemAddedToCart{
			CartID:     c.ID,
			CustomerID: customerID,
			ProductID:  v.ProductID,
			VariantID:  variantID,
			Quantity:   quantity,
			AddedAt:    time.Now().UTC(),
		}, nil
	})
}

// UpdateQuantity sets the quantity of a line. Zero or less removes it.
func (s *Service) UpdateQuantity(ctx context.Context, customerID, variantID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, customerID, variantID)
	}
	if variantID == "" {
		return nil, ErrInvalidVariant
	}

	return s.mutate(ctx, customerID, func(c *Cart) (string, any, error) {
		if _, _, err := catalog.SellableVariant(ctx, s.catalog, variantID); err != nil {
			return "", nil, err
		}
		if _, ok := c.Items[variantID]; !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrItemNotInCart, variantID)
		}
		return EventQuantityUpdated, CartItemQuantityUpdated{
			CartID:     c.ID,
			CustomerID: customerID,
			VariantID:  variantID,
			Quantity:   quantity,
			UpdatedAt:  time.Now().UTC(),
		}, nil
	})
}

// RemoveItem drops a line. The variant only has to exist: a line whose
// variant was deactivated can still be removed.
func (s *Service) RemoveItem(ctx context.Context, customerID, variantID string) (*Cart, error) {
	if variantID == "" {
		return nil, ErrInvalidVariant
	}

	return s.mutate(ctx, customerID, func(c *Cart) (string, any, error) {
		if _, err := s.catalog.GetVariant(ctx, variantID); err != nil {
			return "", nil, err
		}
		if _, ok := c.Items[variantID]; !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrItemNotInCart, variantID)
		}
		return EventItemRemoved, ItemRemovedFromCart{
			CartID:     c.ID,
			CustomerID: customerID,
			VariantID:  variantID,
			RemovedAt:  time.Now().UTC(),
		}, nil
	})
}

// Clear empties the cart. Clearing an empty cart writes nothing.
func (s *Service) Clear(ctx context.Context, customerID string) (*Cart, error) {
	unlock, err := s.locks.Lock(ctx, customerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if err := s.ClearLoaded(ctx, c, ""); err != nil {
		return nil, err
	}
	return c, nil
}

// ClearLoaded clears a cart the caller already loaded while holding the
// customer's lock. The append is pinned to c's version, so an edit that
// slipped in from another process fails it with store.ErrConcurrencyConflict.
func (s *Service) ClearLoaded(ctx context.Context, c *Cart, orderNumber string) error {
	if c.IsEmpty() {
		return nil
	}
	event := CartCleared{
		CartID:      c.ID,
		CustomerID:  c.CustomerID,
		OrderNumber: orderNumber,
		ClearedAt:   time.Now().UTC(),
	}
	if _, err := aggregate.Append(ctx, s.eventStore, c, AggregateType, EventCartCleared, event); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	aggregate.Snapshot(ctx, s.eventStore, c, AggregateType, s.logger)
	return nil
}

// mutate runs one read-modify-append cycle under the customer's lock.
func (s *Service) mutate(ctx context.Context, customerID string, decide func(*Cart) (string, any, error)) (*Cart, error) {
	unlock, err := s.locks.Lock(ctx, customerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}

	eventType, data, err := decide(c)
	if err != nil {
		return nil, err
	}

	if _, err := aggregate.Append(ctx, s.eventStore, c, AggregateType, eventType, data); err != nil {
		return nil, err
	}
	aggregate.Snapshot(ctx, s.eventStore, c, AggregateType, s.logger)
	return c, nil
}
