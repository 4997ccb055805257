// Package cartsync keeps a client-side cart (a guest session or an offline device) and reconciles it
// with the server cart through CartService.Merge. The larger quantity wins per product and the
// server clamps to stock, so Sync never loses units the customer added on either side.
package cartsync

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/karimtraders/grocery/internal/services"
)

// Remote is the server half of the merge.
type Remote interface {
	Merge(ctx context.Context, userID string, lines []services.CartMergeLine) (services.Cart, error)
}

// RemoteFunc adapts a function to Remote.
type RemoteFunc func(ctx context.Context, userID string, lines []services.CartMergeLine) (services.Cart, error)

// Merge calls f.
func (f RemoteFunc) Merge(ctx context.Context, userID string, lines []services.CartMergeLine) (services.Cart, error) {
	return f(ctx, userID, lines)
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	lines   map[string]int
	version uint64
	synced  services.Cart
	hasView bool
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{lines: make(map[string]int)}
}

// Set stores qty for productID. A quantity of zero or less removes the line.
func (c *Cache) Set(productID string, qty int) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if qty <= 0 {
		delete(c.lines, productID)
	} else {
		c.lines[productID] = qty
	}
	c.version++
}

// Remove drops productID. Only the local copy changes; a line still present on the server comes
// back on the next Sync.
func (c *Cache) Remove(productID string) {
	c.Set(productID, 0)
}

// Lines returns the local lines ordered by product id.
func (c *Cache) Lines() []services.CartMergeLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Len reports the number of local lines.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Synced returns the priced cart from the last successful Sync.
func (c *Cache) Synced() (services.Cart, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced, c.hasView
}

// Sync pushes the local lines to remote for userID and replaces the local view with the server
// result. Lines the server marks unavailable are dropped locally. Edits made while the call is in
// flight are kept, merged with the server quantities on the same max rule. The remote call runs
// without holding the lock.
func (c *Cache) Sync(ctx context.Context, remote Remote, userID string) (services.Cart, error) {
	if remote == nil {
		return services.Cart{}, errors.New("cartsync: remote is required")
	}
	if strings.TrimSpace(userID) == "" {
		return services.Cart{}, errors.New("cartsync: user id is required")
	}

	c.mu.Lock()
	lines := c.snapshotLocked()
	started := c.version
	c.mu.Unlock()

	cart, err := remote.Merge(ctx, userID, lines)
	if err != nil {
		return services.Cart{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[string]int, len(cart.Items))
	for _, item := range cart.Items {
		if item.Unavailable || item.Quantity <= 0 {
			continue
		}
		next[item.ProductID] = item.Quantity
	}
	if c.version != started {
		for id, qty := range c.lines {
			next[id] = max(next[id], qty)
		}
	}
	c.lines = next
	c.synced = cart
	c.hasView = true
	return cart, nil
}

func (c *Cache) snapshotLocked() []services.CartMergeLine {
	out := make([]services.CartMergeLine, 0, len(c.lines))
	for id, qty := range c.lines {
		out = append(out, services.CartMergeLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
