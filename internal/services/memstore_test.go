package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/repositories"
)

// memError implements repositories.RepositoryError for the in-memory store.
type memError struct {
	msg      string
	notFound bool
	conflict bool
}

func (e *memError) Error() string       { return e.msg }
func (e *memError) IsNotFound() bool    { return e.notFound }
func (e *memError) IsConflict() bool    { return e.conflict }
func (e *memError) IsUnavailable() bool { return false }

func memNotFound(kind, id string) error {
	return &memError{msg: fmt.Sprintf("%s %s not found", kind, id), notFound: true}
}

func memConflict(kind, id string) error {
	return &memError{msg: fmt.Sprintf("%s %s already exists", kind, id), conflict: true}
}

type memState struct {
	products      map[string]Product
	carts         map[string]map[string]CartItem
	coupons       map[string]Coupon
	wallets       map[string]Wallet
	walletTxns    map[string]WalletTransaction
	addresses     map[string]Address
	orders        map[string]Order
	logs          map[string]WebhookLog
	events        map[string]string
	notifications map[string]Notification
	counters      map[string]int64
}

func (s memState) clone() memState {
	carts := make(map[string]map[string]CartItem, len(s.carts))
	for uid, lines := range s.carts {
		carts[uid] = maps.Clone(lines)
	}
	return memState{
		products:      maps.Clone(s.products),
		carts:         carts,
		coupons:       maps.Clone(s.coupons),
		wallets:       maps.Clone(s.wallets),
		walletTxns:    maps.Clone(s.walletTxns),
		addresses:     maps.Clone(s.addresses),
		orders:        maps.Clone(s.orders),
		logs:          maps.Clone(s.logs),
		events:        maps.Clone(s.events),
		notifications: maps.Clone(s.notifications),
		counters:      maps.Clone(s.counters),
	}
}

// memStore is a transactional in-memory implementation of every repository. RunInTx serialises
// units of work and restores the previous state when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	memState

	rules domain.PricingRules
	now   func() time.Time
	// failOn makes the named write fail, e.g. "notifications.insert".
	failOn map[string]error
}

type memTxKey struct{}

func newMemStore(rules domain.PricingRules) *memStore {
	return &memStore{
		memState: memState{
			products:      map[string]Product{},
			carts:         map[string]map[string]CartItem{},
			coupons:       map[string]Coupon{},
			wallets:       map[string]Wallet{},
			walletTxns:    map[string]WalletTransaction{},
			addresses:     map[string]Address{},
			orders:        map[string]Order{},
			logs:          map[string]WebhookLog{},
			events:        map[string]string{},
			notifications: map[string]Notification{},
			counters:      map[string]int64{},
		},
		rules:  rules,
		now:    func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) },
		failOn: map[string]error{},
	}
}

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.memState.clone()
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.memState = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) fail(op string) error {
	if err, ok := m.failOn[op]; ok {
		return err
	}
	return nil
}

func (m *memStore) Products() repositories.ProductRepository           { return memProducts{m} }
func (m *memStore) Carts() repositories.CartRepository                 { return memCarts{m} }
func (m *memStore) Coupons() repositories.CouponRepository             { return memCoupons{m} }
func (m *memStore) Wallets() repositories.WalletRepository             { return memWallets{m} }
func (m *memStore) Addresses() repositories.AddressRepository          { return memAddresses{m} }
func (m *memStore) Orders() repositories.OrderRepository               { return memOrders{m} }
func (m *memStore) WebhookLogs() repositories.WebhookLogRepository     { return memLogs{m} }
func (m *memStore) WebhookEvents() repositories.WebhookEventRepository { return memEvents{m} }
func (m *memStore) Notifications() repositories.NotificationRepository { return memNotifications{m} }
func (m *memStore) Counters() repositories.CounterRepository           { return memCounters{m} }

// seed helpers

func (m *memStore) putProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.StockStatus == "" {
		p.StockStatus = m.rules.StockStatusFor(p.Stock)
	}
	m.products[p.ID] = p
}

func (m *memStore) putCartLine(userID, productID string, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.carts[userID] == nil {
		m.carts[userID] = map[string]CartItem{}
	}
	m.carts[userID][productID] = CartItem{UserID: userID, ProductID: productID, Quantity: qty, AddedAt: m.now(), UpdatedAt: m.now()}
}

func (m *memStore) putAddress(a Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses[a.UserID+"/"+a.ID] = a
}

func (m *memStore) putCoupon(c Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[c.ID] = c
}

func (m *memStore) putWallet(userID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[userID] = Wallet{UserID: userID, Currency: m.rules.Currency, Balance: balance}
}

func (m *memStore) putOrder(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *memStore) product(id string) Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id]
}

func (m *memStore) order(id string) Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *memStore) wallet(userID string) Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[userID]
}

func (m *memStore) coupon(id string) Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[id]
}

func (m *memStore) cartSize(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.carts[userID])
}

func (m *memStore) webhookLog(id string) WebhookLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs[id]
}

func (m *memStore) txnsFor(userID string) []WalletTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WalletTransaction
	for _, t := range m.walletTxns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) notificationsFor(userID string) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type memProducts struct{ m *memStore }

func (r memProducts) FindByID(_ context.Context, id string) (Product, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.products[id]
	if !ok {
		return Product{}, memNotFound("product", id)
	}
	return p, nil
}

func (r memProducts) FindByIDs(_ context.Context, ids []string) (map[string]Product, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := r.m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r memProducts) DecrementStock(_ context.Context, id string, qty int) (domain.StockStatus, error) {
	return r.adjust(id, -qty)
}

func (r memProducts) IncrementStock(_ context.Context, id string, qty int) (domain.StockStatus, error) {
	return r.adjust(id, qty)
}

func (r memProducts) adjust(id string, delta int) (domain.StockStatus, error) {
	if err := r.m.fail("products.adjust"); err != nil {
		return "", err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.products[id]
	if !ok {
		return "", repositories.NewStockError(repositories.StockErrorProductNotFound, id, -delta, 0)
	}
	if p.Stock+delta < 0 {
		return "", repositories.NewStockError(repositories.StockErrorInsufficient, id, -delta, p.Stock)
	}
	p.Stock += delta
	p.StockStatus = r.m.rules.StockStatusFor(p.Stock)
	r.m.products[id] = p
	return p.StockStatus, nil
}

type memCarts struct{ m *memStore }

func (r memCarts) ListItems(_ context.Context, userID string) ([]CartItem, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	items := slices.Collect(maps.Values(r.m.carts[userID]))
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func (r memCarts) UpsertItem(_ context.Context, item CartItem) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.carts[item.UserID] == nil {
		r.m.carts[item.UserID] = map[string]CartItem{}
	}
	r.m.carts[item.UserID][item.ProductID] = item
	return nil
}

func (r memCarts) DeleteItem(_ context.Context, userID, productID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.carts[userID], productID)
	return nil
}

func (r memCarts) DeleteItems(_ context.Context, userID string, productIDs []string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, id := range productIDs {
		delete(r.m.carts[userID], id)
	}
	return nil
}

type memCoupons struct{ m *memStore }

func (r memCoupons) FindByCode(_ context.Context, code string) (Coupon, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	folded := strings.ToUpper(strings.TrimSpace(code))
	for _, c := range r.m.coupons {
		if c.Code == folded {
			return c, nil
		}
	}
	return Coupon{}, memNotFound("coupon", folded)
}

func (r memCoupons) IncrementUsage(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.coupons[id]
	if !ok {
		return memNotFound("coupon", id)
	}
	c.UsedCount++
	r.m.coupons[id] = c
	return nil
}

type memWallets struct{ m *memStore }

func (r memWallets) Get(_ context.Context, userID string) (Wallet, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	w, ok := r.m.wallets[userID]
	if !ok {
		return Wallet{UserID: userID, Currency: r.m.rules.Currency}, nil
	}
	return w, nil
}

func (r memWallets) Debit(ctx context.Context, userID string, amount int64) (Wallet, error) {
	return r.apply(userID, -amount)
}

func (r memWallets) Credit(ctx context.Context, userID string, amount int64) (Wallet, error) {
	return r.apply(userID, amount)
}

func (r memWallets) apply(userID string, delta int64) (Wallet, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	w, ok := r.m.wallets[userID]
	if !ok {
		w = Wallet{UserID: userID, Currency: r.m.rules.Currency}
	}
	if w.Balance+delta < 0 {
		return Wallet{}, &repositories.WalletError{UserID: userID, Requested: -delta, Balance: w.Balance}
	}
	w.Balance += delta
	r.m.wallets[userID] = w
	return w, nil
}

func (r memWallets) AppendTransaction(_ context.Context, txn WalletTransaction) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.walletTxns[txn.ID]; ok {
		return memConflict("wallet transaction", txn.ID)
	}
	r.m.walletTxns[txn.ID] = txn
	return nil
}

func (r memWallets) ListTransactions(_ context.Context, userID string, limit int) ([]WalletTransaction, error) {
	txns := r.m.txnsFor(userID)
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

type memAddresses struct{ m *memStore }

func (r memAddresses) FindByID(_ context.Context, userID, addressID string) (Address, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.addresses[userID+"/"+addressID]
	if !ok {
		return Address{}, memNotFound("address", addressID)
	}
	return a, nil
}

func (r memAddresses) List(_ context.Context, userID string) ([]Address, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []Address
	for _, a := range r.m.addresses {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

type memOrders struct{ m *memStore }

func (r memOrders) Insert(_ context.Context, order Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.orders[order.ID]; ok {
		return memConflict("order", order.ID)
	}
	r.m.orders[order.ID] = order
	return nil
}

func (r memOrders) Update(_ context.Context, order Order) error {
	if err := r.m.fail("orders.update"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.orders[order.ID] = order
	return nil
}

func (r memOrders) FindByID(_ context.Context, id string) (Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.orders[id]
	if !ok {
		return Order{}, memNotFound("order", id)
	}
	return o, nil
}

func (r memOrders) List(_ context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []Order
	for _, o := range r.m.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, o.Status) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return domain.CursorPage[Order]{Items: out}, nil
}

type memLogs struct{ m *memStore }

func (r memLogs) Insert(_ context.Context, log WebhookLog) error {
	if err := r.m.fail("logs.insert"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.logs[log.ID]; ok {
		return memConflict("webhook log", log.ID)
	}
	r.m.logs[log.ID] = log
	return nil
}

func (r memLogs) Update(_ context.Context, logID string, update repositories.WebhookLogUpdate) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	log, ok := r.m.logs[logID]
	if !ok {
		return memNotFound("webhook log", logID)
	}
	if update.Status != "" {
		log.Status = update.Status
	}
	if update.EventType != "" {
		log.EventType = update.EventType
	}
	if update.EventID != "" {
		log.EventID = update.EventID
	}
	if update.Outcome != "" {
		log.Outcome = update.Outcome
	}
	log.Error = update.Error
	if !update.ProcessedAt.IsZero() {
		at := update.ProcessedAt
		log.ProcessedAt = &at
	}
	if update.Attempts > 0 {
		log.Attempts = update.Attempts
	}
	r.m.logs[logID] = log
	return nil
}

func (r memLogs) FindByID(_ context.Context, logID string) (WebhookLog, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	log, ok := r.m.logs[logID]
	if !ok {
		return WebhookLog{}, memNotFound("webhook log", logID)
	}
	return log, nil
}

type memEvents struct{ m *memStore }

func (r memEvents) Claim(_ context.Context, provider, eventID, logID string, _ time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := provider + ":" + eventID
	if _, ok := r.m.events[key]; ok {
		return memConflict("webhook event", key)
	}
	r.m.events[key] = logID
	return nil
}

type memNotifications struct{ m *memStore }

func (r memNotifications) Insert(_ context.Context, n Notification) error {
	if err := r.m.fail("notifications.insert"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.notifications[n.ID] = n
	return nil
}

func (r memNotifications) ListByUser(_ context.Context, userID string, _ Pagination) (domain.CursorPage[Notification], error) {
	return domain.CursorPage[Notification]{Items: r.m.notificationsFor(userID)}, nil
}

func (r memNotifications) MarkRead(_ context.Context, userID, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n, ok := r.m.notifications[id]
	if !ok || n.UserID != userID {
		return memNotFound("notification", id)
	}
	n.IsRead = true
	r.m.notifications[id] = n
	return nil
}

type memCounters struct{ m *memStore }

func (r memCounters) Next(_ context.Context, id string, step int64) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.counters[id] += step
	return r.m.counters[id], nil
}

// sequentialIDs returns an IDGenerator producing 0001, 0002, ...
func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%04d", n)
	}
}

var errInjected = errors.New("injected failure")
