package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persistence keys. Each holds one JSON snapshot of the entity.
const (
	keyUser     = "user"
	keyCart     = "cart"
	keyWishlist = "wishlist"
	keyOrders   = "orders"
	keyDarkMode = "darkMode"
	keyUsers    = "users"

	// keyProductsDeprecated held a persisted catalog copy in an earlier
	// scheme; it is deleted on every startup so catalog edits always win.
	keyProductsDeprecated = "products"
)

var (
	// ErrNotFound reports a mutation or lookup against an unknown id. The
	// store state is untouched when it is returned.
	ErrNotFound = errors.New("not found")

	// ErrInvalidQuantity reports a cart quantity below 1.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

const defaultNotificationTTL = 3 * time.Second

// Snapshot is the full state passed to subscribers on every mutation.
// Slices are copies; treat nested maps and slices as read-only.
type Snapshot struct {
	User          *User          `json:"user"`
	Cart          []CartLine     `json:"cart"`
	Wishlist      []Product      `json:"wishlist"`
	Products      []Product      `json:"products"`
	Filters       Filters        `json:"filters"`
	Orders        []Order        `json:"orders"`
	Notifications []Notification `json:"notifications"`
	DarkMode      bool           `json:"dark_mode"`
}

// ProductUpdate is a partial catalog edit; nil fields are left untouched.
type ProductUpdate struct {
	Name        *string            `json:"name"`
	Category    *string            `json:"category"`
	Price       *float64           `json:"price"`
	Image       *string            `json:"image"`
	Sizes       *[]string          `json:"sizes"`
	Stock       *int               `json:"stock"`
	Description *string            `json:"description"`
	Specs       *map[string]string `json:"specs"`
}

// Store is the single source of truth for session and catalog state. All
// mutations go through it; subscribers learn of changes through Subscribe.
// Safe for concurrent use; subscriber callbacks run without the internal
// lock held, so they may call back into the store.
type Store struct {
	mu      sync.Mutex
	storage Storage

	user          *User
	cart          []CartLine
	wishlist      []Product
	products      []Product
	filters       Filters
	orders        []Order
	notifications []Notification
	darkMode      bool

	subs      map[int64]func(Snapshot)
	subOrder  []int64
	nextSubID int64

	// high-water mark for product ids; never lowered, so deleted ids are
	// not recycled
	lastProductID int64

	nextNotifID int64
	notifTTL    time.Duration
	notifTimers map[int64]*time.Timer
}

// NewStore seeds the catalog from the embedded list and restores session
// state from storage. Absent or malformed values fall back to zero values.
func NewStore(storage Storage) (*Store, error) {
	products, err := seedCatalog()
	if err != nil {
		return nil, err
	}
	s := &Store{
		storage:  storage,
		products: products,
		filters: Filters{
			Category:   "all",
			PriceRange: PriceRange{Min: 0, Max: 500},
			SortBy:     SortNewest,
		},
		subs:        make(map[int64]func(Snapshot)),
		notifTTL:    defaultNotificationTTL,
		notifTimers: make(map[int64]*time.Timer),
	}
	for _, p := range products {
		if p.ID > s.lastProductID {
			s.lastProductID = p.ID
		}
	}

	var u User
	if s.restore(keyUser, &u) {
		s.user = &u
	}
	var cart []CartLine
	if s.restore(keyCart, &cart) {
		s.cart = cart
	}
	var wishlist []Product
	if s.restore(keyWishlist, &wishlist) {
		s.wishlist = wishlist
	}
	var orders []Order
	if s.restore(keyOrders, &orders) {
		s.orders = orders
	}
	var dark bool
	if s.restore(keyDarkMode, &dark) {
		s.darkMode = dark
	}

	// stale persisted catalogs from the old scheme confuse debugging
	if err := storage.Delete(keyProductsDeprecated); err != nil {
		log.Printf("delete deprecated %s key: %v", keyProductsDeprecated, err)
	}
	return s, nil
}

// restore reads one key; reports whether dst was populated. Malformed data
// is logged and skipped so a bad snapshot never takes the store down.
func (s *Store) restore(key string, dst interface{}) bool {
	b, found, err := s.storage.Get(key)
	if err != nil {
		log.Printf("restore %s: %v", key, err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		log.Printf("restore %s: malformed, using zero value: %v", key, err)
		return false
	}
	return true
}

func (s *Store) persist(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrStorage, key, err)
	}
	return s.storage.Set(key, b)
}

// ============ SUBSCRIPTIONS ============

// Subscribe registers fn for change notifications and returns its
// deregistration func. Callbacks run synchronously within the mutating
// call, in subscription order, with a full state snapshot.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subOrder = append(s.subOrder, id)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
		for i, v := range s.subOrder {
			if v == id {
				s.subOrder = append(s.subOrder[:i], s.subOrder[i+1:]...)
				break
			}
		}
	}
}

// dispatch notifies every subscriber registered at the start of the pass.
// Subscribers added during the pass are not called; ones removed mid-pass
// that have not yet run are skipped. Never called with the lock held.
func (s *Store) dispatch() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	ids := append([]int64(nil), s.subOrder...)
	s.mu.Unlock()
	for _, id := range ids {
		s.mu.Lock()
		fn, ok := s.subs[id]
		s.mu.Unlock()
		if ok {
			fn(snap)
		}
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Cart:          append([]CartLine(nil), s.cart...),
		Wishlist:      append([]Product(nil), s.wishlist...),
		Products:      append([]Product(nil), s.products...),
		Filters:       s.filters,
		Orders:        append([]Order(nil), s.orders...),
		Notifications: append([]Notification(nil), s.notifications...),
		DarkMode:      s.darkMode,
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

// State returns the current full state, same shape subscribers receive.
func (s *Store) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ============ USER ============

func (s *Store) SetUser(u User) error {
	s.mu.Lock()
	s.user = &u
	err := s.persist(keyUser, u)
	s.mu.Unlock()
	s.dispatch()
	return err
}

// CurrentUser returns a copy of the logged-in user, or nil for a guest.
func (s *Store) CurrentUser() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Logout clears user, cart and wishlist together and persists all three.
func (s *Store) Logout() error {
	s.mu.Lock()
	s.user = nil
	s.cart = nil
	s.wishlist = nil
	err := s.storage.Delete(keyUser)
	if e := s.persist(keyCart, []CartLine{}); err == nil {
		err = e
	}
	if e := s.persist(keyWishlist, []Product{}); err == nil {
		err = e
	}
	s.mu.Unlock()
	s.dispatch()
	return err
}

// ============ CART ============

// AddToCart merges into an existing line for the same (product, size) by
// summing quantities, else appends a new line with a fresh line id.
func (s *Store) AddToCart(p Product, size string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	s.mu.Lock()
	merged := false
	for i := range s.cart {
		if s.cart[i].ProductID == p.ID && s.cart[i].Size == size {
			s.cart[i].Quantity += quantity
			merged = true
			break
		}
	}
	if !merged {
		s.cart = append(s.cart, CartLine{
			LineID:    uuid.NewString(),
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Size:      size,
			Quantity:  quantity,
		})
	}
	err := s.persist(keyCart, s.cart)
	s.pushNotificationLocked(p.Name+" added to cart!", SeveritySuccess)
	s.mu.Unlock()
	s.dispatch()
	return err
}

func (s *Store) RemoveFromCart(lineID string) error {
	s.mu.Lock()
	idx := -1
	for i := range s.cart {
		if s.cart[i].LineID == lineID {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.cart = append(s.cart[:idx], s.cart[idx+1:]...)
	err := s.persist(keyCart, s.cart)
	s.mu.Unlock()
	s.dispatch()
	return err
}

func (s *Store) UpdateCartQuantity(lineID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	s.mu.Lock()
	found := false
	for i := range s.cart {
		if s.cart[i].LineID == lineID {
			s.cart[i].Quantity = quantity
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return ErrNotFound
	}
	err := s.persist(keyCart, s.cart)
	s.mu.Unlock()
	s.dispatch()
	return err
}

func (s *Store) ClearCart() error {
	s.mu.Lock()
	s.cart = nil
	err := s.persist(keyCart, []CartLine{})
	s.mu.Unlock()
	s.dispatch()
	return err
}

func (s *Store) Cart() []CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CartLine(nil), s.cart...)
}

// CartTotal sums unit price times quantity over all lines. Pure.
func (s *Store) CartTotal() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartTotalLocked()
}

func (s *Store) cartTotalLocked() float64 {
	var total float64
	for _, line := range s.cart {
		total += line.UnitPrice * float64(line.Quantity)
	}
	return total
}

// ============ WISHLIST ============

// AddToWishlist is idempotent: a product already present is left alone, no
// error, no notification.
func (s *Store) AddToWishlist(p Product) error {
	s.mu.Lock()
	for _, w := range s.wishlist {
		if w.ID == p.ID {
			s.mu.Unlock()
			return nil
		}
	}
	s.wishlist = append(s.wishlist, p)
	err := s.persist(keyWishlist, s.wishlist)
	s.pushNotificationLocked(p.Name+" added to wishlist!", SeveritySuccess)
	s.mu.Unlock()
	s.dispatch()
	return err
}

func (s *Store) RemoveFromWishlist(productID int64) error {
	s.mu.Lock()
	idx := -1
	for i := range s.wishlist {
		if s.wishlist[i].ID == productID {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.wishlist = append(s.wishlist[:idx], s.wishlist[idx+1:]...)
	err := s.persist(keyWishlist, s.wishlist)
	s.mu.Unlock()
	s.dispatch()
	return err
}

func (s *Store) Wishlist() []Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Product(nil), s.wishlist...)
}

func (s *Store) InWishlist(productID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wishlist {
		if w.ID == productID {
			return true
		}
	}
	return false
}

// ============ CATALOG ============

func (s *Store) Products() []Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Product(nil), s.products...)
}

func (s *Store) ProductByID(id int64) (Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.productByIDLocked(id)
	if p == nil {
		return Product{}, false
	}
	return *p, true
}

func (s *Store) productByIDLocked(id int64) *Product {
	for i := range s.products {
		if s.products[i].ID == id {
			return &s.products[i]
		}
	}
	return nil
}

// CreateProduct assigns max(existing ids, 0)+1 as the id. Ids are never
// recycled, even after deletion. Rating and reviews start at zero.
func (s *Store) CreateProduct(p Product) (Product, error) {
	s.mu.Lock()
	for _, existing := range s.products {
		if existing.ID > s.lastProductID {
			s.lastProductID = existing.ID
		}
	}
	s.lastProductID++
	p.ID = s.lastProductID
	p.Rating = 0
	p.Reviews = 0
	s.products = append(s.products, p)
	s.pushNotificationLocked("Product created successfully!", SeveritySuccess)
	s.mu.Unlock()
	s.dispatch()
	return p, nil
}

func (s *Store) UpdateProduct(id int64, u ProductUpdate) error {
	s.mu.Lock()
	p := s.productByIDLocked(id)
	if p == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Category != nil {
		p.Category = *u.Category
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
	if u.Image != nil {
		p.Image = *u.Image
	}
	if u.Sizes != nil {
		p.Sizes = *u.Sizes
	}
	if u.Stock != nil {
		p.Stock = *u.Stock
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Specs != nil {
		p.Specs = *u.Specs
	}
	s.pushNotificationLocked("Product updated successfully!", SeveritySuccess)
	s.mu.Unlock()
	s.dispatch()
	return nil
}

func (s *Store) DeleteProduct(id int64) error {
	s.mu.Lock()
	idx := -1
	for i := range s.products {
		if s.products[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.products = append(s.products[:idx], s.products[idx+1:]...)
	s.pushNotificationLocked("Product deleted successfully!", SeveritySuccess)
	s.mu.Unlock()
	s.dispatch()
	return nil
}

// FilteredProducts applies, in order: case-insensitive substring search on
// name, exact category match ("all" skips), inclusive price bounds, then a
// stable sort by the active sort key. Operates on a copy; pure.
func (s *Store) FilteredProducts() []Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.filters
	filtered := make([]Product, 0, len(s.products))
	search := strings.ToLower(f.SearchTerm)
	for _, p := range s.products {
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		if f.Category != "all" && p.Category != f.Category {
			continue
		}
		if p.Price < f.PriceRange.Min || p.Price > f.PriceRange.Max {
			continue
		}
		filtered = append(filtered, p)
	}

	switch f.SortBy {
	case SortPriceLow:
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Price < filtered[j].Price })
	case SortPriceHigh:
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Price > filtered[j].Price })
	case SortRating:
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Rating > filtered[j].Rating })
	default: // newest
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].ID > filtered[j].ID })
	}
	return filtered
}

// ============ FILTERS ============

// SetFilters shallow-merges the update into the active filter set. Filter
// state is session-local and not persisted, but subscribers are notified.
func (s *Store) SetFilters(u FilterUpdate) {
	s.mu.Lock()
	if u.SearchTerm != nil {
		s.filters.SearchTerm = *u.SearchTerm
	}
	if u.Category != nil {
		s.filters.Category = *u.Category
	}
	if u.PriceMin != nil {
		s.filters.PriceRange.Min = *u.PriceMin
	}
	if u.PriceMax != nil {
		s.filters.PriceRange.Max = *u.PriceMax
	}
	if u.SortBy != nil {
		s.filters.SortBy = *u.SortBy
	}
	s.mu.Unlock()
	s.dispatch()
}

func (s *Store) Filters() Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// ============ ORDERS ============

// CreateOrder snapshots the current cart, stamps the creation time, clears
// the cart and persists both. Order ids follow max(existing, 0)+1.
func (s *Store) CreateOrder(userID int64, address string) (Order, error) {
	s.mu.Lock()
	var maxID int64
	for _, o := range s.orders {
		if o.ID > maxID {
			maxID = o.ID
		}
	}
	order := Order{
		ID:      maxID + 1,
		UserID:  userID,
		Items:   append([]CartLine(nil), s.cart...),
		Total:   s.cartTotalLocked(),
		Date:    time.Now().UTC(),
		Status:  OrderStatusPending,
		Address: address,
	}
	s.orders = append(s.orders, order)
	s.cart = nil
	err := s.persist(keyOrders, s.orders)
	if e := s.persist(keyCart, []CartLine{}); err == nil {
		err = e
	}
	s.pushNotificationLocked("Order placed successfully!", SeveritySuccess)
	s.mu.Unlock()
	s.dispatch()
	return order, err
}

// UserOrders returns the logged-in user's orders; empty for guests.
func (s *Store) UserOrders() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	var out []Order
	for _, o := range s.orders {
		if o.UserID == s.user.ID {
			out = append(out, o)
		}
	}
	return out
}

func (s *Store) AllOrders() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Order(nil), s.orders...)
}

func (s *Store) UpdateOrderStatus(id int64, status string) error {
	s.mu.Lock()
	found := false
	for i := range s.orders {
		if s.orders[i].ID == id {
			s.orders[i].Status = status
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return ErrNotFound
	}
	err := s.persist(keyOrders, s.orders)
	s.mu.Unlock()
	s.dispatch()
	return err
}

// ============ ANALYTICS ============

// SalesStats aggregates revenue across all orders. Average order value is 0
// when there are no orders.
func (s *Store) SalesStats() SalesStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := SalesStats{
		TotalOrders:   len(s.orders),
		TotalProducts: len(s.products),
	}
	for _, o := range s.orders {
		stats.TotalRevenue += o.Total
	}
	if stats.TotalOrders > 0 {
		stats.AverageOrderValue = stats.TotalRevenue / float64(stats.TotalOrders)
	}
	return stats
}

// TopProducts ranks products by units sold across all orders and returns
// the top 5. A product deleted after being ordered resolves to nil.
func (s *Store) TopProducts() []TopProduct {
	s.mu.Lock()
	defer s.mu.Unlock()

	units := make(map[int64]int)
	for _, o := range s.orders {
		for _, item := range o.Items {
			units[item.ProductID] += item.Quantity
		}
	}
	ids := make([]int64, 0, len(units))
	for id := range units {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if units[ids[i]] != units[ids[j]] {
			return units[ids[i]] > units[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > 5 {
		ids = ids[:5]
	}
	out := make([]TopProduct, 0, len(ids))
	for _, id := range ids {
		var p *Product
		if found := s.productByIDLocked(id); found != nil {
			cp := *found
			p = &cp
		}
		out = append(out, TopProduct{Product: p, Units: units[id]})
	}
	return out
}

// ============ NOTIFICATIONS ============

// ShowNotification appends a transient message and schedules its removal
// after the store's TTL. Ids come from a monotonic counter, so an expiry
// timer can never remove a newer notification by accident.
func (s *Store) ShowNotification(message, severity string) {
	s.mu.Lock()
	s.pushNotificationLocked(message, severity)
	s.mu.Unlock()
	s.dispatch()
}

func (s *Store) pushNotificationLocked(message, severity string) {
	s.nextNotifID++
	id := s.nextNotifID
	s.notifications = append(s.notifications, Notification{
		ID:        id,
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now().UTC(),
	})
	s.notifTimers[id] = time.AfterFunc(s.notifTTL, func() {
		if s.removeNotification(id) {
			s.dispatch()
		}
	})
}

// DismissNotification removes a notification early and cancels its timer.
func (s *Store) DismissNotification(id int64) error {
	if !s.removeNotification(id) {
		return ErrNotFound
	}
	s.dispatch()
	return nil
}

func (s *Store) removeNotification(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.notifTimers[id]; ok {
		t.Stop()
		delete(s.notifTimers, id)
	}
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications...)
}

// ============ THEME ============

func (s *Store) ToggleDarkMode() error {
	s.mu.Lock()
	s.darkMode = !s.darkMode
	err := s.persist(keyDarkMode, s.darkMode)
	s.mu.Unlock()
	s.dispatch()
	return err
}

func (s *Store) DarkMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.darkMode
}
