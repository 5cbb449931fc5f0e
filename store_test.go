package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *memoryStorage) {
	t.Helper()
	storage := newMemoryStorage()
	s, err := NewStore(storage)
	require.NoError(t, err)
	return s, storage
}

// failingStorage turns every Set into a backend failure once armed.
type failingStorage struct {
	*memoryStorage
	fail bool
}

func (f *failingStorage) Set(key string, value []byte) error {
	if f.fail {
		return fmt.Errorf("%w: set %s: disk full", ErrStorage, key)
	}
	return f.memoryStorage.Set(key, value)
}

func TestSeedCatalog(t *testing.T) {
	s, _ := newTestStore(t)
	products := s.Products()
	require.Len(t, products, 18)

	p, ok := s.ProductByID(1)
	require.True(t, ok)
	assert.Equal(t, "Air Velocity Pro", p.Name)
	assert.Equal(t, "running", p.Category)
	assert.InDelta(t, 129.99, p.Price, 0.001)

	_, ok = s.ProductByID(999)
	assert.False(t, ok)
}

func TestAddToCartMergesSameProductAndSize(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.ProductByID(1)

	require.NoError(t, s.AddToCart(p, "9", 2))
	require.NoError(t, s.AddToCart(p, "9", 3))

	cart := s.Cart()
	require.Len(t, cart, 1)
	assert.Equal(t, 5, cart[0].Quantity)

	// a different size gets its own line
	require.NoError(t, s.AddToCart(p, "10", 1))
	assert.Len(t, s.Cart(), 2)
}

func TestAddToCartRejectsInvalidQuantity(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.ProductByID(1)

	assert.ErrorIs(t, s.AddToCart(p, "9", 0), ErrInvalidQuantity)
	assert.ErrorIs(t, s.AddToCart(p, "9", -3), ErrInvalidQuantity)
	assert.Empty(t, s.Cart())
}

func TestCartTotal(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.AddToCart(Product{ID: 101, Name: "a", Price: 10}, "9", 2))
	require.NoError(t, s.AddToCart(Product{ID: 102, Name: "b", Price: 5}, "9", 1))
	assert.InDelta(t, 25.0, s.CartTotal(), 0.001)
}

func TestRemoveFromCart(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.ProductByID(1)
	require.NoError(t, s.AddToCart(p, "9", 1))
	lineID := s.Cart()[0].LineID

	assert.ErrorIs(t, s.RemoveFromCart("no-such-line"), ErrNotFound)
	require.Len(t, s.Cart(), 1)

	require.NoError(t, s.RemoveFromCart(lineID))
	assert.Empty(t, s.Cart())
}

func TestUpdateCartQuantity(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.ProductByID(1)
	require.NoError(t, s.AddToCart(p, "9", 1))
	lineID := s.Cart()[0].LineID

	require.NoError(t, s.UpdateCartQuantity(lineID, 4))
	assert.Equal(t, 4, s.Cart()[0].Quantity)

	assert.ErrorIs(t, s.UpdateCartQuantity(lineID, 0), ErrInvalidQuantity)
	assert.Equal(t, 4, s.Cart()[0].Quantity)
	assert.ErrorIs(t, s.UpdateCartQuantity("no-such-line", 2), ErrNotFound)
}

func TestWishlistSetSemantics(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.ProductByID(3)

	require.NoError(t, s.AddToWishlist(p))
	require.NoError(t, s.AddToWishlist(p))
	assert.Len(t, s.Wishlist(), 1)
	assert.True(t, s.InWishlist(p.ID))

	require.NoError(t, s.RemoveFromWishlist(p.ID))
	assert.False(t, s.InWishlist(p.ID))
	assert.ErrorIs(t, s.RemoveFromWishlist(p.ID), ErrNotFound)
}

func TestFilteredProducts(t *testing.T) {
	s, _ := newTestStore(t)

	cat := "running"
	sortBy := SortPriceLow
	s.SetFilters(FilterUpdate{Category: &cat, SortBy: &sortBy})

	got := s.FilteredProducts()
	require.NotEmpty(t, got)
	for i, p := range got {
		assert.Equal(t, "running", p.Category)
		if i > 0 {
			assert.LessOrEqual(t, got[i-1].Price, p.Price)
		}
	}
}

func TestFilteredProductsStableOnTies(t *testing.T) {
	s, _ := newTestStore(t)
	first, err := s.CreateProduct(Product{Name: "Tie One", Category: "limited", Price: 50})
	require.NoError(t, err)
	second, err := s.CreateProduct(Product{Name: "Tie Two", Category: "limited", Price: 50})
	require.NoError(t, err)

	cat := "limited"
	sortBy := SortPriceLow
	s.SetFilters(FilterUpdate{Category: &cat, SortBy: &sortBy})

	got := s.FilteredProducts()
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
}

func TestFilteredProductsSearchAndPriceBounds(t *testing.T) {
	s, _ := newTestStore(t)

	search := "VELOCITY"
	s.SetFilters(FilterUpdate{SearchTerm: &search})
	got := s.FilteredProducts()
	require.Len(t, got, 2) // Air Velocity Pro, Sonic Velocity

	// price bounds are inclusive
	search = ""
	min, max := 129.99, 129.99
	s.SetFilters(FilterUpdate{SearchTerm: &search, PriceMin: &min, PriceMax: &max})
	got = s.FilteredProducts()
	require.Len(t, got, 1)
	assert.Equal(t, "Air Velocity Pro", got[0].Name)
}

func TestFilteredProductsDefaultSortNewest(t *testing.T) {
	s, _ := newTestStore(t)
	got := s.FilteredProducts()
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i-1].ID, got[i].ID)
	}

	// derived view must not reorder the underlying catalog
	products := s.Products()
	assert.Equal(t, int64(1), products[0].ID)
}

func TestSetFiltersPartialMerge(t *testing.T) {
	s, _ := newTestStore(t)
	cat := "casual"
	s.SetFilters(FilterUpdate{Category: &cat})

	f := s.Filters()
	assert.Equal(t, "casual", f.Category)
	assert.Equal(t, SortNewest, f.SortBy)
	assert.InDelta(t, 500.0, f.PriceRange.Max, 0.001)
}

func TestProductIDsNeverRecycled(t *testing.T) {
	s, _ := newTestStore(t)

	created, err := s.CreateProduct(Product{Name: "Limited Drop", Category: "casual", Price: 120})
	require.NoError(t, err)
	assert.Equal(t, int64(21), created.ID) // seed max is 20

	require.NoError(t, s.DeleteProduct(created.ID))
	assert.ErrorIs(t, s.DeleteProduct(created.ID), ErrNotFound)

	again, err := s.CreateProduct(Product{Name: "Limited Drop v2", Category: "casual", Price: 130})
	require.NoError(t, err)
	assert.Greater(t, again.ID, created.ID)
}

func TestCreateProductZeroesRating(t *testing.T) {
	s, _ := newTestStore(t)
	created, err := s.CreateProduct(Product{Name: "Fresh", Category: "casual", Price: 10, Rating: 4.9, Reviews: 50})
	require.NoError(t, err)
	assert.Zero(t, created.Rating)
	assert.Zero(t, created.Reviews)
}

func TestUpdateProductPartial(t *testing.T) {
	s, _ := newTestStore(t)
	price := 99.99
	require.NoError(t, s.UpdateProduct(1, ProductUpdate{Price: &price}))

	p, ok := s.ProductByID(1)
	require.True(t, ok)
	assert.InDelta(t, 99.99, p.Price, 0.001)
	assert.Equal(t, "Air Velocity Pro", p.Name)

	assert.ErrorIs(t, s.UpdateProduct(999, ProductUpdate{Price: &price}), ErrNotFound)
}

func TestCreateOrderSnapshotsAndClearsCart(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.ProductByID(2)
	require.NoError(t, s.AddToCart(p, "10", 2))

	order, err := s.CreateOrder(7, "1 Main St")
	require.NoError(t, err)
	assert.Equal(t, int64(1), order.ID)
	assert.Equal(t, int64(7), order.UserID)
	assert.Equal(t, OrderStatusPending, order.Status)
	require.Len(t, order.Items, 1)
	assert.InDelta(t, p.Price*2, order.Total, 0.001)
	assert.Empty(t, s.Cart())

	// snapshot is decoupled from later catalog edits
	newPrice := 1.0
	require.NoError(t, s.UpdateProduct(p.ID, ProductUpdate{Price: &newPrice}))
	assert.InDelta(t, p.Price, s.AllOrders()[0].Items[0].UnitPrice, 0.001)

	// order ids increase monotonically
	require.NoError(t, s.AddToCart(p, "10", 1))
	second, err := s.CreateOrder(7, "1 Main St")
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)
}

func TestUserOrdersFiltersByCurrentUser(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.ProductByID(1)

	require.NoError(t, s.AddToCart(p, "9", 1))
	_, err := s.CreateOrder(1, "")
	require.NoError(t, err)
	require.NoError(t, s.AddToCart(p, "9", 1))
	_, err = s.CreateOrder(2, "")
	require.NoError(t, err)

	assert.Empty(t, s.UserOrders()) // guest

	require.NoError(t, s.SetUser(User{ID: 2, Email: "b@x.com"}))
	orders := s.UserOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(2), orders[0].UserID)

	assert.Len(t, s.AllOrders(), 2)
}

func TestUpdateOrderStatus(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.ProductByID(1)
	require.NoError(t, s.AddToCart(p, "9", 1))
	order, err := s.CreateOrder(1, "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateOrderStatus(order.ID, "shipped"))
	assert.Equal(t, "shipped", s.AllOrders()[0].Status)
	assert.ErrorIs(t, s.UpdateOrderStatus(999, "shipped"), ErrNotFound)
}

func TestSalesStats(t *testing.T) {
	s, _ := newTestStore(t)

	stats := s.SalesStats()
	assert.Zero(t, stats.TotalOrders)
	assert.Zero(t, stats.TotalRevenue)
	assert.Zero(t, stats.AverageOrderValue) // no division by zero
	assert.Equal(t, 18, stats.TotalProducts)

	require.NoError(t, s.AddToCart(Product{ID: 500, Name: "x", Price: 10}, "9", 3))
	_, err := s.CreateOrder(1, "")
	require.NoError(t, err)
	require.NoError(t, s.AddToCart(Product{ID: 500, Name: "x", Price: 10}, "9", 1))
	_, err = s.CreateOrder(1, "")
	require.NoError(t, err)

	stats = s.SalesStats()
	assert.Equal(t, 2, stats.TotalOrders)
	assert.InDelta(t, 40.0, stats.TotalRevenue, 0.001)
	assert.InDelta(t, 20.0, stats.AverageOrderValue, 0.001)
}

func TestTopProducts(t *testing.T) {
	s, _ := newTestStore(t)

	for i, qty := range []int{7, 3, 5, 1, 2, 4, 6} {
		p, ok := s.ProductByID(int64(i + 1))
		require.True(t, ok)
		require.NoError(t, s.AddToCart(p, "9", qty))
	}
	_, err := s.CreateOrder(1, "")
	require.NoError(t, err)

	top := s.TopProducts()
	require.Len(t, top, 5)
	assert.Equal(t, 7, top[0].Units)
	require.NotNil(t, top[0].Product)
	assert.Equal(t, int64(1), top[0].Product.ID)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Units, top[i].Units)
	}
}

func TestTopProductsSurvivesDeletedProduct(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.ProductByID(5)
	require.NoError(t, s.AddToCart(p, "9", 4))
	_, err := s.CreateOrder(1, "")
	require.NoError(t, err)

	require.NoError(t, s.DeleteProduct(p.ID))

	top := s.TopProducts()
	require.Len(t, top, 1)
	assert.Nil(t, top[0].Product)
	assert.Equal(t, 4, top[0].Units)
}

func TestLogoutClearsSessionState(t *testing.T) {
	s, _ := newTestStore(t)
	p1, _ := s.ProductByID(1)
	p2, _ := s.ProductByID(2)

	require.NoError(t, s.SetUser(User{ID: 1, Email: "a@x.com"}))
	require.NoError(t, s.AddToCart(p1, "9", 1))
	require.NoError(t, s.AddToCart(p2, "10", 1))
	require.NoError(t, s.AddToWishlist(p1))

	require.NoError(t, s.Logout())
	assert.Nil(t, s.CurrentUser())
	assert.Empty(t, s.Cart())
	assert.Empty(t, s.Wishlist())
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	storage := newMemoryStorage()
	s, err := NewStore(storage)
	require.NoError(t, err)

	p, _ := s.ProductByID(1)
	require.NoError(t, s.SetUser(User{ID: 1, Email: "a@x.com"}))
	require.NoError(t, s.AddToCart(p, "9", 2))
	require.NoError(t, s.AddToWishlist(p))
	_, err = s.CreateOrder(1, "1 Main St")
	require.NoError(t, err)
	require.NoError(t, s.AddToCart(p, "9", 1))
	require.NoError(t, s.ToggleDarkMode())

	reloaded, err := NewStore(storage)
	require.NoError(t, err)
	require.NotNil(t, reloaded.CurrentUser())
	assert.Equal(t, "a@x.com", reloaded.CurrentUser().Email)
	assert.Len(t, reloaded.Cart(), 1)
	assert.Len(t, reloaded.Wishlist(), 1)
	assert.Len(t, reloaded.AllOrders(), 1)
	assert.True(t, reloaded.DarkMode())
}

func TestRestoreFallsBackOnMalformedData(t *testing.T) {
	storage := newMemoryStorage()
	require.NoError(t, storage.Set(keyCart, []byte("{not json")))
	require.NoError(t, storage.Set(keyDarkMode, []byte(`"maybe"`)))

	s, err := NewStore(storage)
	require.NoError(t, err)
	assert.Empty(t, s.Cart())
	assert.False(t, s.DarkMode())
}

func TestInitDeletesDeprecatedProductsKey(t *testing.T) {
	storage := newMemoryStorage()
	require.NoError(t, storage.Set(keyProductsDeprecated, []byte(`[{"id":1}]`)))

	_, err := NewStore(storage)
	require.NoError(t, err)
	_, found, err := storage.Get(keyProductsDeprecated)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSubscribeOneNotificationPerMutation(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.ProductByID(1)

	var calls int
	var lastCartLen int
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		calls++
		lastCartLen = len(snap.Cart)
	})

	require.NoError(t, s.AddToCart(p, "9", 1))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, lastCartLen)

	require.NoError(t, s.ToggleDarkMode())
	assert.Equal(t, 2, calls)

	// pure derived views do not notify
	s.FilteredProducts()
	s.CartTotal()
	s.SalesStats()
	assert.Equal(t, 2, calls)

	unsubscribe()
	require.NoError(t, s.ToggleDarkMode())
	assert.Equal(t, 2, calls)
}

func TestSubscribersNotifiedInSubscriptionOrder(t *testing.T) {
	s, _ := newTestStore(t)
	var order []string
	s.Subscribe(func(Snapshot) { order = append(order, "first") })
	s.Subscribe(func(Snapshot) { order = append(order, "second") })
	s.Subscribe(func(Snapshot) { order = append(order, "third") })

	s.ShowNotification("hello", SeverityInfo)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestUnsubscribeMidPassSkipsPendingCallback(t *testing.T) {
	s, _ := newTestStore(t)

	var secondCalled bool
	var unsubscribeSecond func()
	s.Subscribe(func(Snapshot) { unsubscribeSecond() })
	unsubscribeSecond = s.Subscribe(func(Snapshot) { secondCalled = true })

	s.ShowNotification("hello", SeverityInfo)
	assert.False(t, secondCalled)
}

func TestSubscribeMidPassNotCalledSamePass(t *testing.T) {
	s, _ := newTestStore(t)

	var lateCalls int
	s.Subscribe(func(Snapshot) {
		s.Subscribe(func(Snapshot) { lateCalls++ })
	})

	s.ShowNotification("first", SeverityInfo)
	assert.Zero(t, lateCalls)

	s.ShowNotification("second", SeverityInfo)
	assert.Equal(t, 1, lateCalls)
}

func TestReentrantStoreCallFromSubscriber(t *testing.T) {
	s, _ := newTestStore(t)

	var sawTotal float64
	s.Subscribe(func(snap Snapshot) {
		// calling back into the store from a callback must not deadlock
		sawTotal = s.CartTotal()
	})
	require.NoError(t, s.AddToCart(Product{ID: 600, Name: "x", Price: 20}, "9", 1))
	assert.InDelta(t, 20.0, sawTotal, 0.001)
}

func TestNotificationsExpireByID(t *testing.T) {
	s, _ := newTestStore(t)
	s.notifTTL = 20 * time.Millisecond

	s.ShowNotification("short lived", SeverityInfo)
	require.Len(t, s.Notifications(), 1)
	first := s.Notifications()[0].ID

	time.Sleep(10 * time.Millisecond)
	s.ShowNotification("newer", SeverityInfo)
	second := s.Notifications()[1].ID
	assert.Greater(t, second, first)

	// first expires, second survives its sibling's timer
	require.Eventually(t, func() bool {
		n := s.Notifications()
		return len(n) == 1 && n[0].ID == second
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(s.Notifications()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestDismissNotification(t *testing.T) {
	s, _ := newTestStore(t)
	s.ShowNotification("dismiss me", SeverityInfo)
	id := s.Notifications()[0].ID

	require.NoError(t, s.DismissNotification(id))
	assert.Empty(t, s.Notifications())
	assert.ErrorIs(t, s.DismissNotification(id), ErrNotFound)
}

func TestMutatingCallsEmitNotifications(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.ProductByID(1)

	require.NoError(t, s.AddToCart(p, "9", 1))
	n := s.Notifications()
	require.Len(t, n, 1)
	assert.Equal(t, SeveritySuccess, n[0].Severity)
	assert.Contains(t, n[0].Message, p.Name)

	// idempotent wishlist re-add emits nothing
	require.NoError(t, s.AddToWishlist(p))
	require.NoError(t, s.AddToWishlist(p))
	assert.Len(t, s.Notifications(), 2)
}

func TestMutationStandsWhenPersistFails(t *testing.T) {
	storage := &failingStorage{memoryStorage: newMemoryStorage()}
	s, err := NewStore(storage)
	require.NoError(t, err)
	require.NoError(t, s.SetUser(User{ID: 7, Email: "jane@example.com", Role: RoleCustomer}))

	notified := 0
	s.Subscribe(func(Snapshot) { notified++ })

	storage.fail = true
	p, _ := s.ProductByID(1)
	err = s.AddToCart(p, "9", 2)
	require.ErrorIs(t, err, ErrStorage)
	require.Len(t, s.Cart(), 1)
	assert.Equal(t, 2, s.Cart()[0].Quantity)
	assert.Equal(t, 1, notified)

	order, err := s.CreateOrder(7, "1 Main St")
	require.ErrorIs(t, err, ErrStorage)
	require.Len(t, s.AllOrders(), 1)
	assert.Equal(t, order.ID, s.AllOrders()[0].ID)
	assert.Empty(t, s.Cart())
	assert.Equal(t, 2, notified)
}

func TestClearCart(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.ProductByID(1)
	require.NoError(t, s.AddToCart(p, "9", 2))
	require.NoError(t, s.ClearCart())
	assert.Empty(t, s.Cart())
	assert.Zero(t, s.CartTotal())
}

func TestStateMatchesSubscriberSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	var fromCallback Snapshot
	s.Subscribe(func(snap Snapshot) { fromCallback = snap })

	p, _ := s.ProductByID(1)
	require.NoError(t, s.AddToCart(p, "9", 1))

	state := s.State()
	assert.Equal(t, fromCallback.Cart, state.Cart)
	assert.Equal(t, fromCallback.DarkMode, state.DarkMode)
	assert.Len(t, state.Products, 18)
}

func TestToggleDarkMode(t *testing.T) {
	s, _ := newTestStore(t)
	assert.False(t, s.DarkMode())
	require.NoError(t, s.ToggleDarkMode())
	assert.True(t, s.DarkMode())
	require.NoError(t, s.ToggleDarkMode())
	assert.False(t, s.DarkMode())
}
