package main

import "time"

// User is the public identity record for a registered account. The stored
// credential record lives in auth.go; this struct never carries the hash.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	ZipCode   string `json:"zip_code,omitempty"`
	CreatedAt string `json:"created_at"`
}

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Product is a catalog entry. Mutated only through store operations.
type Product struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Price       float64           `json:"price"`
	Image       string            `json:"image"`
	Sizes       []string          `json:"sizes"`
	Stock       int               `json:"stock"`
	Description string            `json:"description"`
	Rating      float64           `json:"rating"`
	Reviews     int               `json:"reviews"`
	Specs       map[string]string `json:"specs,omitempty"`
}

// CartLine is one cart entry keyed by (product, size). Name and unit price
// are captured at add time so totals and order snapshots survive later
// catalog edits.
type CartLine struct {
	LineID    string  `json:"line_id"`
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Size      string  `json:"size"`
	Quantity  int     `json:"quantity"`
}

// PriceRange bounds are inclusive. Callers validate min <= max before
// applying (see handlers.go); the store takes the range as given.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Filters is the single active filter set for the catalog view.
type Filters struct {
	SearchTerm string     `json:"search_term"`
	Category   string     `json:"category"`
	PriceRange PriceRange `json:"price_range"`
	SortBy     string     `json:"sort_by"`
}

const (
	SortNewest    = "newest"
	SortPriceLow  = "price-low"
	SortPriceHigh = "price-high"
	SortRating    = "rating"
)

// FilterUpdate is a partial filter change; nil fields are left untouched.
// Decoded straight from query strings by gorilla/schema in handlers.go.
type FilterUpdate struct {
	SearchTerm *string  `json:"search_term" schema:"search"`
	Category   *string  `json:"category" schema:"category"`
	PriceMin   *float64 `json:"price_min" schema:"min"`
	PriceMax   *float64 `json:"price_max" schema:"max"`
	SortBy     *string  `json:"sort_by" schema:"sort"`
}

// Order is immutable once created except for status transitions. Items is a
// snapshot of the cart at creation time.
type Order struct {
	ID      int64      `json:"id"`
	UserID  int64      `json:"user_id"`
	Items   []CartLine `json:"items"`
	Total   float64    `json:"total"`
	Date    time.Time  `json:"date"`
	Status  string     `json:"status"`
	Address string     `json:"address,omitempty"`
}

const OrderStatusPending = "pending"

// Notification is a transient message that auto-expires.
type Notification struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityError   = "error"
)

// SalesStats is the admin dashboard aggregate.
type SalesStats struct {
	TotalRevenue      float64 `json:"total_revenue"`
	TotalOrders       int     `json:"total_orders"`
	TotalProducts     int     `json:"total_products"`
	AverageOrderValue float64 `json:"average_order_value"`
}

// TopProduct ranks a product by units sold across all orders. Product is nil
// when the product was deleted after being ordered.
type TopProduct struct {
	Product *Product `json:"product"`
	Units   int      `json:"units"`
}
