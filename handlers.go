package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/gorilla/schema"
)

var queryDecoder = newQueryDecoder()

func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// sessionFor parses the session cookie; nil for guests or bad tokens.
func sessionFor(a *Auth, r *http.Request) *sessionClaims {
	c, err := r.Cookie("session")
	if err != nil || c.Value == "" {
		return nil
	}
	claims, err := a.ParseSession(c.Value)
	if err != nil {
		return nil
	}
	return claims
}

// isAdmin checks the session for the admin role, with an admin token
// header/query fallback for scripted admin access.
func isAdmin(a *Auth, r *http.Request, adminToken string) bool {
	if claims := sessionFor(a, r); claims != nil && claims.Role == RoleAdmin {
		return true
	}
	if adminToken == "" {
		return false
	}
	if r.Header.Get("X-Admin-Token") == adminToken {
		return true
	}
	if r.URL.Query().Get("token") == adminToken {
		return true
	}
	return false
}

func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ============ AUTH ============

// registerHandler creates an account, logs it in and sets the session cookie.
func registerHandler(a *Auth, st *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		u, err := a.Register(req)
		if err != nil {
			if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrUsernameTaken) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		token, err := a.IssueSession(u)
		if err != nil {
			log.Println("issue session:", err)
			http.Error(w, "session error", http.StatusInternalServerError)
			return
		}
		setSessionCookie(w, token)
		if err := st.SetUser(u); err != nil {
			log.Println("persist user:", err)
		}
		writeJSONStatus(w, http.StatusCreated, u)
	}
}

func loginHandler(a *Auth, st *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var cred struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		u, err := a.Login(cred.Email, cred.Password)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		token, err := a.IssueSession(u)
		if err != nil {
			log.Println("issue session:", err)
			http.Error(w, "session error", http.StatusInternalServerError)
			return
		}
		setSessionCookie(w, token)
		if err := st.SetUser(u); err != nil {
			log.Println("persist user:", err)
		}
		writeJSON(w, u)
	}
}

// logoutHandler clears the cookie and the session state (cart and wishlist
// go with the user).
func logoutHandler(st *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "", Path: "/", MaxAge: -1})
		if err := st.Logout(); err != nil {
			log.Println("logout persist:", err)
		}
		w.WriteHeader(http.StatusOK)
	}
}

// profileHandler serves and updates the logged-in user's profile.
func profileHandler(a *Auth, st *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := sessionFor(a, r)
		if claims == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			u, ok := a.UserByID(claims.UserID)
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			writeJSON(w, u)

		case http.MethodPut:
			var upd ProfileUpdate
			if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
			u, err := a.UpdateProfile(claims.UserID, upd)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					http.Error(w, "not found", http.StatusNotFound)
					return
				}
				log.Println("update profile:", err)
				http.Error(w, "failed to save profile", http.StatusInternalServerError)
				return
			}
			if err := st.SetUser(u); err != nil {
				log.Println("persist user:", err)
			}
			writeJSON(w, u)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// usersHandler lists accounts for the admin dashboard.
func usersHandler(a *Auth, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !isAdmin(a, r, cfg.AdminToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, a.AllUsers())
	}
}

// ============ PRODUCTS ============

// productsHandler lists the filtered catalog (GET) and creates products
// (POST, admin). Query params (search, category, min, max, sort) merge into
// the active filter set before the list is derived.
func productsHandler(st *Store, a *Auth, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			var upd FilterUpdate
			if err := queryDecoder.Decode(&upd, r.URL.Query()); err != nil {
				http.Error(w, "invalid filter params", http.StatusBadRequest)
				return
			}
			// the store applies the range as given; bounds are checked here
			min, max := st.Filters().PriceRange.Min, st.Filters().PriceRange.Max
			if upd.PriceMin != nil {
				min = *upd.PriceMin
			}
			if upd.PriceMax != nil {
				max = *upd.PriceMax
			}
			if min > max {
				http.Error(w, "price range min must not exceed max", http.StatusBadRequest)
				return
			}
			st.SetFilters(upd)
			writeJSON(w, st.FilteredProducts())

		case http.MethodPost:
			if !isAdmin(a, r, cfg.AdminToken) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if err := r.ParseMultipartForm(20 << 20); err != nil {
				http.Error(w, "parse multipart: "+err.Error(), http.StatusBadRequest)
				return
			}
			name := strings.TrimSpace(r.FormValue("name"))
			if name == "" {
				http.Error(w, "name required", http.StatusBadRequest)
				return
			}
			price, _ := strconv.ParseFloat(r.FormValue("price"), 64)
			if price < 0 {
				http.Error(w, "price must not be negative", http.StatusBadRequest)
				return
			}
			stock, _ := strconv.Atoi(r.FormValue("stock"))
			if stock < 0 {
				http.Error(w, "stock must not be negative", http.StatusBadRequest)
				return
			}
			p := Product{
				Name:        name,
				Category:    strings.TrimSpace(r.FormValue("category")),
				Price:       price,
				Stock:       stock,
				Description: r.FormValue("description"),
			}
			if sizes := strings.TrimSpace(r.FormValue("sizes")); sizes != "" {
				p.Sizes = strings.Split(sizes, ",")
			}
			if file, _, err := r.FormFile("file"); err == nil {
				if cfg.CloudinaryURL == "" {
					_ = file.Close()
					p.Image = "https://via.placeholder.com/800x600.png?text=KICKVIBE"
				} else {
					defer file.Close()
					cld, err := cloudinary.NewFromURL(cfg.CloudinaryURL)
					if err != nil {
						log.Println("cloudinary init:", err)
						http.Error(w, "cloudinary init error", http.StatusInternalServerError)
						return
					}
					uploadResult, err := cld.Upload.Upload(context.Background(), file, uploader.UploadParams{})
					if err != nil {
						log.Println("upload error:", err)
						http.Error(w, "upload failed", http.StatusInternalServerError)
						return
					}
					p.Image = uploadResult.SecureURL
				}
			}
			created, err := st.CreateProduct(p)
			if err != nil {
				log.Println("create product:", err)
				http.Error(w, "failed to create product", http.StatusInternalServerError)
				return
			}
			writeJSONStatus(w, http.StatusCreated, created)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// cloudinaryPublicID derives the upload's public id from a delivery URL so
// the asset can be destroyed alongside its product. Empty for URLs not
// hosted on Cloudinary.
func cloudinaryPublicID(rawURL string) string {
	if !strings.Contains(rawURL, "res.cloudinary.com") {
		return ""
	}
	_, rest, ok := strings.Cut(rawURL, "/upload/")
	if !ok {
		return ""
	}
	parts := strings.Split(rest, "/")
	// the first segment is usually a version marker like v1712345678
	if len(parts) > 1 && strings.HasPrefix(parts[0], "v") {
		if _, err := strconv.ParseInt(parts[0][1:], 10, 64); err == nil {
			parts = parts[1:]
		}
	}
	id := strings.Join(parts, "/")
	if dot := strings.LastIndex(id, "."); dot > 0 {
		id = id[:dot]
	}
	return id
}

// productItemHandler handles GET/PUT/DELETE for /api/products/{id}.
func productItemHandler(st *Store, a *Auth, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 4 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		id, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		switch r.Method {
		case http.MethodGet:
			p, ok := st.ProductByID(id)
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			writeJSON(w, p)

		case http.MethodPut:
			if !isAdmin(a, r, cfg.AdminToken) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			var upd ProductUpdate
			if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
			if upd.Price != nil && *upd.Price < 0 {
				http.Error(w, "price must not be negative", http.StatusBadRequest)
				return
			}
			if upd.Stock != nil && *upd.Stock < 0 {
				http.Error(w, "stock must not be negative", http.StatusBadRequest)
				return
			}
			if err := st.UpdateProduct(id, upd); err != nil {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)

		case http.MethodDelete:
			if !isAdmin(a, r, cfg.AdminToken) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			log.Printf("product DELETE id=%d remote=%s", id, r.RemoteAddr)
			p, ok := st.ProductByID(id)
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			if err := st.DeleteProduct(id); err != nil {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			// destroy the uploaded image so deleted products don't leave
			// orphaned assets behind; failures are logged, never fatal
			if cfg.CloudinaryURL != "" {
				if publicID := cloudinaryPublicID(p.Image); publicID != "" {
					cld, err := cloudinary.NewFromURL(cfg.CloudinaryURL)
					if err != nil {
						log.Println("cloudinary init for delete:", err)
					} else if _, err := cld.Upload.Destroy(context.Background(), uploader.DestroyParams{PublicID: publicID}); err != nil {
						log.Println("cloudinary destroy:", err)
					} else {
						log.Printf("deleted cloudinary image: %s", publicID)
					}
				}
			}
			w.WriteHeader(http.StatusOK)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// ============ CART ============

func cartHandler(st *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, map[string]interface{}{
				"items": st.Cart(),
				"total": st.CartTotal(),
			})

		case http.MethodPost:
			var req struct {
				ProductID int64  `json:"product_id"`
				Size      string `json:"size"`
				Quantity  int    `json:"quantity"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
			if req.Quantity == 0 {
				req.Quantity = 1
			}
			p, ok := st.ProductByID(req.ProductID)
			if !ok {
				http.Error(w, "product not found", http.StatusNotFound)
				return
			}
			if err := st.AddToCart(p, req.Size, req.Quantity); err != nil {
				if errors.Is(err, ErrInvalidQuantity) {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				log.Println("add to cart:", err)
			}
			writeJSON(w, map[string]interface{}{
				"items": st.Cart(),
				"total": st.CartTotal(),
			})

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// cartItemHandler handles PUT (quantity) and DELETE for /api/cart/{lineId}.
func cartItemHandler(st *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 4 || parts[3] == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		lineID := parts[3]

		switch r.Method {
		case http.MethodPut:
			var req struct {
				Quantity int `json:"quantity"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
			if err := st.UpdateCartQuantity(lineID, req.Quantity); err != nil {
				switch {
				case errors.Is(err, ErrInvalidQuantity):
					http.Error(w, err.Error(), http.StatusBadRequest)
				case errors.Is(err, ErrNotFound):
					http.Error(w, "not found", http.StatusNotFound)
				default:
					log.Println("update cart:", err)
					http.Error(w, "storage error", http.StatusInternalServerError)
				}
				return
			}
			w.WriteHeader(http.StatusOK)

		case http.MethodDelete:
			if err := st.RemoveFromCart(lineID); err != nil {
				if errors.Is(err, ErrNotFound) {
					http.Error(w, "not found", http.StatusNotFound)
					return
				}
				log.Println("remove from cart:", err)
			}
			w.WriteHeader(http.StatusOK)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// ============ WISHLIST ============

func wishlistHandler(st *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, st.Wishlist())

		case http.MethodPost:
			var req struct {
				ProductID int64 `json:"product_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
			p, ok := st.ProductByID(req.ProductID)
			if !ok {
				http.Error(w, "product not found", http.StatusNotFound)
				return
			}
			if err := st.AddToWishlist(p); err != nil {
				log.Println("add to wishlist:", err)
			}
			writeJSON(w, st.Wishlist())

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func wishlistItemHandler(st *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 4 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		id, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		if err := st.RemoveFromWishlist(id); err != nil {
			if errors.Is(err, ErrNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			log.Println("remove from wishlist:", err)
		}
		w.WriteHeader(http.StatusOK)
	}
}

// ============ ORDERS ============

// ordersHandler lists orders (own for customers, all for admins) and places
// a new order from the current cart.
func ordersHandler(st *Store, a *Auth, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := sessionFor(a, r)
		switch r.Method {
		case http.MethodGet:
			if isAdmin(a, r, cfg.AdminToken) {
				writeJSON(w, st.AllOrders())
				return
			}
			if claims == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			writeJSON(w, st.UserOrders())

		case http.MethodPost:
			if claims == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			var req struct {
				Address string `json:"address"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
			if len(st.Cart()) == 0 {
				http.Error(w, "cart is empty", http.StatusBadRequest)
				return
			}
			order, err := st.CreateOrder(claims.UserID, req.Address)
			if err != nil {
				log.Println("create order persist:", err)
			}
			writeJSONStatus(w, http.StatusCreated, order)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// orderItemHandler handles PUT /api/orders/{id} for status updates (admin).
func orderItemHandler(st *Store, a *Auth, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !isAdmin(a, r, cfg.AdminToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 4 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		id, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		req.Status = strings.TrimSpace(req.Status)
		if req.Status == "" {
			http.Error(w, "status required", http.StatusBadRequest)
			return
		}
		if err := st.UpdateOrderStatus(id, req.Status); err != nil {
			if errors.Is(err, ErrNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			log.Println("update order status:", err)
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// ============ DASHBOARD ============

func statsHandler(st *Store, a *Auth, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !isAdmin(a, r, cfg.AdminToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]interface{}{
			"stats":        st.SalesStats(),
			"top_products": st.TopProducts(),
		})
	}
}

// ============ NOTIFICATIONS / THEME ============

func notificationsHandler(st *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, st.Notifications())
	}
}

func notificationItemHandler(st *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 4 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		id, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		if err := st.DismissNotification(id); err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func themeHandler(st *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, map[string]bool{"dark_mode": st.DarkMode()})
		case http.MethodPost:
			if err := st.ToggleDarkMode(); err != nil {
				log.Println("toggle dark mode:", err)
			}
			writeJSON(w, map[string]bool{"dark_mode": st.DarkMode()})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// newMux wires every endpoint onto one mux.
func newMux(st *Store, a *Auth, cfg Config) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/register", registerHandler(a, st))
	mux.HandleFunc("/api/login", loginHandler(a, st))
	mux.HandleFunc("/api/logout", logoutHandler(st))
	mux.HandleFunc("/api/profile", profileHandler(a, st))
	mux.HandleFunc("/api/users", usersHandler(a, cfg))
	mux.HandleFunc("/api/products", productsHandler(st, a, cfg))
	mux.HandleFunc("/api/products/", productItemHandler(st, a, cfg))
	mux.HandleFunc("/api/cart", cartHandler(st))
	mux.HandleFunc("/api/cart/", cartItemHandler(st))
	mux.HandleFunc("/api/wishlist", wishlistHandler(st))
	mux.HandleFunc("/api/wishlist/", wishlistItemHandler(st))
	mux.HandleFunc("/api/orders", ordersHandler(st, a, cfg))
	mux.HandleFunc("/api/orders/", orderItemHandler(st, a, cfg))
	mux.HandleFunc("/api/stats", statsHandler(st, a, cfg))
	mux.HandleFunc("/api/notifications", notificationsHandler(st))
	mux.HandleFunc("/api/notifications/", notificationItemHandler(st))
	mux.HandleFunc("/api/theme", themeHandler(st))
	return mux
}
