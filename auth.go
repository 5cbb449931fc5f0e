package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadCredentials = errors.New("invalid email or password")
	ErrEmailTaken     = errors.New("email already registered")
	ErrUsernameTaken  = errors.New("username already taken")
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const sessionTTL = 7 * 24 * time.Hour

// userRecord is the stored account including the credential hash. Only the
// embedded public User ever leaves this file.
type userRecord struct {
	User
	PasswordHash string `json:"password_hash"`
}

// Auth manages registered accounts. Accounts persist under the "users" key
// in the same storage the store uses; passwords are bcrypt hashes.
type Auth struct {
	mu        sync.Mutex
	storage   Storage
	users     []userRecord
	jwtSecret []byte
}

// NewAuth restores accounts from storage and seeds the admin account when
// none exist yet.
func NewAuth(storage Storage, jwtSecret string) (*Auth, error) {
	a := &Auth{storage: storage, jwtSecret: []byte(jwtSecret)}
	b, found, err := storage.Get(keyUsers)
	if err != nil {
		log.Printf("restore %s: %v", keyUsers, err)
	}
	if found {
		if err := json.Unmarshal(b, &a.users); err != nil {
			log.Printf("restore %s: malformed, reseeding: %v", keyUsers, err)
			a.users = nil
		}
	}
	if len(a.users) == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("seed admin: %w", err)
		}
		a.users = []userRecord{{
			User: User{
				ID:        1,
				Username:  "admin",
				Email:     "admin@kickvibe.com",
				FirstName: "Admin",
				LastName:  "User",
				Role:      RoleAdmin,
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			},
			PasswordHash: string(hash),
		}}
		if err := a.saveLocked(); err != nil {
			log.Printf("persist seeded users: %v", err)
		}
	}
	return a, nil
}

// RegisterRequest carries the signup form fields.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	ZipCode   string `json:"zip_code"`
}

// Register validates and creates a new customer account.
func (a *Auth) Register(req RegisterRequest) (User, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Password == "" || strings.TrimSpace(req.FirstName) == "" {
		return User{}, errors.New("email, password and first name are required")
	}
	if !emailRe.MatchString(req.Email) {
		return User{}, errors.New("invalid email address")
	}
	if len(req.Password) < 6 {
		return User{}, errors.New("password must be at least 6 characters")
	}
	if req.Username == "" {
		req.Username = strings.SplitN(req.Email, "@", 2)[0]
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	var maxID int64
	for _, u := range a.users {
		if u.Email == req.Email {
			return User{}, ErrEmailTaken
		}
		if u.Username == req.Username {
			return User{}, ErrUsernameTaken
		}
		if u.ID > maxID {
			maxID = u.ID
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	rec := userRecord{
		User: User{
			ID:        maxID + 1,
			Username:  req.Username,
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Role:      RoleCustomer,
			Phone:     req.Phone,
			Address:   req.Address,
			City:      req.City,
			ZipCode:   req.ZipCode,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
		PasswordHash: string(hash),
	}
	a.users = append(a.users, rec)
	if err := a.saveLocked(); err != nil {
		return User{}, err
	}
	return rec.User, nil
}

// Login verifies credentials and returns the public user.
func (a *Auth) Login(email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, u := range a.users {
		if u.Email != email {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			return User{}, ErrBadCredentials
		}
		return u.User, nil
	}
	return User{}, ErrBadCredentials
}

// UserByID returns the public record for an account.
func (a *Auth) UserByID(id int64) (User, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, u := range a.users {
		if u.ID == id {
			return u.User, true
		}
	}
	return User{}, false
}

// ProfileUpdate is a partial profile edit. Role and id are immutable.
type ProfileUpdate struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"phone"`
	Address   *string `json:"address"`
	City      *string `json:"city"`
	ZipCode   *string `json:"zip_code"`
}

func (a *Auth) UpdateProfile(id int64, u ProfileUpdate) (User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.users {
		if a.users[i].ID != id {
			continue
		}
		rec := &a.users[i]
		if u.FirstName != nil {
			rec.FirstName = *u.FirstName
		}
		if u.LastName != nil {
			rec.LastName = *u.LastName
		}
		if u.Phone != nil {
			rec.Phone = *u.Phone
		}
		if u.Address != nil {
			rec.Address = *u.Address
		}
		if u.City != nil {
			rec.City = *u.City
		}
		if u.ZipCode != nil {
			rec.ZipCode = *u.ZipCode
		}
		if err := a.saveLocked(); err != nil {
			return User{}, err
		}
		return rec.User, nil
	}
	return User{}, ErrNotFound
}

// AllUsers lists public records for the admin dashboard.
func (a *Auth) AllUsers() []User {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]User, 0, len(a.users))
	for _, u := range a.users {
		out = append(out, u.User)
	}
	return out
}

// ============ SESSIONS ============

type sessionClaims struct {
	UserID int64  `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// IssueSession mints a signed session token for the user.
func (a *Auth) IssueSession(u User) (string, error) {
	claims := sessionClaims{
		UserID: u.ID,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Email,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// ParseSession validates a session token and returns its claims.
func (a *Auth) ParseSession(tokenStr string) (*sessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

func (a *Auth) saveLocked() error {
	b, err := json.Marshal(a.users)
	if err != nil {
		return fmt.Errorf("%w: marshal users: %v", ErrStorage, err)
	}
	return a.storage.Set(keyUsers, b)
}
