package main

import (
	"log"
	"net/http"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var storage Storage
	switch {
	case cfg.DevMode:
		log.Println("DEV_MODE=true: running with in-memory storage, nothing persists")
		storage = newMemoryStorage()
	case cfg.MySQLDSN != "":
		s, err := openMySQLStorage(cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("mysql storage: %v", err)
		}
		storage = s
	default:
		s, err := openSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite storage: %v", err)
		}
		storage = s
		log.Printf("using sqlite storage at %s", cfg.SQLitePath)
	}
	defer storage.Close()

	store, err := NewStore(storage)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	auth, err := NewAuth(storage, cfg.JWTSecret)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	store.Subscribe(func(s Snapshot) {
		log.Printf("state changed: cart=%d wishlist=%d orders=%d notifications=%d",
			len(s.Cart), len(s.Wishlist), len(s.Orders), len(s.Notifications))
	})

	mux := newMux(store, auth, cfg)
	log.Printf("server listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		log.Fatalf("server: %v", err)
	}
}
