package main

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// seedCatalog parses the embedded product list. The catalog is code-owned
// data: it is reseeded on every startup and never restored from storage, so
// catalog edits ship without anyone clearing stale persisted copies.
func seedCatalog() ([]Product, error) {
	var products []Product
	if err := yaml.Unmarshal(catalogYAML, &products); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	seen := make(map[int64]bool, len(products))
	for _, p := range products {
		if p.ID <= 0 {
			return nil, fmt.Errorf("catalog product %q: id must be positive", p.Name)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("catalog product %q: duplicate id %d", p.Name, p.ID)
		}
		seen[p.ID] = true
	}
	return products, nil
}
