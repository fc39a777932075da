// Package catalog exposes the product catalog synced from the commerce
// backend. The sync job itself runs elsewhere; this package only reads.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Product is one catalog entry as shown to the user.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Price       string   `json:"price"`
	Description string   `json:"description"`
	Image       string   `json:"image,omitempty"`
	Categories  []string `json:"categories,omitempty"`
}

// Store reads products from PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a catalog store over the given database handle.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("catalog: db cannot be nil")
	}
	return &Store{db: db}
}

const searchLimit = 10

// Search returns products whose name, description or categories match the
// keyword query. An empty result is valid, not an error.
func (s *Store) Search(ctx context.Context, query, categoryHint string) ([]Product, error) {
	terms := splitTerms(query)
	if len(terms) == 0 {
		return []Product{}, nil
	}

	// Every term must match somewhere; the category hint narrows further.
	clauses := make([]string, 0, len(terms)+1)
	args := make([]any, 0, len(terms)+2)
	for _, term := range terms {
		args = append(args, "%"+term+"%")
		clauses = append(clauses, fmt.Sprintf(
			"(name ILIKE $%d OR description ILIKE $%d OR array_to_string(categories, ' ') ILIKE $%d)",
			len(args), len(args), len(args)))
	}
	if categoryHint = strings.TrimSpace(categoryHint); categoryHint != "" {
		args = append(args, "%"+categoryHint+"%")
		clauses = append(clauses, fmt.Sprintf("array_to_string(categories, ' ') ILIKE $%d", len(args)))
	}
	args = append(args, searchLimit)

	q := fmt.Sprintf(`
		SELECT id, name, price, description, image, array_to_string(categories, ',')
		FROM products
		WHERE %s
		ORDER BY name ASC
		LIMIT $%d
	`, strings.Join(clauses, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: search products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// FindByName returns the first product whose name contains the given string,
// case-insensitive, or nil when nothing matches.
func (s *Store) FindByName(ctx context.Context, name string) (*Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, description, image, array_to_string(categories, ',')
		FROM products
		WHERE name ILIKE $1
		ORDER BY name ASC
		LIMIT 1
	`, "%"+name+"%")

	var p Product
	var cats string
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Description, &p.Image, &cats)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: find product by name: %w", err)
	}
	p.Categories = splitCategories(cats)
	return &p, nil
}

func scanProducts(rows *sql.Rows) ([]Product, error) {
	products := []Product{}
	for rows.Next() {
		var p Product
		var cats string
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Description, &p.Image, &cats); err != nil {
			return nil, fmt.Errorf("catalog: scan product: %w", err)
		}
		p.Categories = splitCategories(cats)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate products: %w", err)
	}
	return products, nil
}

func splitCategories(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitTerms(query string) []string {
	fields := strings.Fields(strings.TrimSpace(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			terms = append(terms, f)
		}
	}
	return terms
}
