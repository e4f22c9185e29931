package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/gearup-marketplace/internal/domain"
)

// StoreFeed is the document-store product collection kept in Postgres. It is
// both a Feed and the admin write path.
type StoreFeed struct {
	db  *sql.DB
	now func() time.Time
}

func NewStoreFeed(db *sql.DB) *StoreFeed {
	return &StoreFeed{db: db, now: time.Now}
}

func (s *StoreFeed) Origin() domain.Origin { return domain.OriginDocumentStore }

func (s *StoreFeed) Fetch(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, image, description, created_at
		FROM catalog_products
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

// Get returns (nil, nil) when rawID does not exist.
func (s *StoreFeed) Get(ctx context.Context, rawID string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, image, description, created_at
		FROM catalog_products
		WHERE id = $1
	`, rawID)

	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

type NewProductInput struct {
	Name        string
	Price       decimal.Decimal
	Image       string
	Description string
}

func (s *StoreFeed) Create(ctx context.Context, in NewProductInput) (*domain.Product, error) {
	p := domain.NewProduct(s.Origin(), uuid.NewString(), in.Name, in.Price, in.Image, in.Description)
	p.CreatedAt = s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_products (id, name, price, image, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.RawID, p.Name, p.UnitPrice, p.Image, p.Description, p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StoreFeed) Delete(ctx context.Context, rawID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM catalog_products WHERE id = $1`, rawID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrProductNotFound
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (domain.Product, error) {
	var (
		id, name, image, description string
		price                        decimal.Decimal
		createdAt                    time.Time
	)
	if err := row.Scan(&id, &name, &price, &image, &description, &createdAt); err != nil {
		return domain.Product{}, err
	}
	p := domain.NewProduct(domain.OriginDocumentStore, id, name, price, image, description)
	p.CreatedAt = createdAt.UTC()
	return p, nil
}
