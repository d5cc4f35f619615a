package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"storefront/internal/apperr"
	"storefront/internal/domain"
	"storefront/internal/repos"
	"storefront/internal/validate"
)

var (
	ErrProductNotFound = apperr.New(apperr.CodeNotFound, "Product not found")
	ErrStaffOnly       = apperr.New(apperr.CodeForbidden, "You do not have permission to perform this action.")

	maxPrice = decimal.New(1, 8) // NUMERIC(10,2)
)

type CatalogService struct {
	Prods *repos.ProductRepo
}

func NewCatalogService(prods *repos.ProductRepo) *CatalogService {
	return &CatalogService{Prods: prods}
}

// List returns every product, optionally filtered by a search query.
func (s *CatalogService) List(ctx context.Context, q string) ([]domain.Product, error) {
	if q != "" {
		var ok bool
		if q, ok = validate.Q(q); !ok {
			return []domain.Product{}, nil
		}
	}
	return s.Prods.List(ctx, q)
}

func (s *CatalogService) Get(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := s.Prods.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ProductInput is a full product body. ProductPatch fields left nil are
// unchanged.
type ProductInput struct {
	Title         string
	Description   string
	Price         decimal.Decimal
	StockQuantity int
}

type ProductPatch struct {
	Title         *string
	Description   *string
	Price         *decimal.Decimal
	StockQuantity *int
}

func (s *CatalogService) Create(ctx context.Context, actor *domain.User, in ProductInput) (*domain.Product, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	p := &domain.Product{
		Title:         in.Title,
		Description:   in.Description,
		Price:         in.Price,
		StockQuantity: in.StockQuantity,
	}
	if err := checkProduct(p); err != nil {
		return nil, err
	}
	if err := s.Prods.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *CatalogService) Update(ctx context.Context, actor *domain.User, id int64, patch ProductPatch) (*domain.Product, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.StockQuantity != nil {
		p.StockQuantity = *patch.StockQuantity
	}
	if err := checkProduct(p); err != nil {
		return nil, err
	}
	if err := s.Prods.Update(ctx, p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *CatalogService) Delete(ctx context.Context, actor *domain.User, id int64) error {
	if err := requireStaff(actor); err != nil {
		return err
	}
	ok, err := s.Prods.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProductNotFound
	}
	return nil
}

func requireStaff(u *domain.User) error {
	if u == nil {
		return ErrNotAuthenticated
	}
	if !u.IsStaff {
		return ErrStaffOnly
	}
	return nil
}

// checkProduct normalizes and validates p in place.
func checkProduct(p *domain.Product) error {
	title, ok := validate.Title(p.Title)
	if !ok {
		return apperr.New(apperr.CodeInvalidRequest, "Title must be 1-200 characters")
	}
	p.Title = title
	switch {
	case p.Price.IsNegative():
		return apperr.New(apperr.CodeInvalidRequest, "Price cannot be negative")
	case !p.Price.Equal(p.Price.Round(2)):
		return apperr.New(apperr.CodeInvalidRequest, "Price cannot have more than 2 decimal places")
	case p.Price.GreaterThanOrEqual(maxPrice):
		return apperr.New(apperr.CodeInvalidRequest, "Price is too large")
	}
	p.Price = p.Price.Round(2)
	if p.StockQuantity < 0 {
		return apperr.New(apperr.CodeInvalidRequest, "Stock quantity cannot be negative")
	}
	return nil
}
