package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// Money is always rendered with two decimals as a JSON string.
func money(d decimal.Decimal) string { return d.StringFixed(2) }

type UserDTO struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func toUserDTO(u *domain.User) UserDTO {
	return UserDTO{ID: u.ID, Username: u.Username, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}
}

type ProductDTO struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Price         string `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
}

func toProductDTO(p *domain.Product) ProductDTO {
	return ProductDTO{
		ID:            p.ID,
		Title:         p.Title,
		Description:   p.Description,
		Price:         money(p.Price),
		StockQuantity: p.StockQuantity,
	}
}

func toProductDTOs(ps []domain.Product) []ProductDTO {
	out := make([]ProductDTO, 0, len(ps))
	for i := range ps {
		out = append(out, toProductDTO(&ps[i]))
	}
	return out
}

type OrderItemDTO struct {
	ID              int64       `json:"id"`
	Product         *ProductDTO `json:"product"`
	Quantity        int         `json:"quantity"`
	PriceAtPurchase string      `json:"price_at_purchase"`
}

type OrderDTO struct {
	ID          int64          `json:"id"`
	User        *UserDTO       `json:"user"`
	CreatedAt   time.Time      `json:"created_at"`
	Status      string         `json:"status"`
	TotalAmount string         `json:"total_amount"`
	Items       []OrderItemDTO `json:"items"`
}

func toOrderDTO(o *domain.Order) OrderDTO {
	dto := OrderDTO{
		ID:          o.ID,
		CreatedAt:   o.CreatedAt,
		Status:      string(o.Status),
		TotalAmount: money(o.TotalAmount),
		Items:       make([]OrderItemDTO, 0, len(o.Items)),
	}
	if o.User != nil {
		u := toUserDTO(o.User)
		dto.User = &u
	}
	for _, it := range o.Items {
		item := OrderItemDTO{ID: it.ID, Quantity: it.Quantity, PriceAtPurchase: money(it.PriceAtPurchase)}
		if it.Product != nil {
			p := toProductDTO(it.Product)
			item.Product = &p
		}
		dto.Items = append(dto.Items, item)
	}
	return dto
}

func toOrderDTOs(orders []domain.Order) []OrderDTO {
	out := make([]OrderDTO, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderDTO(&orders[i]))
	}
	return out
}

// ---------- Request bodies ----------

type loginRequest struct {
	Email             string `json:"email"`
	EncryptedPassword string `json:"encrypted_password"`
}

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type productRequest struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
}

type productPatchRequest struct {
	Title         *string          `json:"title"`
	Description   *string          `json:"description"`
	Price         *decimal.Decimal `json:"price"`
	StockQuantity *int             `json:"stock_quantity"`
}

type orderItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type orderRequest struct {
	Items []orderItemRequest `json:"items"`
}

type statusRequest struct {
	Status string `json:"status"`
}
