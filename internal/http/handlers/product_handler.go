package handlers

import (
	"github.com/gofiber/fiber/v2"

	"storefront/internal/log"
	"storefront/internal/services"
)

type ProductHandler struct {
	Catalog *services.CatalogService
}

func productID(c *fiber.Ctx) (int64, bool) {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		log.Security(c, "validation.fail", map[string]any{"field": "product_id", "value": c.Params("id")})
		return 0, false
	}
	return int64(id), true
}

// GET /api/products/?q=
func (h *ProductHandler) List(c *fiber.Ctx) error {
	ps, err := h.Catalog.List(c.UserContext(), c.Query("q"))
	if err != nil {
		return err
	}
	return c.JSON(toProductDTOs(ps))
}

// GET /api/products/:id
func (h *ProductHandler) Detail(c *fiber.Ctx) error {
	id, ok := productID(c)
	if !ok {
		return fail(c, services.ErrProductNotFound)
	}
	p, err := h.Catalog.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(toProductDTO(p))
}

// POST /api/products/
func (h *ProductHandler) Create(c *fiber.Ctx) error {
	var req productRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c)
	}
	p, err := h.Catalog.Create(c.UserContext(), currentUser(c), services.ProductInput{
		Title:         req.Title,
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
	})
	if err != nil {
		return fail(c, err)
	}
	log.Audit(c, "catalog.product.create", map[string]any{"product_id": p.ID, "price": money(p.Price), "stock": p.StockQuantity})
	return c.Status(fiber.StatusCreated).JSON(toProductDTO(p))
}

// PATCH /api/products/:id
func (h *ProductHandler) Update(c *fiber.Ctx) error {
	id, ok := productID(c)
	if !ok {
		return fail(c, services.ErrProductNotFound)
	}
	var req productPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c)
	}
	p, err := h.Catalog.Update(c.UserContext(), currentUser(c), id, services.ProductPatch{
		Title:         req.Title,
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
	})
	if err != nil {
		return fail(c, err)
	}
	log.Audit(c, "catalog.product.update", map[string]any{"product_id": p.ID, "price": money(p.Price), "stock": p.StockQuantity})
	return c.JSON(toProductDTO(p))
}

// DELETE /api/products/:id
func (h *ProductHandler) Delete(c *fiber.Ctx) error {
	id, ok := productID(c)
	if !ok {
		return fail(c, services.ErrProductNotFound)
	}
	if err := h.Catalog.Delete(c.UserContext(), currentUser(c), id); err != nil {
		return fail(c, err)
	}
	log.Audit(c, "catalog.product.delete", map[string]any{"product_id": id})
	return c.SendStatus(fiber.StatusNoContent)
}
