package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/apperr"
	"storefront/internal/domain"
	"storefront/internal/log"
	"storefront/internal/metrics"
	"storefront/internal/services"
)

type OrderHandler struct {
	Order   *services.OrderService
	Metrics *metrics.Metrics
}

// POST /api/orders/
func (h *OrderHandler) Place(c *fiber.Ctx) error {
	var req orderRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c)
	}
	items := make([]domain.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	start := time.Now()
	o, err := h.Order.Create(c.UserContext(), currentUser(c), items)
	h.Metrics.OrderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		code := apperr.CodeOf(err)
		h.Metrics.OrdersRejected.WithLabelValues(string(code)).Inc()
		if code == apperr.CodeInternal {
			log.Error(c, "order.place.fail", err, map[string]any{"lines": len(items)})
			return err
		}
		log.Security(c, "order.place.reject", map[string]any{"lines": len(items), "reason": apperr.Message(err)})
		return fail(c, err)
	}

	h.Metrics.OrdersCreated.Inc()
	log.Audit(c, "order.place", map[string]any{"order_id": o.ID, "total": money(o.TotalAmount), "lines": len(o.Items)})
	return c.JSON(toOrderDTO(o))
}

// GET /api/orders/
func (h *OrderHandler) History(c *fiber.Ctx) error {
	orders, err := h.Order.List(c.UserContext(), currentUser(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(toOrderDTOs(orders))
}

// GET /api/orders/:id
func (h *OrderHandler) View(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return fail(c, services.ErrOrderNotFound)
	}
	o, err := h.Order.Get(c.UserContext(), currentUser(c), int64(id))
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			log.Security(c, "order.view.denied", map[string]any{"order_id": id})
		}
		return fail(c, err)
	}
	return c.JSON(toOrderDTO(o))
}
