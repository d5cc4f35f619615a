package handlers

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/domain"
	applog "storefront/internal/log"
	"storefront/internal/repos"
	"storefront/internal/services"
)

const adminOrderLimit = 100

// AdminHandler is the staff back office. Routes are mounted behind
// RequireUser and RequireStaff.
type AdminHandler struct {
	OrderRepo *repos.OrderRepo
	Users     *repos.UserRepo
}

type adminUserDTO struct {
	UserDTO
	IsStaff bool `json:"is_staff"`
}

// GET /api/admin/orders?status=
func (h *AdminHandler) Orders(c *fiber.Ctx) error {
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	if status != "" && !status.Valid() {
		applog.Security(c, "validation.fail", map[string]any{"field": "status"})
		return detail(c, fiber.StatusBadRequest, "Invalid status")
	}
	ords, err := h.OrderRepo.ListAll(c.UserContext(), status, adminOrderLimit)
	if err != nil {
		applog.Error(c, "admin.orders.list.fail", err, nil)
		return err
	}
	ids := make([]int64, 0, len(ords))
	for _, o := range ords {
		ids = append(ids, o.UserID)
	}
	users, err := h.Users.ByIDs(c.UserContext(), ids)
	if err != nil {
		return err
	}
	for i := range ords {
		ords[i].User = users[ords[i].UserID]
	}
	return c.JSON(toOrderDTOs(ords))
}

// PATCH /api/admin/orders/:id/status
func (h *AdminHandler) UpdateOrderStatus(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return fail(c, services.ErrOrderNotFound)
	}
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c)
	}
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		return detail(c, fiber.StatusBadRequest, "Invalid status")
	}
	if err := h.OrderRepo.UpdateStatus(c.UserContext(), int64(id), status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fail(c, services.ErrOrderNotFound)
		}
		applog.Error(c, "admin.orders.update.fail", err, map[string]any{"order_id": id})
		return err
	}
	applog.Audit(c, "admin.orders.update", map[string]any{"order_id": id, "status": status})
	return c.JSON(fiber.Map{"id": id, "status": status})
}

// GET /api/admin/users
func (h *AdminHandler) UsersPage(c *fiber.Ctx) error {
	us, err := h.Users.List(c.UserContext())
	if err != nil {
		applog.Error(c, "admin.users.list.fail", err, nil)
		return err
	}
	out := make([]adminUserDTO, 0, len(us))
	for i := range us {
		out = append(out, adminUserDTO{UserDTO: toUserDTO(&us[i]), IsStaff: us[i].IsStaff})
	}
	return c.JSON(out)
}
