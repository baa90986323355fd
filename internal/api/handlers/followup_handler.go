package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/CurtWal/Touch/internal/repository"
	"github.com/CurtWal/Touch/internal/transfer"
	"github.com/CurtWal/Touch/internal/workflow"
)

type FollowUpHandler struct {
	users repository.UserRepository
	wf    *workflow.FollowUpWorkflow
}

func NewFollowUpHandler(users repository.UserRepository, wf *workflow.FollowUpWorkflow) *FollowUpHandler {
	return &FollowUpHandler{users: users, wf: wf}
}

func (h *FollowUpHandler) Toggle(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var body transfer.FollowUpToggle
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	var err error
	if body.Enabled {
		err = h.wf.Enable(c.Context(), userID)
	} else {
		err = h.wf.Disable(c.Context(), userID)
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"enabled": body.Enabled,
	})
}

func (h *FollowUpHandler) Status(c *fiber.Ctx) error {
	userID := GetUserID(c)

	user, err := h.users.GetByID(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if user == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"enabled":    user.AutoFollowUpEnabled,
		"started_at": user.AutoFollowUpStartDate,
	})
}
