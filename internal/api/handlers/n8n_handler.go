package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/CurtWal/Touch/internal/repository"
	"github.com/CurtWal/Touch/internal/transfer"
	"github.com/CurtWal/Touch/internal/workflow"
)

// N8NHandler exposes the endpoints an external automation pipeline uses
// to pull due posts and report back publication results.
type N8NHandler struct {
	posts repository.PostRepository
	wf    *workflow.PublishWorkflow
}

func NewN8NHandler(posts repository.PostRepository, wf *workflow.PublishWorkflow) *N8NHandler {
	return &N8NHandler{posts: posts, wf: wf}
}

func (h *N8NHandler) PendingPosts(c *fiber.Ctx) error {
	posts, err := h.posts.ListPending(c.Context(), time.Now())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(posts)
}

// MarkPublished records remote ids reported by the pipeline and queues
// the deferred post teardown.
func (h *N8NHandler) MarkPublished(c *fiber.Ctx) error {
	postID := c.Params("id")

	post, err := h.posts.GetByID(c.Context(), postID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if post == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Post not found",
		})
	}

	var body transfer.MarkPublished
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}
	if body.RemoteIDs == nil {
		body.RemoteIDs = map[string]string{}
	}

	now := time.Now()
	if err := h.posts.SetPublished(c.Context(), post.ID, body.RemoteIDs, now); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := h.wf.ScheduleDeletion(c.Context(), post.ID, now.Add(24*time.Hour)); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
	})
}
