package handlers

import (
	"io"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/internal/repository"
	"github.com/CurtWal/Touch/internal/scheduler"
	"github.com/CurtWal/Touch/internal/service"
	"github.com/CurtWal/Touch/internal/transfer"
	"github.com/CurtWal/Touch/internal/workflow"
)

type PostHandler struct {
	posts repository.PostRepository
	media service.MediaService
	wf    *workflow.PublishWorkflow
}

func NewPostHandler(posts repository.PostRepository, media service.MediaService, wf *workflow.PublishWorkflow) *PostHandler {
	return &PostHandler{posts: posts, media: media, wf: wf}
}

// scheduleErrorStatus maps an enqueue failure after the post was saved.
// A rejected run time is the caller's problem, everything else is ours.
func scheduleErrorStatus(err error) int {
	if err == scheduler.ErrInvalidSchedule {
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var body transfer.PostCreation
	if err := c.BodyParser(&body); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}
	if len(body.Platforms) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No platforms selected",
		})
	}

	id, err := gonanoid.New()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	post := &models.Post{
		ID:           id,
		UserID:       userID,
		Platforms:    body.Platforms,
		BodyText:     body.BodyText,
		FirstComment: body.FirstComment,
		MediaID:      body.MediaID,
		Status:       models.PostStatusDraft,
	}

	if body.ScheduledAt != "" {
		scheduledAt, err := time.Parse(time.RFC3339, body.ScheduledAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid scheduled_at, expected RFC3339",
			})
		}
		post.ScheduledAt = &scheduledAt
		post.Status = models.PostStatusScheduled
	}

	if err := h.posts.Create(c.Context(), post); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if post.Status == models.PostStatusScheduled {
		if err := h.wf.SchedulePublish(c.Context(), post); err != nil {
			return c.Status(scheduleErrorStatus(err)).JSON(fiber.Map{
				"error": "Post saved but could not be scheduled",
			})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":      post.ID,
		"message": "Post created",
	})
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	posts, err := h.posts.ListByUserID(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list posts",
		})
	}
	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	userID := GetUserID(c)

	post, err := h.posts.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if post == nil || post.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Post not found",
		})
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

// ApprovePost flips a draft to approved and, when a scheduled time is
// set, enqueues its publish job.
func (h *PostHandler) ApprovePost(c *fiber.Ctx) error {
	userID := GetUserID(c)

	post, err := h.posts.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if post == nil || post.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Post not found",
		})
	}

	if err := h.posts.UpdateStatus(c.Context(), models.PostStatusApproved, post.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	post.Status = models.PostStatusApproved

	if post.ScheduledAt != nil {
		if err := h.wf.SchedulePublish(c.Context(), post); err != nil {
			return c.Status(scheduleErrorStatus(err)).JSON(fiber.Map{
				"error": "Post approved but could not be scheduled",
			})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Post approved",
	})
}

func (h *PostHandler) DeletePost(c *fiber.Ctx) error {
	userID := GetUserID(c)

	post, err := h.posts.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if post == nil || post.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Post not found",
		})
	}

	if post.MediaID != "" {
		if err := h.media.Delete(c.Context(), post.MediaID); err != nil {
			slog.Info(err.Error())
		}
	}
	if err := h.posts.Remove(c.Context(), post.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Post deleted",
	})
}

func (h *PostHandler) UploadMedia(c *fiber.Ctx) error {
	userID := GetUserID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file uploaded",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	asset, err := h.media.Upload(c.Context(), userID, fileHeader.Filename, data)
	if err != nil {
		status := fiber.StatusInternalServerError
		if err == service.ErrMediaTooLarge || err == service.ErrMediaUnsupported {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(asset)
}

func (h *PostHandler) ServeMedia(c *fiber.Ctx) error {
	asset, data, err := h.media.Get(c.Context(), c.Params("id"))
	if err != nil {
		if err == service.ErrMediaNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Media not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Set("Content-Type", asset.MimeType)
	return c.Status(fiber.StatusOK).Send(data)
}
