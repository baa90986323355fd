package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"time"

	cfg "github.com/CurtWal/Touch/configs"
	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/internal/repository"
	"github.com/CurtWal/Touch/internal/service"
)

// Automated follow-ups self-disable this long after the user turns
// them on.
const followUpMaxAge = 10 * 24 * time.Hour

type followUpPayload struct {
	UserID string `json:"userId"`
}

// FollowUpWorkflow runs the recurring follow-up loop: each firing picks
// a random slice of never-contacted CRM contacts and messages them.
type FollowUpWorkflow struct {
	config    *cfg.Config
	users     repository.UserRepository
	contacts  repository.ContactRepository
	generator service.Generator
	sender    service.MessageSender
	scheduler JobScheduler

	// Now is swappable for tests.
	Now func() time.Time
}

func NewFollowUpWorkflow(config *cfg.Config, users repository.UserRepository, contacts repository.ContactRepository, generator service.Generator, sender service.MessageSender, scheduler JobScheduler) *FollowUpWorkflow {
	return &FollowUpWorkflow{
		config:    config,
		users:     users,
		contacts:  contacts,
		generator: generator,
		sender:    sender,
		scheduler: scheduler,
		Now:       time.Now,
	}
}

// Enable flips the user's flag and installs the recurring job. Calling
// it again restarts the 10-day window.
func (w *FollowUpWorkflow) Enable(ctx context.Context, userID string) error {
	now := w.Now()
	if err := w.users.SetAutoFollowUp(ctx, userID, true, &now); err != nil {
		return err
	}
	payload, err := json.Marshal(followUpPayload{UserID: userID})
	if err != nil {
		return err
	}
	return w.scheduler.ScheduleEvery(ctx, JobRandomFollowUp, w.config.FollowUpInterval, payload, JobRandomFollowUp+":"+userID)
}

// Disable clears the flag and cancels the recurring job.
func (w *FollowUpWorkflow) Disable(ctx context.Context, userID string) error {
	if err := w.users.SetAutoFollowUp(ctx, userID, false, nil); err != nil {
		return err
	}
	return w.scheduler.Cancel(ctx, JobRandomFollowUp, map[string]any{"userId": userID})
}

// HandleRandomFollowUp is the "random_follow_up" job handler.
func (w *FollowUpWorkflow) HandleRandomFollowUp(ctx context.Context, job *models.Job) error {
	var payload followUpPayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	user, err := w.users.GetByID(ctx, payload.UserID)
	if err != nil {
		return err
	}
	if user == nil || !user.AutoFollowUpEnabled {
		return nil
	}

	now := w.Now()
	if user.AutoFollowUpStartDate != nil && now.Sub(*user.AutoFollowUpStartDate) > followUpMaxAge {
		slog.Info("auto follow-ups expired", "user_id", user.ID)
		return w.Disable(ctx, user.ID)
	}

	if day := now.Weekday(); day == time.Saturday || day == time.Sunday {
		return nil
	}

	contacts, err := w.contacts.ListUnattended(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		return nil
	}

	for _, contact := range sampleContacts(contacts) {
		if err := w.followUp(ctx, user, contact, now); err != nil {
			slog.Error("follow-up failed", "contact_id", contact.ID, "error", err)
		}
	}
	return nil
}

// sampleContacts picks a random 10-25% slice, at least one contact.
func sampleContacts(contacts []*models.Contact) []*models.Contact {
	fraction := 0.10 + rand.Float64()*0.15
	count := int(math.Ceil(float64(len(contacts)) * fraction))
	shuffled := make([]*models.Contact, len(contacts))
	copy(shuffled, contacts)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:count]
}

func (w *FollowUpWorkflow) followUp(ctx context.Context, user *models.User, contact *models.Contact, now time.Time) error {
	if !contact.SMSOptIn && !contact.EmailOptIn {
		return nil
	}
	if inQuietHours(now.Hour(), user.QuietHoursStart, user.QuietHoursEnd) {
		return nil
	}

	channel := pickChannel(contact)
	if channel == "" {
		return nil
	}

	generated, err := w.generator.Generate(ctx, contact)
	if err != nil {
		return err
	}
	if generated.Message == "" {
		slog.Warn("generator produced empty message", "contact_id", contact.ID)
		return nil
	}

	// The generator may request a channel; honor it only when the
	// contact can actually receive it.
	if generated.Channel != "" && channelDeliverable(contact, generated.Channel) {
		channel = generated.Channel
	}
	if !channelDeliverable(contact, channel) {
		return nil
	}

	if err := w.sender.Send(ctx, user.ID, contact.ID, channel, generated.Message); err != nil {
		return err
	}
	return w.contacts.StampFollowUp(ctx, contact.ID, now)
}

// inQuietHours treats the window as overnight: start in the evening,
// end the next morning.
func inQuietHours(hour, start, end int) bool {
	return hour >= start || hour < end
}

func pickChannel(contact *models.Contact) string {
	switch {
	case contact.SMSOptIn && contact.EmailOptIn:
		if rand.Intn(2) == 0 {
			return "sms"
		}
		return "email"
	case contact.SMSOptIn:
		return "sms"
	case contact.EmailOptIn:
		return "email"
	}
	return ""
}

func channelDeliverable(contact *models.Contact, channel string) bool {
	switch channel {
	case "email":
		return contact.EmailOptIn && contact.Email != ""
	case "sms":
		return contact.SMSOptIn && contact.Phone != ""
	}
	return false
}
