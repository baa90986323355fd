package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cfg "github.com/CurtWal/Touch/configs"
	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryUserRepo struct {
	users map[string]*models.User
}

func (r *memoryUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	clone := *user
	return &clone, nil
}

func (r *memoryUserRepo) SetAutoFollowUp(ctx context.Context, id string, enabled bool, start *time.Time) error {
	if user, ok := r.users[id]; ok {
		user.AutoFollowUpEnabled = enabled
		if start != nil {
			user.AutoFollowUpStartDate = start
		}
	}
	return nil
}

type memoryContactRepo struct {
	contacts []*models.Contact
	stamped  []string
}

func (r *memoryContactRepo) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	for _, c := range r.contacts {
		if c.ID == id {
			clone := *c
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memoryContactRepo) ListUnattended(ctx context.Context, userID string) ([]*models.Contact, error) {
	var out []*models.Contact
	for _, c := range r.contacts {
		if c.UserID == userID && c.LastFollowUpSent == nil {
			clone := *c
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memoryContactRepo) StampFollowUp(ctx context.Context, id string, at time.Time) error {
	for _, c := range r.contacts {
		if c.ID == id {
			stamp := at
			c.LastFollowUpSent = &stamp
		}
	}
	r.stamped = append(r.stamped, id)
	return nil
}

type fakeGenerator struct {
	message string
	channel string
	err     error
	failFor map[string]error
}

func (g *fakeGenerator) Generate(ctx context.Context, contact *models.Contact) (*service.GeneratedMessage, error) {
	if g.failFor != nil {
		if err, ok := g.failFor[contact.ID]; ok {
			return nil, err
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	msg := g.message
	if msg == "" {
		msg = "hi " + contact.FirstName
	}
	return &service.GeneratedMessage{Message: msg, Channel: g.channel}, nil
}

type sentMessage struct {
	contactID string
	channel   string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (s *fakeSender) Send(ctx context.Context, userID, contactID, channel, message string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{contactID: contactID, channel: channel})
	return nil
}

func newFollowUpFixture(user *models.User, contacts []*models.Contact) (*FollowUpWorkflow, *memoryUserRepo, *memoryContactRepo, *fakeSender, *fakeScheduler) {
	users := &memoryUserRepo{users: map[string]*models.User{user.ID: user}}
	contactRepo := &memoryContactRepo{contacts: contacts}
	sender := &fakeSender{}
	sched := &fakeScheduler{}
	config := &cfg.Config{FollowUpInterval: 24 * time.Hour}
	w := NewFollowUpWorkflow(config, users, contactRepo, &fakeGenerator{}, sender, sched)
	return w, users, contactRepo, sender, sched
}

func followUpJob(t *testing.T, userID string) *models.Job {
	t.Helper()
	payload, err := json.Marshal(followUpPayload{UserID: userID})
	require.NoError(t, err)
	return &models.Job{ID: "job1", Name: JobRandomFollowUp, Payload: payload}
}

// A weekday well inside business hours for the default quiet window.
var businessHours = time.Date(2026, time.January, 7, 10, 0, 0, 0, time.UTC)

func enabledUser(start time.Time) *models.User {
	return &models.User{
		ID:                    "u1",
		AutoFollowUpEnabled:   true,
		AutoFollowUpStartDate: &start,
		QuietHoursStart:       18,
		QuietHoursEnd:         8,
	}
}

func TestFollowUpSendsToSampledContacts(t *testing.T) {
	start := businessHours.Add(-24 * time.Hour)
	contacts := make([]*models.Contact, 0, 20)
	for i := 0; i < 20; i++ {
		contacts = append(contacts, &models.Contact{
			ID:         string(rune('a' + i)),
			UserID:     "u1",
			FirstName:  "Contact",
			Email:      "c@example.com",
			EmailOptIn: true,
		})
	}
	w, _, contactRepo, sender, _ := newFollowUpFixture(enabledUser(start), contacts)
	w.Now = func() time.Time { return businessHours }

	require.NoError(t, w.HandleRandomFollowUp(context.Background(), followUpJob(t, "u1")))

	// 10-25% of 20 contacts, rounded up.
	assert.GreaterOrEqual(t, len(sender.sent), 2)
	assert.LessOrEqual(t, len(sender.sent), 5)
	assert.Equal(t, len(sender.sent), len(contactRepo.stamped))
	for _, sent := range sender.sent {
		assert.Equal(t, "email", sent.channel)
	}
}

func TestFollowUpSkipsWeekends(t *testing.T) {
	saturday := time.Date(2026, time.January, 10, 10, 0, 0, 0, time.UTC)
	start := saturday.Add(-24 * time.Hour)
	contacts := []*models.Contact{{ID: "c1", UserID: "u1", Email: "c@example.com", EmailOptIn: true}}
	w, _, _, sender, _ := newFollowUpFixture(enabledUser(start), contacts)
	w.Now = func() time.Time { return saturday }

	require.NoError(t, w.HandleRandomFollowUp(context.Background(), followUpJob(t, "u1")))
	assert.Empty(t, sender.sent)
}

func TestFollowUpDisablesAfterTenDays(t *testing.T) {
	start := businessHours.Add(-11 * 24 * time.Hour)
	contacts := []*models.Contact{{ID: "c1", UserID: "u1", Email: "c@example.com", EmailOptIn: true}}
	w, users, _, sender, sched := newFollowUpFixture(enabledUser(start), contacts)
	w.Now = func() time.Time { return businessHours }

	require.NoError(t, w.HandleRandomFollowUp(context.Background(), followUpJob(t, "u1")))

	assert.Empty(t, sender.sent)
	assert.False(t, users.users["u1"].AutoFollowUpEnabled)
	require.Len(t, sched.cancelled, 1)
	assert.Equal(t, map[string]any{"userId": "u1"}, sched.cancelled[0])
}

func TestFollowUpRespectsQuietHoursAndOptIn(t *testing.T) {
	start := businessHours.Add(-24 * time.Hour)
	contacts := []*models.Contact{
		{ID: "c1", UserID: "u1", Email: "c@example.com", EmailOptIn: true},
		{ID: "c2", UserID: "u1"},
	}

	evening := time.Date(2026, time.January, 7, 20, 0, 0, 0, time.UTC)
	w, _, _, sender, _ := newFollowUpFixture(enabledUser(start), contacts)
	w.Now = func() time.Time { return evening }
	require.NoError(t, w.HandleRandomFollowUp(context.Background(), followUpJob(t, "u1")))
	assert.Empty(t, sender.sent)

	// Opted-out contact is skipped even during business hours.
	w2, _, _, sender2, _ := newFollowUpFixture(enabledUser(start), []*models.Contact{{ID: "c2", UserID: "u1"}})
	w2.Now = func() time.Time { return businessHours }
	require.NoError(t, w2.HandleRandomFollowUp(context.Background(), followUpJob(t, "u1")))
	assert.Empty(t, sender2.sent)
}

func TestFollowUpContactErrorDoesNotAbortRun(t *testing.T) {
	start := businessHours.Add(-24 * time.Hour)
	var contacts []*models.Contact
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		contacts = append(contacts, &models.Contact{
			ID:         id,
			UserID:     "u1",
			Email:      "c@example.com",
			EmailOptIn: true,
		})
	}
	w, _, _, _, _ := newFollowUpFixture(enabledUser(start), contacts)
	w.Now = func() time.Time { return businessHours }
	w.generator = &fakeGenerator{failFor: map[string]error{
		"c1": errors.New("generator down"),
		"c2": errors.New("generator down"),
		"c3": errors.New("generator down"),
		"c4": errors.New("generator down"),
	}}

	// Every contact fails; the handler still succeeds.
	require.NoError(t, w.HandleRandomFollowUp(context.Background(), followUpJob(t, "u1")))
}

func TestFollowUpHonorsGeneratorChannelWhenDeliverable(t *testing.T) {
	start := businessHours.Add(-24 * time.Hour)
	contacts := []*models.Contact{{
		ID:         "c1",
		UserID:     "u1",
		Email:      "c@example.com",
		Phone:      "+15550100",
		EmailOptIn: true,
		SMSOptIn:   true,
	}}
	w, _, _, sender, _ := newFollowUpFixture(enabledUser(start), contacts)
	w.Now = func() time.Time { return businessHours }
	w.generator = &fakeGenerator{channel: "sms"}

	require.NoError(t, w.HandleRandomFollowUp(context.Background(), followUpJob(t, "u1")))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "sms", sender.sent[0].channel)
}

func TestEnableInstallsRecurringJob(t *testing.T) {
	user := &models.User{ID: "u1"}
	w, users, _, _, sched := newFollowUpFixture(user, nil)
	w.Now = func() time.Time { return businessHours }

	require.NoError(t, w.Enable(context.Background(), "u1"))

	assert.True(t, users.users["u1"].AutoFollowUpEnabled)
	require.NotNil(t, users.users["u1"].AutoFollowUpStartDate)
	require.Len(t, sched.recurring, 1)
	assert.Equal(t, JobRandomFollowUp, sched.recurring[0].name)
	assert.Equal(t, JobRandomFollowUp+":u1", sched.recurring[0].uniqueKey)
}

func TestDisableCancelsRecurringJob(t *testing.T) {
	user := &models.User{ID: "u1", AutoFollowUpEnabled: true}
	w, users, _, _, sched := newFollowUpFixture(user, nil)

	require.NoError(t, w.Disable(context.Background(), "u1"))

	assert.False(t, users.users["u1"].AutoFollowUpEnabled)
	require.Len(t, sched.cancelled, 1)
}
