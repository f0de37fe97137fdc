package sharing

import (
	"context"
	"slices"
	"sync"

	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/internal/notify"
	"github.com/askwhyharsh/safezone/internal/storage"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

type ContactLister interface {
	ListContacts(ctx context.Context, userID string) ([]storage.Contact, error)
}

type Notifier interface {
	Broadcast(ctx context.Context, recipients []notify.Recipient, alert notify.Alert) notify.Result
}

// Publisher forwards accepted positions to the user's share record while
// sharing is enabled. Contacts hear about it once on enable and once on
// disable. Storage and delivery failures are logged, never returned.
type Publisher struct {
	userID      string
	displayName string
	store       *Store
	contacts    ContactLister
	notifier    Notifier
	logger      logger.Logger

	mu         sync.Mutex
	enabled    bool
	contactIDs []string
	last       *location.Position
}

func NewPublisher(userID, displayName string, store *Store, contacts ContactLister, notifier Notifier, log logger.Logger) *Publisher {
	return &Publisher{
		userID:      userID,
		displayName: displayName,
		store:       store,
		contacts:    contacts,
		notifier:    notifier,
		logger:      log.With("user_id", userID),
	}
}

func (p *Publisher) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Enable turns sharing on with every current contact and reports whether
// it changed anything. pos may be nil; the last published position is used.
func (p *Publisher) Enable(ctx context.Context, pos *location.Position) bool {
	contacts := p.listContacts(ctx)
	ids := make([]string, len(contacts))
	for i, c := range contacts {
		ids[i] = c.ID
	}

	p.mu.Lock()
	if p.enabled {
		p.mu.Unlock()
		return false
	}
	p.enabled = true
	p.contactIDs = ids
	if pos != nil {
		p.last = pos
	}
	p.upsertLocked(ctx)
	last := p.last
	p.mu.Unlock()

	p.logger.Info("Location sharing enabled", "contacts", len(ids))
	p.notify(ctx, contacts, notify.SharingStartedMessage(p.displayName), last)
	return true
}

// Disable turns sharing off and tells the contacts it was shared with.
func (p *Publisher) Disable(ctx context.Context) bool {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return false
	}
	p.enabled = false
	ids := p.contactIDs
	p.contactIDs = nil
	if err := p.store.Deactivate(ctx, p.userID); err != nil {
		p.logger.Error("Failed to deactivate share record", "error", err)
	}
	last := p.last
	p.mu.Unlock()

	p.logger.Info("Location sharing disabled")

	var recipients []storage.Contact
	for _, c := range p.listContacts(ctx) {
		if slices.Contains(ids, c.ID) {
			recipients = append(recipients, c)
		}
	}
	p.notify(ctx, recipients, notify.SharingStoppedMessage(p.displayName), last)
	return true
}

// Publish records pos and, when sharing, overwrites the share record.
func (p *Publisher) Publish(ctx context.Context, pos location.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &pos
	if p.enabled {
		p.upsertLocked(ctx)
	}
}

// Restore resumes sharing from an active stored record without notifying
// anyone. Used when a monitor restarts.
func (p *Publisher) Restore(ctx context.Context) bool {
	rec, err := p.store.Get(ctx, p.userID)
	if err != nil || !rec.Active {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
	p.contactIDs = rec.ContactIDs
	p.logger.Info("Location sharing restored", "contacts", len(rec.ContactIDs))
	return true
}

func (p *Publisher) upsertLocked(ctx context.Context) {
	rec := Record{
		UserID:     p.userID,
		Active:     true,
		ContactIDs: p.contactIDs,
	}
	if p.last != nil {
		pt := p.last.Point
		rec.LastLocation = &pt
		rec.Accuracy = p.last.Accuracy
	}
	if err := p.store.Upsert(ctx, rec); err != nil {
		p.logger.Error("Failed to publish location", "error", err)
	}
}

func (p *Publisher) listContacts(ctx context.Context) []storage.Contact {
	if p.contacts == nil {
		return nil
	}
	contacts, err := p.contacts.ListContacts(ctx, p.userID)
	if err != nil {
		p.logger.Error("Failed to load contacts", "error", err)
		return nil
	}
	return contacts
}

func (p *Publisher) notify(ctx context.Context, contacts []storage.Contact, msg string, pos *location.Position) {
	if p.notifier == nil || len(contacts) == 0 {
		return
	}
	var loc *location.Point
	if pos != nil {
		pt := pos.Point
		loc = &pt
	}
	p.notifier.Broadcast(ctx, Recipients(contacts), notify.Alert{Kind: notify.KindUpdate, Message: msg, Location: loc})
}

// Recipients maps stored contacts to dispatcher recipients.
func Recipients(contacts []storage.Contact) []notify.Recipient {
	out := make([]notify.Recipient, len(contacts))
	for i, c := range contacts {
		out[i] = notify.Recipient{ID: c.ID, Name: c.Name, Phone: c.PhoneNumber}
	}
	return out
}
