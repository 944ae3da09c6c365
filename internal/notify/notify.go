package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"teamline/internal/domain"
	"teamline/internal/repo"
)

const deliverTimeout = 10 * time.Second

// Channel delivers a notification over a secondary transport. Failures are
// logged and never surfaced to the mutation that produced the notification.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, user domain.User, n domain.Notification) error
}

type Dispatcher struct {
	Repo     repo.Repo
	Channels []Channel
	Now      func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Batch collects notifications stored during one transaction. Secondary
// channel delivery happens only when the caller flushes the batch after
// commit, so a rollback or conflict retry never emails anyone.
type Batch struct {
	d       *Dispatcher
	pending []domain.Notification
}

func (d *Dispatcher) Batch() *Batch {
	return &Batch{d: d}
}

// Send stores the notification inside the caller's transaction and queues it
// for delivery when the batch is flushed.
func (b *Batch) Send(ctx context.Context, tx *sql.Tx, n domain.Notification) (domain.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Priority == "" {
		n.Priority = domain.PriorityMedium
	}
	n.Channels.InApp = true
	n.CreatedAt = b.d.now().UTC().Format(time.RFC3339)
	if err := b.d.Repo.InsertNotification(ctx, tx, n); err != nil {
		return n, err
	}
	if n.Channels.Email || n.Channels.Slack {
		b.pending = append(b.pending, n)
	}
	return n, nil
}

// SendBulk fans one notification out to several recipients.
func (b *Batch) SendBulk(ctx context.Context, tx *sql.Tx, userIDs []string, n domain.Notification) error {
	for _, id := range userIDs {
		c := n
		c.ID = ""
		c.UserID = id
		if _, err := b.Send(ctx, tx, c); err != nil {
			return err
		}
	}
	return nil
}

// Deliver flushes queued notifications to secondary channels. Call it only
// after the transaction that stored them has committed.
func (b *Batch) Deliver() {
	if len(b.pending) == 0 || len(b.d.Channels) == 0 {
		return
	}
	d := b.d
	queued := b.pending
	b.pending = nil
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		defer cancel()
		for _, n := range queued {
			user, err := d.Repo.GetUser(ctx, n.UserID)
			if err != nil {
				log.Printf("notify: resolve user %s: %v", n.UserID, err)
				continue
			}
			for _, ch := range d.Channels {
				if !channelEnabled(n, ch.Name()) {
					continue
				}
				if err := ch.Deliver(ctx, user, n); err != nil {
					log.Printf("notify: %s delivery to %s failed: %v", ch.Name(), user.Email, err)
				}
			}
		}
	}()
}

func channelEnabled(n domain.Notification, name string) bool {
	switch name {
	case "email":
		return n.Channels.Email
	case "slack":
		return n.Channels.Slack
	default:
		return false
	}
}

// Metadata encodes structured notification context as JSON.
func Metadata(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
