package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"smart-queue/models"

	"github.com/nats-io/nats.go"
)

// Publisher delivers an encoded frame to one channel.
type Publisher interface {
	Publish(channel string, frame []byte) error
}

// NATSPublisher mirrors frames onto NATS subjects named
// "<namespace>.<channel>".
type NATSPublisher struct {
	conn      *nats.Conn
	namespace string
}

func NewNATSPublisher(conn *nats.Conn, namespace string) *NATSPublisher {
	if namespace == "" {
		namespace = "queue.notifications"
	}
	return &NATSPublisher{conn: conn, namespace: namespace}
}

func (p *NATSPublisher) Publish(channel string, frame []byte) error {
	subject := p.namespace + "." + channel
	if err := p.conn.Publish(subject, frame); err != nil {
		return fmt.Errorf("nats: publish %s: %w", subject, err)
	}
	return nil
}

// Notifier builds push frames and hands them to every publisher.
type Notifier struct {
	publishers []Publisher
}

func NewNotifier(publishers ...Publisher) *Notifier {
	return &Notifier{publishers: publishers}
}

func (n *Notifier) send(channel string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("encode push frame", "channel", channel, "error", err)
		return
	}
	for _, p := range n.publishers {
		if err := p.Publish(channel, data); err != nil {
			slog.Warn("publish push frame", "channel", channel, "error", err)
		}
	}
}

type envelope struct {
	Type    models.NotificationType `json:"type"`
	Message any                     `json:"message"`
}

// User sends a personal notification.
func (n *Notifier) User(userID int64, msg models.Notification) {
	n.send(userChannel(userID), envelope{Type: models.NotifyUser, Message: msg})
}

// StaffQueue sends serviceID's full active queue to its staff.
func (n *Notifier) StaffQueue(serviceID int64, queue []models.QueueEntry) {
	if queue == nil {
		queue = []models.QueueEntry{}
	}
	n.send(staffChannel(serviceID), envelope{
		Type: models.NotifyStaff,
		Message: models.Notification{
			Type:      models.NotifyQueueUpdate,
			ServiceID: serviceID,
			Queue:     queue,
		},
	})
}

// Public announces a service's progress to everyone.
func (n *Notifier) Public(msg models.Notification) {
	msg.Type = models.NotifyPublicUpdate
	n.send(publicChannel, msg)
}

// statusMessage is the text a user receives when staff act on their entry.
func statusMessage(entry models.QueueEntry) string {
	name := entry.Service.Name
	switch entry.Status {
	case models.StatusInProgress:
		counter := ""
		if entry.Counter != nil {
			counter = entry.Counter.Name
		}
		return fmt.Sprintf("It's your turn for %s. Please proceed to counter %s.", name, counter)
	case models.StatusCompleted:
		return fmt.Sprintf("Your service for %s is complete. Thank you!", name)
	case models.StatusSkipped:
		return fmt.Sprintf("You have been skipped in the queue for %s. Please contact staff for assistance.", name)
	case models.StatusRejected:
		return fmt.Sprintf("Your request for %s has been rejected. Please contact staff for more information.", name)
	}
	return ""
}
