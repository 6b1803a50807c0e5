// Package audit publishes authentication events to kafka. Publishing is
// best-effort: call sites log failures and carry on, an unavailable broker
// never blocks a login.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const Topic = "auth_events"

const (
	EventLogin           = "user_logged_in"
	EventLoginFailed     = "login_failed"
	EventLockout         = "ip_locked_out"
	EventLogout          = "user_logged_out"
	EventLogoutAll       = "user_logged_out_everywhere"
	EventRegistered      = "user_registered"
	EventPasswordChanged = "password_changed"
	EventTwoFactorOn     = "two_factor_enabled"
	EventTwoFactorOff    = "two_factor_disabled"
)

type Producer struct {
	writer *kafka.Writer
}

// NewProducer returns nil when no brokers are configured; a nil producer
// publishes nothing.
func NewProducer(brokers []string) *Producer {
	if len(brokers) == 0 {
		return nil
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

type Event struct {
	Type      string         `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	Username  string         `json:"username,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	At        time.Time      `json:"at"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func (p *Producer) Publish(ctx context.Context, ev Event) error {
	if p == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}

	key := ev.UserID
	if key == "" {
		key = ev.IPAddress
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	}); err != nil {
		return fmt.Errorf("audit: publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
