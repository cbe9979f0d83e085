package notify

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"

	"github.com/moyoez/localswap/types"
)

// NATSSink publishes notifications on a NATS subject. Each notification type
// goes to "<subject>.<type>".
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("localswap"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(notification *types.Notification) error {
	if notification == nil {
		return nil
	}
	data, err := sonic.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	subject := s.subject
	if notification.Type != "" {
		subject += "." + notification.Type
	}
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
