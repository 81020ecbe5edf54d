package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the part of *amqp.Channel used by AMQPMailer.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Envelope is the JSON body published for each message.
type Envelope struct {
	To       string            `json:"to"`
	Name     string            `json:"name,omitempty"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
	QueuedAt time.Time         `json:"queued_at"`
}

// AMQPMailer publishes reset mail to a queue. amqp channels are not safe
// for concurrent publishing, so Send serializes on mu.
type AMQPMailer struct {
	mu    sync.Mutex
	pub   Publisher
	queue string

	closeFn func() error
}

// NewAMQPMailer publishes through pub to queue on the default exchange.
func NewAMQPMailer(pub Publisher, queue string) (*AMQPMailer, error) {
	if pub == nil {
		return nil, errors.New("amqp publisher is required")
	}
	if strings.TrimSpace(queue) == "" {
		return nil, errors.New("amqp queue is required")
	}
	return &AMQPMailer{pub: pub, queue: queue}, nil
}

// DialAMQP connects to url, declares a durable queue and returns a mailer
// owning the connection.
func DialAMQP(url, queue string) (*AMQPMailer, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("amqp url is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	m, err := NewAMQPMailer(ch, queue)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	m.closeFn = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return m, nil
}

func (m *AMQPMailer) Send(ctx context.Context, msg goIdentity.MailMessage) error {
	body, err := json.Marshal(Envelope{
		To:       msg.To,
		Name:     msg.Name,
		Template: msg.Template,
		Data:     msg.Data,
		QueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err = m.pub.PublishWithContext(ctx, "", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         msg.Template,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish mail: %w", err)
	}
	return nil
}

// Close releases the connection opened by DialAMQP. It is a no-op for
// mailers built with NewAMQPMailer.
func (m *AMQPMailer) Close() error {
	if m.closeFn == nil {
		return nil
	}
	return m.closeFn()
}
