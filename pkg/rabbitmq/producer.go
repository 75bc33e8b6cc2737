/**
 * @description
 * This package provides a producer for publishing pool-service events to
 * RabbitMQ. Settlement outcomes are published to a durable topic exchange so
 * downstream services (notifications, reconciliation tooling) can react;
 * financial discrepancies in particular must reach the reconciliation queue
 * and are never silently dropped, even though the API response also carries
 * them.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Routing keys for pool-service events.
const (
	RoutingKeyContribution  = "pool.contribution.recorded"
	RoutingKeyFulfilled     = "pool.request.fulfilled"
	RoutingKeyRedistributed = "pool.redistribution.completed"
	RoutingKeyDiscrepancy   = "pool.settlement.discrepancy"
)

// ContributionRecordedEvent is published after a contribution credits the pool.
type ContributionRecordedEvent struct {
	NetworkID  uuid.UUID `json:"network_id"`
	MemberID   uuid.UUID `json:"member_id"`
	Amount     string    `json:"amount"`
	NewBalance string    `json:"new_balance"`
	Timestamp  time.Time `json:"timestamp"`
}

// RequestFulfilledEvent is published after a request commit (full or partial).
type RequestFulfilledEvent struct {
	NetworkID     uuid.UUID `json:"network_id"`
	RequestID     uuid.UUID `json:"request_id"`
	MemberID      uuid.UUID `json:"member_id"`
	Allocated     string    `json:"allocated"`
	Status        string    `json:"status"`
	SettlementRef string    `json:"settlement_ref"`
	Timestamp     time.Time `json:"timestamp"`
}

// RedistributionCompletedEvent summarizes one redistribution pass.
type RedistributionCompletedEvent struct {
	NetworkID      uuid.UUID `json:"network_id"`
	ClaimCount     int       `json:"claim_count"`
	CommittedCount int       `json:"committed_count"`
	CommittedTotal string    `json:"committed_total"`
	Timestamp      time.Time `json:"timestamp"`
}

// SettlementDiscrepancyEvent is published whenever a claim terminates in a
// state where treasury accounting and the ledger disagree. These events feed
// out-of-band reconciliation.
type SettlementDiscrepancyEvent struct {
	NetworkID uuid.UUID `json:"network_id"`
	RequestID uuid.UUID `json:"request_id"`
	Outcome   string    `json:"outcome"`
	Fee       string    `json:"fee"`
	FeeRef    *string   `json:"fee_settlement_ref,omitempty"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// EventProducer holds the RabbitMQ connection and channel for publishing
// messages. The mutex serializes publishes: the reopen-on-failure path swaps
// the channel, and concurrent claims publish through the same producer.
type EventProducer struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is
// unavailable at startup. Publishes are logged and skipped.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

// Publish sends a message to a specific exchange with a routing key.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Ensure the exchange exists (durable topic)
	if err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"exchange declare failed; reopening channel\" exchange=%s err=%v", exchange, err)
		// Attempt simple channel reopen once
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				if err2 := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err2 != nil {
					return err2
				}
			} else {
				return chErr
			}
		} else {
			return err
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        jsonBody,
		},
	)
	if err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		// One-shot retry: reopen channel and try again
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				// re-declare exchange and retry
				if exErr := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); exErr == nil {
					err = p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
						ContentType: "application/json",
						Timestamp:   time.Now(),
						Body:        jsonBody,
					})
					if err == nil {
						return nil
					}
				}
			}
		}
		return err
	}
	return nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
