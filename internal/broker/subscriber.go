package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// Message is one inbound publish, queued for the ingest pipeline.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Config configures a Subscriber's connection to the broker.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QueueSize int
}

// Subscriber maintains a single MQTT connection via autopaho and feeds
// received messages into a bounded queue; when the queue is full the
// incoming message is dropped and counted. Pulse
// never blocks the broker's delivery goroutine on a slow ingest consumer
// (spec.md §3: ingest must not apply backpressure to the broker).
type Subscriber struct {
	cfg     Config
	logger  *slog.Logger
	queue   chan Message
	dropped atomic.Int64
	cm      *autopaho.ConnectionManager
}

// NewSubscriber builds a Subscriber. Call Start to connect and begin
// receiving.
func NewSubscriber(cfg Config, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	return &Subscriber{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Message, cfg.QueueSize),
	}
}

// Messages returns the channel new frames arrive on.
func (s *Subscriber) Messages() <-chan Message {
	return s.queue
}

// Dropped returns the count of messages discarded because the queue was full.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// Start connects to the broker and subscribes to SubscriptionFilter. It
// blocks until ctx is cancelled; autopaho handles reconnection internally.
func (s *Subscriber) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(s.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse broker url: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: s.cfg.Username,
		ConnectPassword: []byte(s.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			s.logger.Info("broker connected", "broker", s.cfg.BrokerURL)
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := cm.Subscribe(subCtx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: SubscriptionFilter, QoS: 1}},
			}); err != nil {
				s.logger.Error("broker subscribe failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			s.logger.Warn("broker connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: s.cfg.ClientID,
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	s.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		msg := Message{
			Topic:      pr.Packet.Topic,
			Payload:    pr.Packet.Payload,
			ReceivedAt: time.Now(),
		}
		select {
		case s.queue <- msg:
		default:
			s.dropped.Add(1)
			s.logger.Warn("ingest queue full, dropping message", "topic", msg.Topic)
		}
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		s.logger.Warn("broker initial connection timed out, retrying in background", "error", err)
	}

	<-ctx.Done()
	return cm.Disconnect(context.Background())
}
