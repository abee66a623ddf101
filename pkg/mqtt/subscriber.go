// Package mqtt subscribes to the cloud's inbound device topics and hands
// raw payloads to registered per-topic handlers.
package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vendkit/kioskd/pkg/config"
)

// Topic names the kiosk subscribes to.
const (
	TopicProduct     = "product"
	TopicCollection  = "collection"
	TopicBrand       = "brand"
	TopicPlanogram   = "planogram"
	TopicTransaction = "transaction"
	TopicReservation = "reservation"
)

// HandlerFunc receives the raw payload of one inbound message. Handlers run
// on paho's callback goroutine and must hand real work to a worker queue.
type HandlerFunc func(payload []byte)

// Subscriber owns the MQTT connection and the topic handler registry.
type Subscriber struct {
	cfg    *config.MQTTConfig
	client pahomqtt.Client
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewSubscriber creates a subscriber; handlers must be registered before
// Connect.
func NewSubscriber(cfg *config.MQTTConfig, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		cfg:      cfg,
		logger:   logger.With("component", "mqtt"),
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterHandler binds a handler to a topic name. The configured topic
// prefix is prepended at subscribe time.
func (s *Subscriber) RegisterHandler(topic string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = fn
}

// Connect dials the broker, retrying up to ConnectAttempts with doubling
// backoff. Only after every attempt fails is the error returned; the caller
// treats that as fatal.
func (s *Subscriber) Connect() error {
	opts := pahomqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			s.logger.Warn("MQTT connection lost, reconnecting", "error", err)
		})

	s.client = pahomqtt.NewClient(opts)

	backoff := s.cfg.ConnectBackoff
	var lastErr error
	for attempt := 1; attempt <= s.cfg.ConnectAttempts; attempt++ {
		token := s.client.Connect()
		if token.WaitTimeout(s.cfg.ConnectTimeout) && token.Error() == nil {
			s.logger.Info("Connected to MQTT broker",
				"broker", s.cfg.BrokerURL, "attempt", attempt)
			return nil
		}
		lastErr = token.Error()
		if lastErr == nil {
			lastErr = fmt.Errorf("connect timed out after %s", s.cfg.ConnectTimeout)
		}
		s.logger.Warn("MQTT connect attempt failed",
			"attempt", attempt, "of", s.cfg.ConnectAttempts,
			"backoff", backoff, "error", lastErr)
		if attempt < s.cfg.ConnectAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("mqtt connect failed after %d attempts: %w", s.cfg.ConnectAttempts, lastErr)
}

// onConnect (re)subscribes every registered topic. Runs on initial connect
// and on every automatic reconnect.
func (s *Subscriber) onConnect(client pahomqtt.Client) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for topic, fn := range s.handlers {
		fullTopic := s.cfg.TopicPrefix + topic
		fn := fn
		token := client.Subscribe(fullTopic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			fn(msg.Payload())
		})
		go func(topic string) {
			token.Wait()
			if err := token.Error(); err != nil {
				s.logger.Error("MQTT subscribe failed", "topic", topic, "error", err)
			} else {
				s.logger.Info("Subscribed to MQTT topic", "topic", topic)
			}
		}(fullTopic)
	}
}

// Stop unsubscribes all topics and disconnects.
func (s *Subscriber) Stop() {
	if s.client == nil || !s.client.IsConnected() {
		return
	}
	s.mu.RLock()
	topics := make([]string, 0, len(s.handlers))
	for topic := range s.handlers {
		topics = append(topics, s.cfg.TopicPrefix+topic)
	}
	s.mu.RUnlock()

	if len(topics) > 0 {
		s.client.Unsubscribe(topics...).WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)
	s.logger.Info("MQTT subscriber stopped")
}
