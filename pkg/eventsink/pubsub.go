// Package eventsink forwards fetch-lifecycle events to external brokers so
// observers outside the process can follow cache activity.
package eventsink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-querycache/pkg/fetchevents"
	"github.com/rs/zerolog"
)

// PubsubSinkConfig holds configuration for the Pub/Sub sink.
type PubsubSinkConfig struct {
	TopicID                    string        `yaml:"topic_id"`
	TopicExistsTimeout         time.Duration `yaml:"topic_exists_timeout"`
	PublishConfirmationTimeout time.Duration `yaml:"publish_confirmation_timeout"`
}

// NewPubsubSinkDefaults provides a config with sensible timeouts.
func NewPubsubSinkDefaults(topicID string) *PubsubSinkConfig {
	return &PubsubSinkConfig{
		TopicID:                    topicID,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
}

// EventMessage is the JSON body of every published message.
type EventMessage struct {
	Kind     string    `json:"kind"`
	QueryKey string    `json:"query_key"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// PubsubSink publishes every bus event to a Pub/Sub topic. Publishing never
// blocks the bus: results are confirmed on background goroutines.
type PubsubSink struct {
	topic                      *pubsub.Topic
	logger                     zerolog.Logger
	publishConfirmationTimeout time.Duration
	wg                         sync.WaitGroup
}

// NewPubsubSink validates that the topic exists before returning.
func NewPubsubSink(
	ctx context.Context,
	cfg *PubsubSinkConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*PubsubSink, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for event sink")
	}
	if cfg == nil || cfg.TopicID == "" {
		return nil, fmt.Errorf("topic id cannot be empty")
	}
	defaults := NewPubsubSinkDefaults(cfg.TopicID)
	if cfg.TopicExistsTimeout <= 0 {
		cfg.TopicExistsTimeout = defaults.TopicExistsTimeout
	}
	if cfg.PublishConfirmationTimeout <= 0 {
		cfg.PublishConfirmationTimeout = defaults.PublishConfirmationTimeout
	}

	topic := client.Topic(cfg.TopicID)
	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("PubsubSink initialized successfully.")
	return &PubsubSink{
		topic:                      topic,
		logger:                     logger.With().Str("component", "PubsubSink").Str("topic_id", cfg.TopicID).Logger(),
		publishConfirmationTimeout: cfg.PublishConfirmationTimeout,
	}, nil
}

// Attach subscribes the sink to bus.
func (s *PubsubSink) Attach(bus *fetchevents.Bus) (unsubscribe func()) {
	return bus.Subscribe(s.publish)
}

func (s *PubsubSink) publish(ev fetchevents.Event) {
	msg := EventMessage{
		Kind:     ev.Kind.String(),
		QueryKey: ev.QueryKey,
		At:       ev.At,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("query_key", ev.QueryKey).Msg("Failed to marshal fetch event.")
		return
	}

	res := s.topic.Publish(context.Background(), &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"kind":      msg.Kind,
			"query_key": msg.QueryKey,
		},
	})

	s.wg.Add(1)
	go s.confirmPublish(res, msg)
}

func (s *PubsubSink) confirmPublish(res *pubsub.PublishResult, msg EventMessage) {
	defer s.wg.Done()
	getCtx, cancel := context.WithTimeout(context.Background(), s.publishConfirmationTimeout)
	defer cancel()

	id, err := res.Get(getCtx)
	if err != nil {
		s.logger.Error().Err(err).Str("query_key", msg.QueryKey).Str("kind", msg.Kind).Msg("Failed to publish fetch event.")
		return
	}
	s.logger.Debug().Str("message_id", id).Str("query_key", msg.QueryKey).Str("kind", msg.Kind).Msg("Fetch event published.")
}

// Stop waits for outstanding publish confirmations, bounded by ctx, and then
// flushes and stops the topic.
func (s *PubsubSink) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping Pub/Sub event sink...")
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for publish confirmations.")
		s.topic.Stop()
		return ctx.Err()
	}

	s.topic.Stop()
	s.logger.Info().Msg("Pub/Sub event sink stopped.")
	return nil
}
