package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/propstrack/maintenance-server/internal/apperr"
	"github.com/propstrack/maintenance-server/internal/models"
)

// Event subjects: documents.<collection>.created and documents.<collection>.deleted.
const (
	CreatedSubject = "documents.*.created"
	DeletedSubject = "documents.*.deleted"
)

// ReplyHeader carries the subject a creation event wants its Reply on. The
// JetStream reply subject is taken by the acknowledgement.
const ReplyHeader = "Reply-To"

// handlerTimeout bounds the work done for one event.
const handlerTimeout = 30 * time.Second

// SubscriberConfig names the stream and durable consumer.
type SubscriberConfig struct {
	Stream     string
	Durable    string
	MaxDeliver int
	AckWait    time.Duration
	RetryDelay time.Duration
}

// Delivery is the part of a JetStream message the subscriber acts on.
type Delivery interface {
	Metadata() (*jetstream.MsgMetadata, error)
	Data() []byte
	Headers() nats.Header
	Subject() string
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// NATSSubscriber consumes document events from a durable JetStream
// consumer. Events are acknowledged once handled and negatively
// acknowledged on backend failures so the server redelivers them.
type NATSSubscriber struct {
	js      jetstream.JetStream
	handler *EventHandler
	pub     Publisher
	config  SubscriberConfig
}

// NewNATSSubscriber creates NATS subscriber. Instances sharing the durable
// name split the events between them.
func NewNATSSubscriber(js jetstream.JetStream, handler *EventHandler, pub Publisher, cfg SubscriberConfig) *NATSSubscriber {
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 10
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &NATSSubscriber{
		js:      js,
		handler: handler,
		pub:     pub,
		config:  cfg,
	}
}

// Start declares the stream and consumer, then consumes until ctx is done
func (s *NATSSubscriber) Start(ctx context.Context) error {
	stream, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     s.config.Stream,
		Subjects: []string{CreatedSubject, DeletedSubject},
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", s.config.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    s.config.Durable,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    s.config.AckWait,
		MaxDeliver: s.config.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", s.config.Durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handle(msg)
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		log.Warn().Err(err).Str("consumer", s.config.Durable).Msg("JetStream consume error")
	}))
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.config.Durable, err)
	}

	log.Info().
		Str("stream", s.config.Stream).
		Str("consumer", s.config.Durable).
		Int("max_deliver", s.config.MaxDeliver).
		Msg("NATS subscriber started")

	<-ctx.Done()
	cc.Stop()

	return ctx.Err()
}

// handle dispatches one delivery on its subject suffix.
func (s *NATSSubscriber) handle(msg Delivery) {
	switch {
	case strings.HasSuffix(msg.Subject(), ".created"):
		s.handleCreated(msg)
	case strings.HasSuffix(msg.Subject(), ".deleted"):
		s.handleDeleted(msg)
	default:
		log.Warn().Str("subject", msg.Subject()).Msg("Unexpected event subject")
		s.settle(msg, msg.Term)
	}
}

// handleCreated handles resource creation events
func (s *NATSSubscriber) handleCreated(msg Delivery) {
	ev, err := decodeEvent(msg.Subject(), msg.Data())
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("Failed to decode creation event")
		s.respond(msg, Reply{Code: string(apperr.KindValidation), Message: err.Error()})
		s.settle(msg, msg.Term)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	reply, err := s.handler.Created(ctx, ev)
	if err == nil {
		s.respond(msg, reply)
		s.settle(msg, msg.Ack)
		return
	}

	log.Error().
		Err(err).
		Str("collection", ev.Collection).
		Str("document_id", ev.DocumentID).
		Msg("Creation hook failed")
	if s.retry(msg) {
		return
	}
	if reply.OK {
		reply = Reply{Code: string(apperr.KindTransient), Message: apperr.Message(err)}
	}
	s.respond(msg, reply)
	s.settle(msg, msg.Term)
}

// handleDeleted handles resource deletion events
func (s *NATSSubscriber) handleDeleted(msg Delivery) {
	ev, err := decodeEvent(msg.Subject(), msg.Data())
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("Failed to decode deletion event")
		s.settle(msg, msg.Term)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := s.handler.Deleted(ctx, ev); err != nil {
		log.Error().
			Err(err).
			Str("collection", ev.Collection).
			Str("document_id", ev.DocumentID).
			Msg("Deletion hook failed")
		if !s.retry(msg) {
			s.settle(msg, msg.Term)
		}
		return
	}
	s.settle(msg, msg.Ack)
}

// retry asks for a delayed redelivery unless the delivery budget is spent.
// The delay grows with the attempt number.
func (s *NATSSubscriber) retry(msg Delivery) bool {
	attempt := 1
	if md, err := msg.Metadata(); err == nil {
		attempt = int(md.NumDelivered)
	}
	if attempt >= s.config.MaxDeliver {
		log.Error().
			Str("subject", msg.Subject()).
			Int("attempts", attempt).
			Msg("Giving up on event after final delivery")
		return false
	}
	s.settle(msg, func() error {
		return msg.NakWithDelay(time.Duration(attempt) * s.config.RetryDelay)
	})
	return true
}

func (s *NATSSubscriber) settle(msg Delivery, ack func() error) {
	if err := ack(); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("Failed to acknowledge event")
	}
}

// respond publishes reply to the subject named by the Reply-To header, if any.
func (s *NATSSubscriber) respond(msg Delivery, reply Reply) {
	to := msg.Headers().Get(ReplyHeader)
	if to == "" || s.pub == nil {
		return
	}
	if err := s.pub.Publish(to, mustMarshal(reply)); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("Failed to reply to creation event")
	}
}

// decodeEvent parses a message, taking the collection from the subject
// when the payload omits it.
func decodeEvent(subject string, data []byte) (*models.ResourceEvent, error) {
	var ev models.ResourceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if ev.Collection == "" {
		ev.Collection = collectionFromSubject(subject)
	}
	if ev.Collection == "" || ev.DocumentID == "" {
		return nil, fmt.Errorf("event on %s lacks collection or document ID", subject)
	}
	return &ev, nil
}

func collectionFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != "documents" {
		return ""
	}
	return parts[1]
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
