package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/internal/config"
	"github.com/temcen/ratingrec/internal/validation"
	"github.com/temcen/ratingrec/pkg/models"
)

const (
	dlqSuffix       = "-dlq"
	maxFetchBackoff = 30 * time.Second
)

// CommandHandler executes one engine command. A returned error triggers a retry.
type CommandHandler func(ctx context.Context, cmd models.EngineCommand) error

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

// MessageBus consumes engine commands and publishes engine events. Commands that fail validation
// or keep failing after retries are moved to the dead-letter topic.
type MessageBus struct {
	commandTopic string
	eventTopic   string
	events       messageWriter
	commands     messageReader
	dlq          messageWriter
	validator    *validation.SchemaValidator
	maxRetries   int
	baseDelay    time.Duration
	logger       *logrus.Logger
}

func NewMessageBus(cfg *config.Config, validator *validation.SchemaValidator, logger *logrus.Logger) (*MessageBus, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}

	events := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topics.Events,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}

	commands := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topics.Commands,
		GroupID:        cfg.Kafka.GroupID,
		MinBytes:       1,
		MaxBytes:       1e6,
		CommitInterval: 0,
		StartOffset:    kafka.LastOffset,
	})

	dlq := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topics.Commands + dlqSuffix,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return newMessageBus(cfg.Kafka.Topics.Commands, cfg.Kafka.Topics.Events, events, commands, dlq,
		validator, cfg.Kafka.MaxRetries, time.Second, logger), nil
}

func newMessageBus(commandTopic, eventTopic string, events messageWriter, commands messageReader, dlq messageWriter,
	validator *validation.SchemaValidator, maxRetries int, baseDelay time.Duration, logger *logrus.Logger) *MessageBus {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &MessageBus{
		commandTopic: commandTopic,
		eventTopic:   eventTopic,
		events:       events,
		commands:     commands,
		dlq:          dlq,
		validator:    validator,
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		logger:       logger,
	}
}

// PublishEvent writes event to the events topic keyed by its type.
func (mb *MessageBus) PublishEvent(ctx context.Context, event models.EngineEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if mb.validator != nil {
		if err := mb.validator.ValidateEvent(payload).Err(); err != nil {
			return fmt.Errorf("refusing to publish invalid event %q: %w", event.Type, err)
		}
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.Type)},
		{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
	}
	if event.JobID != nil {
		headers = append(headers, kafka.Header{Key: "job_id", Value: []byte(event.JobID.String())})
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.events.WriteMessages(writeCtx, kafka.Message{
		Key:     []byte(event.Type),
		Value:   payload,
		Headers: headers,
	}); err != nil {
		return fmt.Errorf("failed to write event to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"event": event.Type,
		"topic": mb.eventTopic,
	}).Info("Engine event published")

	return nil
}

// ConsumeCommands blocks until ctx is cancelled, handing each command to handler. Offsets are
// committed after a message is either handled or dead-lettered.
func (mb *MessageBus) ConsumeCommands(ctx context.Context, handler CommandHandler) error {
	delay := mb.baseDelay
	for {
		msg, err := mb.commands.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).WithField("retry_in", delay).Error("Failed to read command from Kafka")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, maxFetchBackoff)
			continue
		}
		delay = mb.baseDelay

		mb.handleMessage(ctx, msg, handler)

		if err := mb.commands.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			mb.logger.WithError(err).WithField("offset", msg.Offset).Error("Failed to commit command offset")
		}
	}
}

func (mb *MessageBus) handleMessage(ctx context.Context, msg kafka.Message, handler CommandHandler) {
	cmd, err := mb.decode(msg.Value)
	if err != nil {
		mb.logger.WithError(err).WithField("offset", msg.Offset).Warn("Rejected invalid command")
		mb.deadLetter(ctx, msg, err, 0)
		return
	}

	attempts, err := mb.processWithRetry(ctx, cmd, handler)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		mb.logger.WithError(err).WithField("command", cmd.Type).Error("Failed to process command after retries")
		mb.deadLetter(ctx, msg, err, attempts)
	}
}

func (mb *MessageBus) decode(payload []byte) (models.EngineCommand, error) {
	var cmd models.EngineCommand
	if mb.validator != nil {
		if err := mb.validator.ValidateCommand(payload).Err(); err != nil {
			return cmd, err
		}
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	return cmd, nil
}

func (mb *MessageBus) processWithRetry(ctx context.Context, cmd models.EngineCommand, handler CommandHandler) (int, error) {
	var lastErr error

	for attempt := 0; attempt <= mb.maxRetries; attempt++ {
		if attempt > 0 {
			delay := mb.baseDelay * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"command": cmd.Type,
				"attempt": attempt,
				"delay":   delay,
			}).Info("Retrying command")

			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := handler(ctx, cmd); err != nil {
			lastErr = err
			mb.logger.WithError(err).WithFields(logrus.Fields{
				"command": cmd.Type,
				"attempt": attempt,
			}).Warn("Command processing failed")
			continue
		}

		mb.logger.WithFields(logrus.Fields{
			"command": cmd.Type,
			"attempt": attempt,
		}).Info("Command processed")
		return attempt + 1, nil
	}

	return mb.maxRetries + 1, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (mb *MessageBus) deadLetter(ctx context.Context, msg kafka.Message, cause error, attempts int) {
	envelope := map[string]interface{}{
		"original_message": json.RawMessage(validJSONOrString(msg.Value)),
		"error":            cause.Error(),
		"attempts":         attempts,
		"dlq_timestamp":    time.Now().UTC(),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		mb.logger.WithError(err).Error("Failed to marshal DLQ message")
		return
	}

	if err := mb.dlq.WriteMessages(ctx, kafka.Message{
		Key:   msg.Key,
		Value: payload,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(mb.commandTopic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	}); err != nil {
		mb.logger.WithError(err).Error("Failed to send command to DLQ")
		return
	}

	mb.logger.WithFields(logrus.Fields{
		"offset": msg.Offset,
		"error":  cause.Error(),
	}).Warn("Command sent to DLQ")
}

// validJSONOrString keeps valid payloads embedded as JSON and quotes anything else.
func validJSONOrString(b []byte) []byte {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

func (mb *MessageBus) Close() error {
	return errors.Join(
		wrapClose("event writer", mb.events.Close()),
		wrapClose("command reader", mb.commands.Close()),
		wrapClose("DLQ writer", mb.dlq.Close()),
	)
}

func wrapClose(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to close %s: %w", what, err)
}

// GetMetrics returns consumer statistics for the health endpoint.
func (mb *MessageBus) GetMetrics() map[string]interface{} {
	stats := mb.commands.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"rebalances":      stats.Rebalances,
		"errors":          stats.Errors,
	}
}
