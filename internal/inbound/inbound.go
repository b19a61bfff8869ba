// Package inbound ingests SMS and image records from Kafka into the store.
// SMS rows queue for the worker; image rows feed the context builder.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/duckmemory/duckmem/internal/metrics"
	"github.com/duckmemory/duckmem/internal/store"
)

// Envelope types.
const (
	TypeSMS   = "sms"
	TypeImage = "image"
)

// ErrInvalid marks records that can never be stored.
var ErrInvalid = errors.New("invalid inbound record")

// Envelope is the JSON wrapper of every inbound record.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// SMSPayload is a received text message.
type SMSPayload struct {
	SenderName string `json:"sender_name"`
	Phone      string `json:"phone"`
	Message    string `json:"message"`
}

// ImagePayload describes a received image that has already been analysed.
type ImagePayload struct {
	FilePath       string   `json:"filepath"`
	Sender         string   `json:"sender"`
	SenderRelation string   `json:"sender_relation"`
	Description    string   `json:"description"`
	Categories     []string `json:"categories"`
	MessageText    string   `json:"message_text"`
	SourceURL      string   `json:"source_url"`
	People         []string `json:"people"`
}

// Sink is the part of the store the ingester writes to.
type Sink interface {
	SaveInboundSMS(ctx context.Context, sms store.InboundSMS) (int64, error)
	SaveImage(ctx context.Context, img store.ImageRecord) (int64, error)
}

// Ingester routes consumed records into a Sink.
type Ingester struct {
	sink     Sink
	consumer Consumer
}

// NewIngester creates an Ingester.
func NewIngester(sink Sink, consumer Consumer) *Ingester {
	return &Ingester{sink: sink, consumer: consumer}
}

// Run consumes until ctx is cancelled or the consumer closes its channel.
func (i *Ingester) Run(ctx context.Context) error {
	if err := i.consumer.Start(ctx); err != nil {
		return fmt.Errorf("inbound: start consumer: %w", err)
	}
	defer i.consumer.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-i.consumer.Records():
			if !ok {
				return nil
			}
			if _, err := i.Handle(ctx, rec); err != nil {
				slog.Warn("Inbound record dropped", "topic", rec.Topic, "error", err)
			}
		}
	}
}

// Handle decodes one record and stores it. It returns the new row id.
func (i *Ingester) Handle(ctx context.Context, rec Record) (int64, error) {
	var env Envelope
	if err := json.Unmarshal(rec.Value, &env); err != nil {
		metrics.InboundRecords.WithLabelValues("unknown", "invalid").Inc()
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	kind := strings.ToLower(strings.TrimSpace(env.Type))
	var (
		id  int64
		err error
	)
	switch kind {
	case TypeSMS:
		id, err = i.handleSMS(ctx, env)
	case TypeImage:
		id, err = i.handleImage(ctx, env)
	default:
		metrics.InboundRecords.WithLabelValues("unknown", "invalid").Inc()
		return 0, fmt.Errorf("%w: unknown type %q", ErrInvalid, env.Type)
	}

	switch {
	case errors.Is(err, ErrInvalid):
		metrics.InboundRecords.WithLabelValues(kind, "invalid").Inc()
	case err != nil:
		metrics.InboundRecords.WithLabelValues(kind, "error").Inc()
	default:
		metrics.InboundRecords.WithLabelValues(kind, "stored").Inc()
		slog.Debug("Inbound record stored", "type", kind, "id", id, "topic", rec.Topic)
	}
	return id, err
}

func (i *Ingester) handleSMS(ctx context.Context, env Envelope) (int64, error) {
	var p SMSPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return 0, fmt.Errorf("%w: sms payload: %v", ErrInvalid, err)
	}
	if strings.TrimSpace(p.Message) == "" {
		return 0, fmt.Errorf("%w: sms without message", ErrInvalid)
	}
	return i.sink.SaveInboundSMS(ctx, store.InboundSMS{
		SenderName: strings.TrimSpace(p.SenderName),
		Phone:      strings.TrimSpace(p.Phone),
		Message:    p.Message,
		ReceivedAt: env.Timestamp.UTC(),
	})
}

func (i *Ingester) handleImage(ctx context.Context, env Envelope) (int64, error) {
	var p ImagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return 0, fmt.Errorf("%w: image payload: %v", ErrInvalid, err)
	}
	if strings.TrimSpace(p.FilePath) == "" {
		return 0, fmt.Errorf("%w: image without filepath", ErrInvalid)
	}
	return i.sink.SaveImage(ctx, store.ImageRecord{
		FilePath:       p.FilePath,
		Sender:         p.Sender,
		SenderRelation: p.SenderRelation,
		Description:    p.Description,
		Categories:     p.Categories,
		MessageText:    p.MessageText,
		SourceURL:      p.SourceURL,
		People:         p.People,
		Timestamp:      env.Timestamp.UTC(),
	})
}
