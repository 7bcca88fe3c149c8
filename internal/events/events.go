// Package events publishes appointment lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/harentsoaR/clinic-api/internal/models"
)

type Type string

const (
	AppointmentCreated       Type = "appointment.created"
	AppointmentStatusChanged Type = "appointment.status_changed"
	AppointmentDeleted       Type = "appointment.deleted"
)

// Event is the payload written to the topic, keyed by appointment id.
type Event struct {
	Type          Type                     `json:"type"`
	AppointmentID string                   `json:"appointmentId"`
	DoctorID      string                   `json:"doctorId"`
	PatientID     string                   `json:"patientId"`
	Date          string                   `json:"date"`
	Time          string                   `json:"time"`
	Status        models.AppointmentStatus `json:"status"`
	OccurredAt    time.Time                `json:"occurredAt"`
}

// FromAppointment builds an event of type t describing apt.
func FromAppointment(t Type, apt *models.Appointment) Event {
	return Event{
		Type:          t,
		AppointmentID: apt.ID.Hex(),
		DoctorID:      apt.DoctorID.Hex(),
		PatientID:     apt.PatientID.Hex(),
		Date:          apt.Date,
		Time:          apt.Time,
		Status:        apt.Status,
		OccurredAt:    time.Now().UTC(),
	}
}

// Publisher never reports failures to the caller. Implementations log them.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close()
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
func (NopPublisher) Close() {}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events: no brokers configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = "clinic.appointments"
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerLinger(20*time.Millisecond),
		kgo.RecordRetries(3),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("events: create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: cfg.Topic, logger: logger}, nil
}

// Publish hands the record to the client and returns without waiting for
// the broker to acknowledge it.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	record, err := newRecord(p.topic, e)
	if err != nil {
		p.logger.Error("failed to encode event", zap.String("type", string(e.Type)), zap.Error(err))
		return
	}
	p.client.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("failed to publish event",
				zap.String("type", string(e.Type)),
				zap.String("appointment", e.AppointmentID),
				zap.Error(err))
			return
		}
		p.logger.Debug("event published",
			zap.String("type", string(e.Type)),
			zap.Int32("partition", r.Partition),
			zap.Int64("offset", r.Offset))
	})
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("failed to flush events", zap.Error(err))
	}
	p.client.Close()
}

func newRecord(topic string, e Event) (*kgo.Record, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(e.AppointmentID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}, nil
}
