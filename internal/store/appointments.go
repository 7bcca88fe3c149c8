package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harentsoaR/clinic-api/internal/models"
)

// AppointmentFilter narrows a listing. Zero values are ignored.
type AppointmentFilter struct {
	PatientID   primitive.ObjectID
	DoctorID    primitive.ObjectID
	Status      models.AppointmentStatus
	From        time.Time
	To          time.Time
	NewestFirst bool
}

// ScheduleUpdate changes an appointment's status and optionally moves it.
type ScheduleUpdate struct {
	Status    models.AppointmentStatus
	Date      string
	Time      string
	StartTime time.Time
}

type AppointmentRepository struct {
	coll *mongo.Collection
}

func NewAppointmentRepository(db *mongo.Database) *AppointmentRepository {
	return &AppointmentRepository{coll: db.Collection(appointmentsCollection)}
}

// CreateAppointment inserts apt. It returns models.ErrSlotTaken if another
// appointment already holds the same doctor, date and time.
func (r *AppointmentRepository) CreateAppointment(ctx context.Context, apt *models.Appointment) error {
	if apt.ID.IsZero() {
		apt.ID = primitive.NewObjectID()
	}
	if _, err := r.coll.InsertOne(ctx, apt); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ErrSlotTaken
		}
		return fmt.Errorf("store: insert appointment: %w", err)
	}
	return nil
}

// BookedTimes lists the held start times for a doctor on a date.
func (r *AppointmentRepository) BookedTimes(ctx context.Context, doctorID, date string) ([]string, error) {
	oid, err := objectID(doctorID)
	if err != nil {
		return nil, err
	}
	cursor, err := r.coll.Find(ctx,
		bson.M{"doctorId": oid, "date": date, "slotHeld": true},
		options.Find().SetProjection(bson.M{"time": 1}).SetSort(bson.D{{Key: "time", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("store: find booked times: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Time string `bson:"time"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("store: decode booked times: %w", err)
	}
	times := make([]string, 0, len(rows))
	for _, row := range rows {
		times = append(times, row.Time)
	}
	return times, nil
}

func (r *AppointmentRepository) Find(ctx context.Context, f AppointmentFilter) ([]models.Appointment, error) {
	filter := bson.M{}
	if !f.PatientID.IsZero() {
		filter["patientId"] = f.PatientID
	}
	if !f.DoctorID.IsZero() {
		filter["doctorId"] = f.DoctorID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	startTime := bson.M{}
	if !f.From.IsZero() {
		startTime["$gte"] = f.From
	}
	if !f.To.IsZero() {
		startTime["$lt"] = f.To
	}
	if len(startTime) > 0 {
		filter["startTime"] = startTime
	}

	order := 1
	if f.NewestFirst {
		order = -1
	}
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "startTime", Value: order}}))
	if err != nil {
		return nil, fmt.Errorf("store: find appointments: %w", err)
	}
	defer cursor.Close(ctx)

	appointments := make([]models.Appointment, 0)
	if err := cursor.All(ctx, &appointments); err != nil {
		return nil, fmt.Errorf("store: decode appointments: %w", err)
	}
	return appointments, nil
}

func (r *AppointmentRepository) FindByID(ctx context.Context, id string) (*models.Appointment, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var apt models.Appointment
	err = r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&apt)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find appointment: %w", err)
	}
	return &apt, nil
}

// UpdateSchedule applies a status change and, when Date is set, a move to a
// new slot. Moving into a held slot returns models.ErrSlotTaken.
func (r *AppointmentRepository) UpdateSchedule(ctx context.Context, id string, u ScheduleUpdate) (*models.Appointment, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	set := bson.M{
		"status":    u.Status,
		"slotHeld":  u.Status.HoldsSlot(),
		"updatedAt": time.Now().UTC(),
	}
	if u.Date != "" {
		set["date"] = u.Date
		set["time"] = u.Time
		set["startTime"] = u.StartTime
	}

	var apt models.Appointment
	err = r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&apt)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return nil, models.ErrSlotTaken
	}
	if err != nil {
		return nil, fmt.Errorf("store: update appointment: %w", err)
	}
	return &apt, nil
}

func (r *AppointmentRepository) Delete(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("store: delete appointment: %w", err)
	}
	if result.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}
