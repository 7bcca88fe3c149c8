package models

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrSlotTaken is returned when a (doctor, date, time) slot is already held.
	ErrSlotTaken = errors.New("slot already booked")
)

type ConsultationType string

const (
	InPerson         ConsultationType = "in-person"
	Teleconsultation ConsultationType = "teleconsultation"
)

func (t ConsultationType) Valid() bool {
	return t == InPerson || t == Teleconsultation
}

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusRefused   AppointmentStatus = "refused"
	StatusPostponed AppointmentStatus = "postponed"
	StatusCancelled AppointmentStatus = "cancelled"
)

var statusTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusRefused, StatusPostponed, StatusCancelled},
	StatusConfirmed: {StatusPostponed, StatusCancelled},
	StatusPostponed: {StatusConfirmed, StatusRefused, StatusCancelled},
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRefused, StatusPostponed, StatusCancelled:
		return true
	}
	return false
}

// HoldsSlot reports whether an appointment in status s occupies its slot.
func (s AppointmentStatus) HoldsSlot() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusPostponed
}

// CanTransition reports whether a doctor or admin may move an appointment from s to next.
func (s AppointmentStatus) CanTransition(next AppointmentStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DoctorID    primitive.ObjectID `bson:"doctorId" json:"doctorId"`
	DoctorName  string             `bson:"doctorName" json:"doctorName"`
	PatientID   primitive.ObjectID `bson:"patientId" json:"patientId"`
	PatientName string             `bson:"patientName" json:"patientName"`
	Date        string             `bson:"date" json:"date"` // YYYY-MM-DD
	Time        string             `bson:"time" json:"time"` // HH:MM
	StartTime   time.Time          `bson:"startTime" json:"startTime"`
	Type        ConsultationType   `bson:"type" json:"type"`
	Status      AppointmentStatus  `bson:"status" json:"status"`
	SlotHeld    bool               `bson:"slotHeld" json:"-"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// SetStatus updates the status and keeps SlotHeld in step with it.
func (a *Appointment) SetStatus(s AppointmentStatus) {
	a.Status = s
	a.SlotHeld = s.HoldsSlot()
}
