package booking

import (
	"time"

	"github.com/harentsoaR/clinic-api/internal/models"
)

// Step is a booking wizard state.
type Step string

const (
	StepSlotSelection Step = "slot_selection"
	StepVerifyEmail   Step = "verify_email"
	StepCodeEntry     Step = "code_entry"
	StepConfirmation  Step = "confirmation"
)

// Doctor is the doctor snapshot a session is opened against.
type Doctor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

// Session is one patient's in-progress booking of one appointment.
type Session struct {
	ID            string                  `json:"id"`
	PatientID     string                  `json:"patientId"`
	PatientName   string                  `json:"patientName"`
	Doctor        Doctor                  `json:"doctor"`
	Date          string                  `json:"date,omitempty"`
	Time          string                  `json:"time,omitempty"`
	Type          models.ConsultationType `json:"type,omitempty"`
	Email         string                  `json:"email,omitempty"`
	TermsAccepted bool                    `json:"termsAccepted"`
	CodeIssued    bool                    `json:"codeIssued"`
	Step          Step                    `json:"step"`
	CreatedAt     time.Time               `json:"createdAt"`
	UpdatedAt     time.Time               `json:"updatedAt"`
}

// Recap is the read-only summary shown before the patient confirms.
type Recap struct {
	Doctor    string                  `json:"doctor"`
	Specialty string                  `json:"specialty"`
	Date      string                  `json:"date"`
	Time      string                  `json:"time"`
	Type      models.ConsultationType `json:"type"`
	Email     string                  `json:"email"`
}

// SlotChoice is what the patient picks on the first step.
type SlotChoice struct {
	Date string
	Time string
	Type models.ConsultationType
}

func (s *Session) codeSubject() string { return "booking:" + s.ID }
