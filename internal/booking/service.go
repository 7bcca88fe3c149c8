package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harentsoaR/clinic-api/internal/models"
)

// SessionStore keeps wizard sessions between requests.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// Lock returns ErrInProgress if key is already held.
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Doctors resolves the doctor a session is opened against.
type Doctors interface {
	FindDoctor(ctx context.Context, id string) (*models.User, error)
}

// Patient identifies the authenticated caller.
type Patient struct {
	ID   string
	Name string
}

const lockTTL = 30 * time.Second

// Service ties the wizard to session storage and enforces session ownership.
type Service struct {
	wizard   *Wizard
	sessions SessionStore
	doctors  Doctors
	logger   *zap.Logger
}

func NewService(w *Wizard, sessions SessionStore, doctors Doctors, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{wizard: w, sessions: sessions, doctors: doctors, logger: logger}
}

// Start opens a new session for patient against doctorID.
func (s *Service) Start(ctx context.Context, patient Patient, doctorID string) (*Session, error) {
	if doctorID == "" {
		return nil, invalid("doctorId", "is required")
	}
	doc, err := s.doctors.FindDoctor(ctx, doctorID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, invalid("doctorId", "does not match any doctor")
	}
	if err != nil {
		return nil, fmt.Errorf("booking: load doctor: %w", err)
	}

	sess := s.wizard.Start(uuid.NewString(), patient.ID, patient.Name, Doctor{
		ID:        doc.ID.Hex(),
		Name:      doc.FullName,
		Specialty: doc.Specialty,
	})
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("booking: save session: %w", err)
	}
	s.logger.Info("booking session started",
		zap.String("session", sess.ID),
		zap.String("patient", patient.ID),
		zap.String("doctor", sess.Doctor.ID))
	return sess, nil
}

// Get returns the session if patientID owns it.
func (s *Service) Get(ctx context.Context, id, patientID string) (*Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.PatientID != patientID {
		return nil, ErrForbidden
	}
	return sess, nil
}

// Availability does not mutate the session, so it takes no lock.
func (s *Service) Availability(ctx context.Context, id, patientID, date string, extended bool) (*Availability, error) {
	sess, err := s.Get(ctx, id, patientID)
	if err != nil {
		return nil, err
	}
	return s.wizard.Availability(ctx, sess, date, extended)
}

func (s *Service) SelectSlot(ctx context.Context, id, patientID string, choice SlotChoice) (*Session, error) {
	return s.mutate(ctx, id, patientID, func(sess *Session) error {
		return s.wizard.SelectSlot(ctx, sess, choice)
	})
}

func (s *Service) SubmitContact(ctx context.Context, id, patientID, email string, termsAccepted bool) (*Session, error) {
	return s.mutate(ctx, id, patientID, func(sess *Session) error {
		return s.wizard.SubmitContact(ctx, sess, email, termsAccepted)
	})
}

func (s *Service) EnterCode(ctx context.Context, id, patientID, code string) (*Session, error) {
	return s.mutate(ctx, id, patientID, func(sess *Session) error {
		return s.wizard.EnterCode(ctx, sess, code)
	})
}

func (s *Service) Back(ctx context.Context, id, patientID string) (*Session, error) {
	return s.mutate(ctx, id, patientID, func(sess *Session) error {
		return s.wizard.Back(ctx, sess)
	})
}

func (s *Service) Recap(ctx context.Context, id, patientID string) (*Recap, error) {
	sess, err := s.Get(ctx, id, patientID)
	if err != nil {
		return nil, err
	}
	return s.wizard.Recap(sess)
}

// Confirm submits the booking and destroys the session on success.
func (s *Service) Confirm(ctx context.Context, id, patientID string) (*models.Appointment, error) {
	release, err := s.sessions.Lock(ctx, lockKey(id), lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.Get(ctx, id, patientID)
	if err != nil {
		return nil, err
	}
	apt, err := s.wizard.Confirm(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		// The appointment exists; a stale session only lingers until its TTL.
		s.logger.Warn("failed to delete completed session", zap.String("session", id), zap.Error(err))
	}
	return apt, nil
}

// Cancel destroys the session from any step.
func (s *Service) Cancel(ctx context.Context, id, patientID string) error {
	release, err := s.sessions.Lock(ctx, lockKey(id), lockTTL)
	if err != nil {
		return err
	}
	defer release()

	sess, err := s.Get(ctx, id, patientID)
	if err != nil {
		return err
	}
	s.wizard.Cancel(ctx, sess)
	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("booking: delete session: %w", err)
	}
	s.logger.Info("booking session cancelled", zap.String("session", id))
	return nil
}

// mutate runs fn on a locked copy of the session and saves it only if fn
// succeeds, so a rejected action never changes stored state.
func (s *Service) mutate(ctx context.Context, id, patientID string, fn func(*Session) error) (*Session, error) {
	release, err := s.sessions.Lock(ctx, lockKey(id), lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.Get(ctx, id, patientID)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("booking: save session: %w", err)
	}
	return sess, nil
}

// ValidateChoice applies the slot selection checks without a session. It is
// used by direct appointment creation and rescheduling.
func (s *Service) ValidateChoice(choice SlotChoice) error {
	return s.wizard.checkChoice(choice)
}

func lockKey(id string) string { return "booking:lock:" + id }
