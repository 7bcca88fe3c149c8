// Package booking implements the appointment booking wizard: slot selection,
// email verification, code entry and confirmation.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/harentsoaR/clinic-api/internal/metrics"
	"github.com/harentsoaR/clinic-api/internal/models"
	"github.com/harentsoaR/clinic-api/internal/slots"
	"github.com/harentsoaR/clinic-api/internal/verification"
)

// MaxCodeLength is the longest verification code a patient may enter.
const MaxCodeLength = 6

// BookedSlots returns the start times already held for a doctor on a date.
type BookedSlots interface {
	BookedTimes(ctx context.Context, doctorID, date string) ([]string, error)
}

// CodeIssuer sends and checks one-time verification codes.
type CodeIssuer interface {
	Issue(ctx context.Context, subject, email string) error
	Verify(ctx context.Context, subject, code string) error
	Revoke(ctx context.Context, subject string) error
}

// Submitter persists a confirmed booking.
type Submitter interface {
	CreateAppointment(ctx context.Context, apt *models.Appointment) error
}

// LookupPolicy decides what happens when booked slots cannot be fetched.
type LookupPolicy string

const (
	// PolicyFailClosed refuses to show or accept slots it could not check.
	PolicyFailClosed LookupPolicy = "fail-closed"
	// PolicyWarn shows every slot as available with a warning attached.
	PolicyWarn LookupPolicy = "warn"
)

func ParseLookupPolicy(s string) (LookupPolicy, error) {
	switch p := LookupPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyFailClosed, PolicyWarn:
		return p, nil
	case "":
		return PolicyFailClosed, nil
	}
	return "", fmt.Errorf("booking: unknown lookup policy %q", s)
}

const lookupWarning = "availability could not be verified; the slot will be checked again on confirmation"

// Availability is the candidate slot list for one date.
type Availability struct {
	Date     string       `json:"date"`
	Extended bool         `json:"extended"`
	Slots    []slots.Slot `json:"slots"`
	Warning  string       `json:"warning,omitempty"`
}

type Options struct {
	Catalog   *slots.Catalog
	Booked    BookedSlots
	Codes     CodeIssuer
	Submitter Submitter
	Policy    LookupPolicy
	Now       func() time.Time
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Wizard runs the booking state machine over a Session. It holds no session
// state itself; callers load and save sessions around each call.
type Wizard struct {
	catalog   *slots.Catalog
	booked    BookedSlots
	codes     CodeIssuer
	submitter Submitter
	policy    LookupPolicy
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
	validate  *validator.Validate
	lookups   *lookupTracker
}

func NewWizard(opts Options) *Wizard {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == "" {
		opts.Policy = PolicyFailClosed
	}
	return &Wizard{
		catalog:   opts.Catalog,
		booked:    opts.Booked,
		codes:     opts.Codes,
		submitter: opts.Submitter,
		policy:    opts.Policy,
		now:       opts.Now,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		validate:  validator.New(),
		lookups:   newLookupTracker(),
	}
}

// Start opens a session on the slot selection step.
func (w *Wizard) Start(id, patientID, patientName string, doctor Doctor) *Session {
	now := w.now()
	w.metrics.SessionStarted()
	return &Session{
		ID:          id,
		PatientID:   patientID,
		PatientName: patientName,
		Doctor:      doctor,
		Step:        StepSlotSelection,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Availability lists the candidate slots for date, disabling booked ones. A
// newer call for the same session cancels this one, which then returns
// ErrSuperseded.
func (w *Wizard) Availability(ctx context.Context, s *Session, date string, extended bool) (*Availability, error) {
	if s.Step != StepSlotSelection {
		return nil, w.reject(s, "wrong_step", ErrWrongStep)
	}
	if date == "" {
		return nil, w.reject(s, "validation", invalid("date", "is required"))
	}
	if _, err := w.catalog.ParseDate(date); err != nil {
		return nil, w.reject(s, "validation", invalid("date", err.Error()))
	}
	now := w.now()
	if date < w.catalog.Today(now) {
		return nil, w.reject(s, "validation", invalid("date", "must not be in the past"))
	}

	lookupCtx, seq := w.lookups.begin(ctx, s.ID)
	booked, err := w.booked.BookedTimes(lookupCtx, s.Doctor.ID, date)
	if !w.lookups.finish(s.ID, seq) {
		return nil, ErrSuperseded
	}

	out := &Availability{Date: date, Extended: extended}
	candidates := w.catalog.Candidates(extended)
	if err != nil {
		w.metrics.SlotLookupFailed()
		w.logger.Warn("booked slot lookup failed",
			zap.String("session", s.ID),
			zap.String("doctor", s.Doctor.ID),
			zap.String("date", date),
			zap.String("policy", string(w.policy)),
			zap.Error(err))
		if w.policy == PolicyFailClosed {
			return nil, ErrLookupUnavailable
		}
		out.Slots = w.dropPassed(slots.Filter(candidates, nil), date, now)
		out.Warning = lookupWarning
		return out, nil
	}

	out.Slots = w.dropPassed(slots.Filter(candidates, booked), date, now)
	return out, nil
}

// dropPassed marks today's slots that have already started as unavailable.
func (w *Wizard) dropPassed(list []slots.Slot, date string, now time.Time) []slots.Slot {
	if date != w.catalog.Today(now) {
		return list
	}
	for i := range list {
		start, err := w.catalog.Start(date, list[i].Time)
		if err != nil || !start.After(now) {
			list[i].Available = false
		}
	}
	return list
}

// SelectSlot records the date, time and consultation type and moves to email
// verification. Nothing on the session changes if any check fails.
func (w *Wizard) SelectSlot(ctx context.Context, s *Session, choice SlotChoice) error {
	if s.Step != StepSlotSelection {
		return w.reject(s, "wrong_step", ErrWrongStep)
	}
	if err := w.checkChoice(choice); err != nil {
		return w.reject(s, "validation", err)
	}

	booked, err := w.booked.BookedTimes(ctx, s.Doctor.ID, choice.Date)
	if err != nil {
		w.metrics.SlotLookupFailed()
		if w.policy == PolicyFailClosed {
			w.logger.Warn("booked slot lookup failed, refusing selection",
				zap.String("session", s.ID), zap.Error(err))
			return w.reject(s, "lookup_unavailable", ErrLookupUnavailable)
		}
		w.logger.Warn("booked slot lookup failed, accepting selection unchecked",
			zap.String("session", s.ID), zap.Error(err))
	}
	for _, b := range booked {
		if b == choice.Time {
			return w.reject(s, "slot_taken", models.ErrSlotTaken)
		}
	}

	s.Date = choice.Date
	s.Time = choice.Time
	s.Type = choice.Type
	w.advance(s, StepVerifyEmail)
	return nil
}

func (w *Wizard) checkChoice(choice SlotChoice) error {
	if choice.Date == "" {
		return invalid("date", "is required")
	}
	if choice.Time == "" {
		return invalid("time", "is required")
	}
	if choice.Type == "" {
		return invalid("type", "is required")
	}
	if !choice.Type.Valid() {
		return invalid("type", "must be in-person or teleconsultation")
	}
	if _, err := slots.ParseClock(choice.Time); err != nil {
		return invalid("time", err.Error())
	}
	if !w.catalog.Contains(choice.Time) {
		return invalid("time", "is outside clinic hours")
	}
	start, err := w.catalog.Start(choice.Date, choice.Time)
	if err != nil {
		return invalid("date", err.Error())
	}
	now := w.now()
	if choice.Date < w.catalog.Today(now) {
		return invalid("date", "must not be in the past")
	}
	if !start.After(now) {
		return invalid("time", "has already passed")
	}
	return nil
}

// SubmitContact records the contact email, sends a verification code to it
// and moves to code entry. A failed send leaves the session where it was.
func (w *Wizard) SubmitContact(ctx context.Context, s *Session, email string, termsAccepted bool) error {
	if s.Step != StepVerifyEmail {
		return w.reject(s, "wrong_step", ErrWrongStep)
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return w.reject(s, "validation", invalid("email", "is required"))
	}
	if err := w.validate.Var(email, "email"); err != nil {
		return w.reject(s, "validation", invalid("email", "is not a valid address"))
	}
	if !termsAccepted {
		return w.reject(s, "validation", invalid("terms", "must be accepted"))
	}

	if err := w.codes.Issue(ctx, s.codeSubject(), email); err != nil {
		w.logger.Error("verification code send failed", zap.String("session", s.ID), zap.Error(err))
		w.metrics.Rejection(string(s.Step), "send_failed")
		return err
	}

	s.Email = email
	s.TermsAccepted = true
	s.CodeIssued = true
	w.advance(s, StepCodeEntry)
	return nil
}

// EnterCode checks the patient's code server side. Only an exact match moves
// the session to confirmation.
func (w *Wizard) EnterCode(ctx context.Context, s *Session, code string) error {
	if s.Step != StepCodeEntry {
		return w.reject(s, "wrong_step", ErrWrongStep)
	}
	if code == "" {
		return w.reject(s, "validation", invalid("code", "is required"))
	}
	if len(code) > MaxCodeLength {
		return w.reject(s, "validation", invalid("code", fmt.Sprintf("must be at most %d characters", MaxCodeLength)))
	}

	err := w.codes.Verify(ctx, s.codeSubject(), code)
	switch {
	case err == nil:
	case errors.Is(err, verification.ErrCodeMismatch):
		return w.reject(s, "invalid_code", ErrInvalidCode)
	case errors.Is(err, verification.ErrNoCode), errors.Is(err, verification.ErrTooManyAttempts):
		return w.reject(s, "code_expired", fmt.Errorf("%w: %w", ErrCodeExpired, err))
	default:
		return err
	}

	s.CodeIssued = false
	w.advance(s, StepConfirmation)
	return nil
}

// Back returns one step. Leaving code entry revokes the outstanding code.
func (w *Wizard) Back(ctx context.Context, s *Session) error {
	switch s.Step {
	case StepVerifyEmail:
		w.advance(s, StepSlotSelection)
		return nil
	case StepCodeEntry:
		if err := w.codes.Revoke(ctx, s.codeSubject()); err != nil {
			w.logger.Warn("failed to revoke code on back", zap.String("session", s.ID), zap.Error(err))
		}
		s.CodeIssued = false
		w.advance(s, StepVerifyEmail)
		return nil
	}
	return w.reject(s, "wrong_step", ErrWrongStep)
}

// Recap summarises the booking exactly as the patient chose it.
func (w *Wizard) Recap(s *Session) (*Recap, error) {
	if s.Step != StepConfirmation {
		return nil, ErrWrongStep
	}
	return &Recap{
		Doctor:    s.Doctor.Name,
		Specialty: s.Doctor.Specialty,
		Date:      s.Date,
		Time:      s.Time,
		Type:      s.Type,
		Email:     s.Email,
	}, nil
}

// Confirm submits the booking as a pending appointment. On failure the session
// stays on confirmation so the patient can retry or cancel.
func (w *Wizard) Confirm(ctx context.Context, s *Session) (*models.Appointment, error) {
	if s.Step != StepConfirmation {
		return nil, w.reject(s, "wrong_step", ErrWrongStep)
	}

	doctorID, err := primitive.ObjectIDFromHex(s.Doctor.ID)
	if err != nil {
		return nil, fmt.Errorf("booking: session doctor id: %w", err)
	}
	patientID, err := primitive.ObjectIDFromHex(s.PatientID)
	if err != nil {
		return nil, fmt.Errorf("booking: session patient id: %w", err)
	}
	start, err := w.catalog.Start(s.Date, s.Time)
	if err != nil {
		return nil, fmt.Errorf("booking: session slot: %w", err)
	}

	now := w.now()
	apt := &models.Appointment{
		ID:          primitive.NewObjectID(),
		DoctorID:    doctorID,
		DoctorName:  s.Doctor.Name,
		PatientID:   patientID,
		PatientName: s.PatientName,
		Date:        s.Date,
		Time:        s.Time,
		StartTime:   start.UTC(),
		Type:        s.Type,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	apt.SetStatus(models.StatusPending)

	if err := w.submitter.CreateAppointment(ctx, apt); err != nil {
		reason := "submit_failed"
		if errors.Is(err, models.ErrSlotTaken) {
			reason = "slot_taken"
		}
		w.metrics.Rejection(string(s.Step), reason)
		w.logger.Warn("appointment submission failed", zap.String("session", s.ID), zap.Error(err))
		return nil, err
	}

	w.metrics.SessionCompleted()
	w.metrics.AppointmentCreated("wizard")
	w.logger.Info("appointment booked",
		zap.String("session", s.ID),
		zap.String("appointment", apt.ID.Hex()),
		zap.String("doctor", s.Doctor.ID),
		zap.String("date", s.Date),
		zap.String("time", s.Time))
	return apt, nil
}

// Cancel discards any outstanding code. The caller deletes the session.
func (w *Wizard) Cancel(ctx context.Context, s *Session) {
	if s.CodeIssued {
		if err := w.codes.Revoke(ctx, s.codeSubject()); err != nil {
			w.logger.Warn("failed to revoke code on cancel", zap.String("session", s.ID), zap.Error(err))
		}
	}
	w.metrics.SessionCancelled()
}

func (w *Wizard) advance(s *Session, to Step) {
	w.metrics.Transition(string(s.Step), string(to))
	s.Step = to
	s.UpdatedAt = w.now()
}

func (w *Wizard) reject(s *Session, reason string, err error) error {
	w.metrics.Rejection(string(s.Step), reason)
	return err
}
