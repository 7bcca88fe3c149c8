package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/harentsoaR/clinic-api/internal/booking"
	"github.com/harentsoaR/clinic-api/internal/events"
	"github.com/harentsoaR/clinic-api/internal/mail"
	"github.com/harentsoaR/clinic-api/internal/metrics"
	"github.com/harentsoaR/clinic-api/internal/models"
	"github.com/harentsoaR/clinic-api/internal/services"
	"github.com/harentsoaR/clinic-api/internal/slots"
	"github.com/harentsoaR/clinic-api/internal/store"
	"github.com/harentsoaR/clinic-api/internal/utils"
	"github.com/harentsoaR/clinic-api/internal/verification"
)

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindDoctor(ctx context.Context, id string) (*models.User, error)
	ListDoctors(ctx context.Context, specialty string) ([]models.User, error)
	UpdateProfile(ctx context.Context, id, fullName, phone string) error
}

type AppointmentStore interface {
	CreateAppointment(ctx context.Context, apt *models.Appointment) error
	BookedTimes(ctx context.Context, doctorID, date string) ([]string, error)
	Find(ctx context.Context, f store.AppointmentFilter) ([]models.Appointment, error)
	FindByID(ctx context.Context, id string) (*models.Appointment, error)
	UpdateSchedule(ctx context.Context, id string, u store.ScheduleUpdate) (*models.Appointment, error)
	Delete(ctx context.Context, id string) error
}

type ContactStore interface {
	CreateContactMessage(ctx context.Context, msg *models.ContactMessage) error
}

// CodeService issues and checks the standalone email verification codes.
type CodeService interface {
	Issue(ctx context.Context, subject, email string) error
	Verify(ctx context.Context, subject, code string) error
	TTL() time.Duration
}

// Dependencies is everything NewHandler needs. Logger, Metrics and Events may
// be left nil.
type Dependencies struct {
	Users        UserStore
	Appointments AppointmentStore
	Contact      ContactStore
	Codes        CodeService
	Booking      *booking.Service
	Catalog      *slots.Catalog
	Tokens       *utils.JWTManager
	Notifier     *services.NotificationService
	Events       events.Publisher
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	ClinicEmail  string
}

type Handler struct {
	Users           UserStore
	Appointments    AppointmentStore
	Contact         ContactStore
	Codes           CodeService
	Booking         *booking.Service
	Catalog         *slots.Catalog
	Tokens          *utils.JWTManager
	NotificationSvc *services.NotificationService
	Events          events.Publisher
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
	ClinicEmail     string

	validate *validator.Validate
}

func NewHandler(deps Dependencies) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	return &Handler{
		Users:           deps.Users,
		Appointments:    deps.Appointments,
		Contact:         deps.Contact,
		Codes:           deps.Codes,
		Booking:         deps.Booking,
		Catalog:         deps.Catalog,
		Tokens:          deps.Tokens,
		NotificationSvc: deps.Notifier,
		Events:          deps.Events,
		Metrics:         deps.Metrics,
		Logger:          deps.Logger,
		ClinicEmail:     deps.ClinicEmail,
		validate:        validator.New(),
	}
}

// respondError writes the JSON error body for err with the matching status.
// Anything unrecognised is logged and reported as a 500.
func (h *Handler) respondError(c *gin.Context, err error) {
	var vErr *booking.ValidationError
	if errors.As(err, &vErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("%s %s", vErr.Field, vErr.Reason),
			"field": vErr.Field,
		})
		return
	}

	status, msg := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, booking.ErrSessionNotFound):
		status, msg = http.StatusNotFound, "Booking session not found or expired"
	case errors.Is(err, models.ErrNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case errors.Is(err, booking.ErrForbidden):
		status, msg = http.StatusForbidden, "This booking session belongs to another patient"
	case errors.Is(err, booking.ErrWrongStep):
		status, msg = http.StatusConflict, "This action is not allowed at the current booking step"
	case errors.Is(err, models.ErrSlotTaken):
		status, msg = http.StatusConflict, "This slot is no longer available"
	case errors.Is(err, booking.ErrInProgress):
		status, msg = http.StatusConflict, "Another request for this booking is in progress"
	case errors.Is(err, booking.ErrSuperseded):
		status, msg = http.StatusConflict, "Superseded by a newer request"
	case errors.Is(err, store.ErrEmailTaken):
		status, msg = http.StatusConflict, "An account with this email already exists"
	case errors.Is(err, booking.ErrInvalidCode), errors.Is(err, verification.ErrCodeMismatch):
		status, msg = http.StatusUnprocessableEntity, "Invalid verification code"
	case errors.Is(err, booking.ErrCodeExpired), errors.Is(err, verification.ErrNoCode),
		errors.Is(err, verification.ErrTooManyAttempts):
		status, msg = http.StatusUnprocessableEntity, "Verification code expired, request a new one"
	case errors.Is(err, booking.ErrLookupUnavailable):
		status, msg = http.StatusServiceUnavailable, "Availability could not be checked, try again later"
	case errors.Is(err, mail.ErrUnavailable), errors.Is(err, verification.ErrDeliveryFailed):
		status, msg = http.StatusServiceUnavailable, "Email could not be sent, try again later"
	default:
		h.Logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// appointmentCreated notifies the patient and publishes the event.
func (h *Handler) appointmentCreated(ctx context.Context, apt *models.Appointment) {
	h.Events.Publish(ctx, events.FromAppointment(events.AppointmentCreated, apt))
	h.notifyPatient(ctx, apt, h.NotificationSvc.SendAppointmentConfirmation)
}

func (h *Handler) appointmentChanged(ctx context.Context, apt *models.Appointment) {
	h.Events.Publish(ctx, events.FromAppointment(events.AppointmentStatusChanged, apt))
	h.notifyPatient(ctx, apt, h.NotificationSvc.SendStatusChange)
}

func (h *Handler) notifyPatient(ctx context.Context, apt *models.Appointment, send func(*models.User, *models.Appointment)) {
	if h.NotificationSvc == nil {
		return
	}
	patient, err := h.Users.FindByID(ctx, apt.PatientID.Hex())
	if err != nil {
		h.Logger.Warn("notification skipped: patient lookup failed",
			zap.String("appointment", apt.ID.Hex()), zap.Error(err))
		return
	}
	send(patient, apt)
}
