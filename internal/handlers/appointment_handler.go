package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/harentsoaR/clinic-api/internal/booking"
	"github.com/harentsoaR/clinic-api/internal/events"
	"github.com/harentsoaR/clinic-api/internal/middleware"
	"github.com/harentsoaR/clinic-api/internal/models"
	"github.com/harentsoaR/clinic-api/internal/store"
)

type bookedTime struct {
	Time string `json:"time"`
}

// GetBookedSlots lists the times already held for a doctor on a date.
func (h *Handler) GetBookedSlots(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date is required", "field": "date"})
		return
	}
	if _, err := h.Catalog.ParseDate(date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": "date"})
		return
	}

	times, err := h.Appointments.BookedTimes(c.Request.Context(), c.Param("doctorId"), date)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "doctorId is not a valid id", "field": "doctorId"})
		return
	}
	if err != nil {
		h.Metrics.SlotLookupFailed()
		h.Logger.Warn("booked slot lookup failed", zap.String("doctor", c.Param("doctorId")), zap.Error(err))
		h.respondError(c, booking.ErrLookupUnavailable)
		return
	}

	booked := make([]bookedTime, 0, len(times))
	for _, t := range times {
		booked = append(booked, bookedTime{Time: t})
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "booked": booked})
}

type CreateAppointmentRequest struct {
	DoctorID string                   `json:"doctorId"`
	Date     string                   `json:"date"`
	Time     string                   `json:"time"`
	Status   models.AppointmentStatus `json:"status"`
	Type     models.ConsultationType  `json:"type"`
}

// CreateAppointment books a slot directly for the authenticated patient.
func (h *Handler) CreateAppointment(c *gin.Context) {
	var req CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.Status != "" && req.Status != models.StatusPending {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be pending", "field": "status"})
		return
	}
	if req.DoctorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "doctorId is required", "field": "doctorId"})
		return
	}
	if err := h.Booking.ValidateChoice(booking.SlotChoice{Date: req.Date, Time: req.Time, Type: req.Type}); err != nil {
		h.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	doctor, err := h.Users.FindDoctor(ctx, req.DoctorID)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "doctorId does not match any doctor", "field": "doctorId"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	patient, err := h.Users.FindByID(ctx, middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	start, err := h.Catalog.Start(req.Date, req.Time)
	if err != nil {
		h.respondError(c, err)
		return
	}
	now := time.Now().UTC()
	apt := &models.Appointment{
		ID:          primitive.NewObjectID(),
		DoctorID:    doctor.ID,
		DoctorName:  doctor.FullName,
		PatientID:   patient.ID,
		PatientName: patient.FullName,
		Date:        req.Date,
		Time:        req.Time,
		StartTime:   start.UTC(),
		Type:        req.Type,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	apt.SetStatus(models.StatusPending)

	if err := h.Appointments.CreateAppointment(ctx, apt); err != nil {
		h.respondError(c, err)
		return
	}
	h.Metrics.AppointmentCreated("direct")
	h.appointmentCreated(ctx, apt)

	c.JSON(http.StatusCreated, apt)
}

// GetAppointments lists appointments visible to the caller. Patients only see
// their own and doctors only see theirs.
func (h *Handler) GetAppointments(c *gin.Context) {
	var filter store.AppointmentFilter
	userID, err := primitive.ObjectIDFromHex(middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid user ID in token"})
		return
	}

	role := middleware.UserRole(c)
	switch role {
	case models.RolePatient:
		filter.PatientID = userID
		filter.NewestFirst = true
	case models.RoleDoctor:
		filter.DoctorID = userID
	}
	if role != models.RolePatient {
		if id := c.Query("patientId"); id != "" {
			if filter.PatientID, err = primitive.ObjectIDFromHex(id); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "patientId is not a valid id", "field": "patientId"})
				return
			}
		}
	}
	if role == models.RoleAdmin {
		if id := c.Query("doctorId"); id != "" {
			if filter.DoctorID, err = primitive.ObjectIDFromHex(id); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "doctorId is not a valid id", "field": "doctorId"})
				return
			}
		}
	}

	if v := c.Query("startDate"); v != "" {
		day, err := h.Catalog.ParseDate(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": "startDate"})
			return
		}
		filter.From = day.UTC()
	}
	if v := c.Query("endDate"); v != "" {
		day, err := h.Catalog.ParseDate(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": "endDate"})
			return
		}
		// Include the entire end day.
		filter.To = day.AddDate(0, 0, 1).UTC()
	}
	if v := c.Query("status"); v != "" {
		filter.Status = models.AppointmentStatus(v)
		if !filter.Status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status is not a known appointment status", "field": "status"})
			return
		}
	}

	appointments, err := h.Appointments.Find(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, appointments)
}

type UpdateStatusRequest struct {
	Status models.AppointmentStatus `json:"status"`
	Date   string                   `json:"date"`
	Time   string                   `json:"time"`
}

// UpdateAppointmentStatus moves an appointment through its lifecycle.
// Doctors may only act on their own appointments.
func (h *Handler) UpdateAppointmentStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is not a known appointment status", "field": "status"})
		return
	}

	ctx := c.Request.Context()
	apt, ok := h.loadForStaff(c)
	if !ok {
		return
	}
	if !apt.Status.CanTransition(req.Status) {
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot move appointment from " + string(apt.Status) + " to " + string(req.Status)})
		return
	}

	update := store.ScheduleUpdate{Status: req.Status}
	if req.Status == models.StatusPostponed {
		if req.Date == "" || req.Time == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "a new date and time are required to postpone", "field": "date"})
			return
		}
		if err := h.Booking.ValidateChoice(booking.SlotChoice{Date: req.Date, Time: req.Time, Type: apt.Type}); err != nil {
			h.respondError(c, err)
			return
		}
		start, err := h.Catalog.Start(req.Date, req.Time)
		if err != nil {
			h.respondError(c, err)
			return
		}
		update.Date, update.Time, update.StartTime = req.Date, req.Time, start.UTC()
	}

	updated, err := h.Appointments.UpdateSchedule(ctx, apt.ID.Hex(), update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.Logger.Info("appointment status changed",
		zap.String("appointment", updated.ID.Hex()),
		zap.String("from", string(apt.Status)),
		zap.String("to", string(updated.Status)))
	h.appointmentChanged(ctx, updated)

	c.JSON(http.StatusOK, updated)
}

// CancelAppointment frees the slot. Staff may cancel, and so may the patient
// who owns the appointment.
func (h *Handler) CancelAppointment(c *gin.Context) {
	ctx := c.Request.Context()
	apt, err := h.Appointments.FindByID(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !h.canManage(c, apt) && apt.PatientID.Hex() != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Permission denied."})
		return
	}
	if !apt.Status.CanTransition(models.StatusCancelled) {
		c.JSON(http.StatusConflict, gin.H{"error": "Appointment is already " + string(apt.Status)})
		return
	}

	updated, err := h.Appointments.UpdateSchedule(ctx, apt.ID.Hex(), store.ScheduleUpdate{Status: models.StatusCancelled})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.appointmentChanged(ctx, updated)

	c.JSON(http.StatusOK, gin.H{"message": "Appointment cancelled successfully"})
}

func (h *Handler) DeleteAppointment(c *gin.Context) {
	ctx := c.Request.Context()
	apt, err := h.Appointments.FindByID(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.Appointments.Delete(ctx, apt.ID.Hex()); err != nil {
		h.respondError(c, err)
		return
	}
	h.Events.Publish(ctx, events.FromAppointment(events.AppointmentDeleted, apt))

	c.JSON(http.StatusOK, gin.H{"message": "Appointment deleted successfully"})
}

// loadForStaff fetches the :id appointment and checks the caller may manage
// it. It writes the error response itself.
func (h *Handler) loadForStaff(c *gin.Context) (*models.Appointment, bool) {
	apt, err := h.Appointments.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	if !h.canManage(c, apt) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Permission denied."})
		return nil, false
	}
	return apt, true
}

func (h *Handler) canManage(c *gin.Context, apt *models.Appointment) bool {
	switch middleware.UserRole(c) {
	case models.RoleAdmin:
		return true
	case models.RoleDoctor:
		return apt.DoctorID.Hex() == middleware.UserID(c)
	}
	return false
}
