package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/clinic-api/internal/booking"
	"github.com/harentsoaR/clinic-api/internal/middleware"
	"github.com/harentsoaR/clinic-api/internal/models"
)

// StartBooking opens a wizard session for the authenticated patient.
func (h *Handler) StartBooking(c *gin.Context) {
	var req struct {
		DoctorID string `json:"doctorId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	ctx := c.Request.Context()
	patient, err := h.Users.FindByID(ctx, middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	sess, err := h.Booking.Start(ctx, booking.Patient{ID: patient.ID.Hex(), Name: patient.FullName}, req.DoctorID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) GetBooking(c *gin.Context) {
	sess, err := h.Booking.Get(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// GetBookingSlots returns the candidate slots for a date with booked ones
// disabled.
func (h *Handler) GetBookingSlots(c *gin.Context) {
	extended := false
	if v := c.Query("extended"); v != "" {
		var err error
		if extended, err = strconv.ParseBool(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "extended must be true or false", "field": "extended"})
			return
		}
	}

	av, err := h.Booking.Availability(c.Request.Context(), c.Param("id"), middleware.UserID(c), c.Query("date"), extended)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, av)
}

func (h *Handler) SelectBookingSlot(c *gin.Context) {
	var req struct {
		Date string                  `json:"date"`
		Time string                  `json:"time"`
		Type models.ConsultationType `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	sess, err := h.Booking.SelectSlot(c.Request.Context(), c.Param("id"), middleware.UserID(c),
		booking.SlotChoice{Date: req.Date, Time: req.Time, Type: req.Type})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) SubmitBookingContact(c *gin.Context) {
	var req struct {
		Email         string `json:"email"`
		TermsAccepted bool   `json:"termsAccepted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	sess, err := h.Booking.SubmitContact(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Email, req.TermsAccepted)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) EnterBookingCode(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	sess, err := h.Booking.EnterCode(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) BookingBack(c *gin.Context) {
	sess, err := h.Booking.Back(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) GetBookingRecap(c *gin.Context) {
	recap, err := h.Booking.Recap(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recap)
}

// ConfirmBooking submits the appointment and closes the session.
func (h *Handler) ConfirmBooking(c *gin.Context) {
	ctx := c.Request.Context()
	apt, err := h.Booking.Confirm(ctx, c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.appointmentCreated(ctx, apt)

	c.JSON(http.StatusCreated, apt)
}

func (h *Handler) CancelBooking(c *gin.Context) {
	if err := h.Booking.Cancel(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Booking cancelled"})
}
