package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/clinic-api/internal/middleware"
	"github.com/harentsoaR/clinic-api/internal/models"
)

// Routes registers every API route on r. auth guards everything under /api.
func (h *Handler) Routes(r gin.IRouter, auth gin.HandlerFunc) {
	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/register", h.RegisterUser)
		authRoutes.POST("/login", h.Login)
	}

	patientOnly := middleware.RequireRole(models.RolePatient)
	staffOnly := middleware.RequireRole(models.RoleDoctor, models.RoleAdmin)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	apiRoutes := r.Group("/api", auth)
	{
		apiRoutes.GET("/me", h.GetCurrentUser)
		apiRoutes.PUT("/me", h.UpdateCurrentUser)

		apiRoutes.GET("/doctors", h.ListDoctors)
		apiRoutes.GET("/doctors/:id", h.GetDoctor)

		apiRoutes.GET("/appointments", h.GetAppointments)
		apiRoutes.POST("/appointments", patientOnly, h.CreateAppointment)
		apiRoutes.GET("/appointments/doctor/:doctorId", h.GetBookedSlots)
		apiRoutes.PATCH("/appointments/:id/status", staffOnly, h.UpdateAppointmentStatus)
		apiRoutes.PATCH("/appointments/:id/cancel", h.CancelAppointment)
		apiRoutes.DELETE("/appointments/:id", adminOnly, h.DeleteAppointment)

		apiRoutes.POST("/mail/send-code", h.SendCode)
		apiRoutes.POST("/mail/verify-code", h.VerifyCode)

		apiRoutes.POST("/contact", h.SubmitContact)
	}

	sessions := apiRoutes.Group("/booking/sessions", patientOnly)
	{
		sessions.POST("", h.StartBooking)
		sessions.GET("/:id", h.GetBooking)
		sessions.GET("/:id/slots", h.GetBookingSlots)
		sessions.POST("/:id/slot", h.SelectBookingSlot)
		sessions.POST("/:id/contact", h.SubmitBookingContact)
		sessions.POST("/:id/code", h.EnterBookingCode)
		sessions.POST("/:id/back", h.BookingBack)
		sessions.GET("/:id/recap", h.GetBookingRecap)
		sessions.POST("/:id/confirm", h.ConfirmBooking)
		sessions.DELETE("/:id", h.CancelBooking)
	}
}
