package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/harentsoaR/clinic-api/internal/middleware"
	"github.com/harentsoaR/clinic-api/internal/models"
)

type ContactRequest struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email" binding:"required,email"`
	Subject string `json:"subject" binding:"required,max=200"`
	Message string `json:"message" binding:"required,max=5000"`
}

// SubmitContact stores a contact form message and forwards it to the clinic
// mailbox.
func (h *Handler) SubmitContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	msg := &models.ContactMessage{
		ID:        primitive.NewObjectID(),
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Subject:   strings.TrimSpace(req.Subject),
		Body:      strings.TrimSpace(req.Message),
		CreatedAt: time.Now().UTC(),
	}
	if userID, err := primitive.ObjectIDFromHex(middleware.UserID(c)); err == nil {
		msg.UserID = userID
	}

	if err := h.Contact.CreateContactMessage(c.Request.Context(), msg); err != nil {
		h.respondError(c, err)
		return
	}
	h.Logger.Info("contact message received", zap.String("message", msg.ID.Hex()))
	if h.NotificationSvc != nil {
		h.NotificationSvc.SendContactForward(h.ClinicEmail, msg)
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Thank you, your message has been sent", "id": msg.ID.Hex()})
}
