package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/clinic-api/internal/middleware"
)

// codeSubject binds a standalone code to both the caller and the address.
func codeSubject(userID, email string) string {
	return "mail:" + userID + ":" + strings.ToLower(email)
}

// SendCode emails a verification code to the given address. The code is
// never part of the response.
func (h *Handler) SendCode(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if err := h.validate.Var(email, "required,email"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is not a valid address", "field": "email"})
		return
	}

	if err := h.Codes.Issue(c.Request.Context(), codeSubject(middleware.UserID(c), email), email); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true, "expiresIn": int(h.Codes.TTL().Seconds())})
}

func (h *Handler) VerifyCode(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Code == "" {
		badRequest(c, "email and code are required")
		return
	}

	subject := codeSubject(middleware.UserID(c), strings.TrimSpace(req.Email))
	if err := h.Codes.Verify(c.Request.Context(), subject, req.Code); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}
