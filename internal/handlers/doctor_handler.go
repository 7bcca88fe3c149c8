package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListDoctors returns every doctor, optionally narrowed to one specialty.
func (h *Handler) ListDoctors(c *gin.Context) {
	doctors, err := h.Users.ListDoctors(c.Request.Context(), c.Query("specialty"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doctors)
}

func (h *Handler) GetDoctor(c *gin.Context) {
	doctor, err := h.Users.FindDoctor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doctor)
}
