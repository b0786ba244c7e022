package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"secureattend/internal/roster"
)

type registerRequest struct {
	Name       string `form:"name" binding:"required"`
	Department string `form:"department"`
	Email      string `form:"email" binding:"omitempty,email"`
	Role       string `form:"role"`
	Password   string `form:"password"`
}

// RegisterUser creates a person from a multipart form: profile fields
// plus an image. The image goes to Cloudinary and the face service
// gallery; neither failure rolls back the created person, matching the
// original registration flow.
func (h *Handler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := roster.ParseRole(req.Role)
	if req.Role != "" && role == roster.RoleUnknown {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role: " + req.Role})
		return
	}
	if req.Role == "" {
		role = roster.RoleStudent
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	defer file.Close()
	imageBytes, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	var imageURL *string
	if h.cloud != nil {
		result, err := h.cloud.UploadBytesTo(imageBytes, header.Filename, "people")
		if err != nil {
			log.Printf("cloudinary upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}
		imageURL = &result.SecureURL
	}

	person := roster.Person{
		Name:            req.Name,
		Department:      req.Department,
		Role:            role,
		ProfileImageURL: imageURL,
	}
	if req.Email != "" {
		person.Email = &req.Email
	}

	created, err := h.store.CreateUser(c.Request.Context(), person, req.Password)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	if h.face != nil && imageURL != nil {
		if _, err := h.face.Enroll(c.Request.Context(), created.ID, *imageURL); err != nil {
			// Face can be re-enrolled later; registration still succeeds.
			log.Printf("face enroll failed for user %d: %v", created.ID, err)
		}
	}

	c.JSON(http.StatusCreated, created)
}

// ListUsers returns the full roster.
func (h *Handler) ListUsers(c *gin.Context) {
	people, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if people == nil {
		people = []roster.Person{}
	}
	c.JSON(http.StatusOK, people)
}

// GetUserByEmail returns a single person by email.
func (h *Handler) GetUserByEmail(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email query parameter required"})
		return
	}
	person, err := h.store.GetUserByEmail(c.Request.Context(), email)
	if err != nil {
		h.userLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, person)
}

// GetUserSummary returns the attendance aggregate for one person.
func (h *Handler) GetUserSummary(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	person, err := h.store.GetUser(c.Request.Context(), id)
	if err != nil {
		h.userLookupError(c, err)
		return
	}
	summary, err := h.dash.PersonSummary(c.Request.Context(), person)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// UpdateUser updates name and department.
func (h *Handler) UpdateUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Name       string `form:"name" json:"name"`
		Department string `form:"department" json:"department"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	person, err := h.store.UpdateUser(c.Request.Context(), id, req.Name, req.Department)
	if err != nil {
		h.userLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, person)
}

// DeleteUser removes a person, their attendance events, and their face
// enrollment.
func (h *Handler) DeleteUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.store.DeleteUser(c.Request.Context(), id); err != nil {
		h.userLookupError(c, err)
		return
	}
	if h.face != nil {
		if err := h.face.DeleteSubject(c.Request.Context(), id); err != nil {
			log.Printf("face gallery cleanup failed for user %d: %v", id, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted", "id": id})
}

func (h *Handler) userLookupError(c *gin.Context, err error) {
	if errors.Is(err, roster.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
