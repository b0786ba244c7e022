package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"secureattend/internal/metrics"
	"secureattend/internal/queue"
	"secureattend/internal/roster"
)

// LogAttendance records an attendance event directly, with an optional
// evidence screenshot. This is the manual path; camera check-ins go
// through Checkin and the worker instead.
func (h *Handler) LogAttendance(c *gin.Context) {
	userIDStr := c.PostForm("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id form field required"})
		return
	}

	if _, err := h.store.GetUser(c.Request.Context(), userID); err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var screenshotPath *string
	if file, header, ferr := c.Request.FormFile("screenshot"); ferr == nil {
		defer file.Close()
		data, rerr := io.ReadAll(file)
		if rerr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read screenshot failed"})
			return
		}
		if h.cloud != nil {
			result, uerr := h.cloud.UploadBytesTo(data, header.Filename, "evidence")
			if uerr != nil {
				// Evidence is best effort; the event still gets logged.
				log.Printf("screenshot upload failed: %v", uerr)
			} else {
				screenshotPath = &result.SecureURL
			}
		}
	}

	evt, err := h.store.InsertEvent(c.Request.Context(), roster.Event{
		UserID:         userID,
		Timestamp:      time.Now().UTC(),
		ScreenshotPath: screenshotPath,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	metrics.EventsInserted.Inc()

	if h.notifier != nil {
		if err := h.notifier.EventInserted(c.Request.Context()); err != nil {
			log.Printf("event notification failed: %v", err)
		}
	}

	c.JSON(http.StatusCreated, evt)
}

// ListAttendance returns events, newest first, optionally filtered to
// one person.
func (h *Handler) ListAttendance(c *gin.Context) {
	var userID int64
	if v := c.Query("user_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		userID = parsed
	}
	limit, offset := 100, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}

	events, err := h.store.ListEvents(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []roster.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Checkin accepts a camera photo, uploads it, and queues it for the
// identification worker. The response is a ticket, not an attendance
// event; the event appears once the worker matches the face.
func (h *Handler) Checkin(c *gin.Context) {
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read photo failed"})
		return
	}

	if h.cloud == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	result, err := h.cloud.UploadBytesTo(data, header.Filename, "evidence")
	if err != nil {
		log.Printf("checkin photo upload failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}

	job := queue.NewCheckinJob(result.SecureURL, time.Now().UTC())
	if err := h.checkins.Publish(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue publish failed"})
		return
	}
	metrics.CheckinsQueued.Inc()

	c.JSON(http.StatusAccepted, gin.H{"checkin_id": job.ID, "photo_url": job.PhotoURL})
}
