package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	"github.com/NikhilSetiya/smart-bug-triage/internal/store"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
)

const (
	defaultStatsDays = 30
	maxStatsDays     = 365
	trendDays        = 7
)

// DeveloperHandler maintains developer profiles, assignment feedback and
// live developer status
type DeveloperHandler struct {
	directory  store.DeveloperDirectory
	developers store.DeveloperStore
	feedback   store.FeedbackStore
	statuses  store.StatusStore
	logger    *logging.Logger
	now       func() time.Time
}

// NewDeveloperHandler creates a new developer handler
func NewDeveloperHandler(directory store.DeveloperDirectory, developers store.DeveloperStore, feedback store.FeedbackStore, statuses store.StatusStore, logger *logging.Logger) *DeveloperHandler {
	return &DeveloperHandler{
		directory:  directory,
		developers: developers,
		feedback:   feedback,
		statuses:   statuses,
		logger:     logging.OrDefault(logger),
		now:        time.Now,
	}
}

// DeveloperRequest is the body of PUT /developers/:id
type DeveloperRequest struct {
	Name                string   `json:"name" binding:"required"`
	Handle              string   `json:"handle"`
	Email               string   `json:"email" binding:"omitempty,email"`
	Skills              []string `json:"skills"`
	Experience          string   `json:"experience"`
	MaxCapacity         int      `json:"max_capacity" binding:"min=0"`
	PreferredCategories []string `json:"preferred_categories"`
	Timezone            string   `json:"timezone"`
}

// FeedbackRequest is the body of POST /feedback
type FeedbackRequest struct {
	DeveloperID string `json:"developer_id" binding:"required"`
	BugID       string `json:"bug_id" binding:"required"`
	Rating      int    `json:"rating" binding:"required,min=1,max=5"`
}

// StatusRequest is the body of PUT /developers/:id/status
type StatusRequest struct {
	CurrentWorkload int    `json:"current_workload" binding:"min=0"`
	Availability    string `json:"availability" binding:"required"`
	CalendarFree    bool   `json:"calendar_free"`
	FocusTimeActive bool   `json:"focus_time_active"`
}

// DailyFeedback is one day of a developer's feedback trend
type DailyFeedback struct {
	Date          string   `json:"date"`
	FeedbackCount int      `json:"feedback_count"`
	AverageRating *float64 `json:"average_rating"`
}

// DeveloperFeedbackStats is the body of GET /developers/:id/feedback
type DeveloperFeedbackStats struct {
	DeveloperID        string          `json:"developer_id"`
	DeveloperName      string          `json:"developer_name"`
	Days               int             `json:"days"`
	FeedbackCount      int             `json:"feedback_count"`
	AverageRating      *float64        `json:"average_rating"`
	RatingDistribution map[int]int     `json:"rating_distribution"`
	RecentTrend        []DailyFeedback `json:"recent_trend"`
}

// UpsertDeveloper handles PUT /developers/:id. A deactivated developer is
// reactivated.
func (h *DeveloperHandler) UpsertDeveloper(c *gin.Context) {
	var req DeveloperRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	dev := assignment.Developer{
		ID:          c.Param("id"),
		Name:        req.Name,
		Handle:      req.Handle,
		Email:       req.Email,
		Skills:      req.Skills,
		Experience:  assignment.ParseExperienceLevel(req.Experience),
		MaxCapacity: req.MaxCapacity,
		Timezone:    req.Timezone,
	}
	for _, cat := range req.PreferredCategories {
		dev.PreferredCategories = append(dev.PreferredCategories, assignment.ParseCategory(cat))
	}

	ctx := c.Request.Context()
	if err := h.developers.UpsertDeveloper(ctx, dev); err != nil {
		h.logger.LogError(ctx, err, "Failed to save developer", logrus.Fields{"developer_id": dev.ID})
		ErrorResponseFromError(c, err, nil)
		return
	}

	h.logger.WithContext(ctx).WithFields(logrus.Fields{
		"developer_id": dev.ID,
		"skills":       len(dev.Skills),
		"experience":   dev.Experience.String(),
	}).Info("Developer saved")
	SuccessResponse(c, dev)
}

// DeactivateDeveloper handles DELETE /developers/:id
func (h *DeveloperHandler) DeactivateDeveloper(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.developers.DeactivateDeveloper(ctx, id); err != nil {
		ErrorResponseFromError(c, err, nil)
		return
	}

	h.logger.WithContext(ctx).WithField("developer_id", id).Info("Developer deactivated")
	c.Status(http.StatusNoContent)
}

// SubmitFeedback handles POST /feedback
func (h *DeveloperHandler) SubmitFeedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if _, err := h.findDeveloper(ctx, req.DeveloperID); err != nil {
		ErrorResponseFromError(c, err, nil)
		return
	}

	fb := assignment.Feedback{
		DeveloperID: req.DeveloperID,
		BugID:       req.BugID,
		Rating:      req.Rating,
		Timestamp:   h.now(),
	}
	if err := h.feedback.RecordFeedback(ctx, fb); err != nil {
		h.logger.LogError(ctx, err, "Failed to record feedback", logrus.Fields{
			"developer_id": fb.DeveloperID,
			"bug_id":       fb.BugID,
		})
		ErrorResponseFromError(c, err, nil)
		return
	}

	h.logger.WithContext(ctx).WithFields(logrus.Fields{
		"developer_id": fb.DeveloperID,
		"bug_id":       fb.BugID,
		"rating":       fb.Rating,
	}).Info("Feedback recorded")
	CreatedResponse(c, fb)
}

// GetFeedbackStats handles GET /developers/:id/feedback. days bounds the
// period, 30 by default.
func (h *DeveloperHandler) GetFeedbackStats(c *gin.Context) {
	days := defaultStatsDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxStatsDays {
			BadRequestResponse(c, "days must be between 1 and 365")
			return
		}
		days = n
	}

	ctx := c.Request.Context()
	dev, err := h.findDeveloper(ctx, c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err, nil)
		return
	}

	now := h.now()
	history, err := h.feedback.DeveloperFeedback(ctx, dev.ID, now.AddDate(0, 0, -days))
	if err != nil {
		ErrorResponseFromError(c, err, nil)
		return
	}

	SuccessResponse(c, feedbackStats(dev, history, days, now))
}

// UpdateStatus handles PUT /developers/:id/status
func (h *DeveloperHandler) UpdateStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	availability := assignment.ParseAvailability(req.Availability)
	switch availability {
	case assignment.Available, assignment.Busy, assignment.FocusTime, assignment.Unavailable:
	default:
		BadRequestResponse(c, "availability must be one of available, busy, focus_time, unavailable")
		return
	}

	ctx := c.Request.Context()
	dev, err := h.findDeveloper(ctx, c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err, nil)
		return
	}

	status := assignment.Status{
		DeveloperID:     dev.ID,
		CurrentWorkload: req.CurrentWorkload,
		Availability:    availability,
		CalendarFree:    req.CalendarFree,
		FocusTimeActive: req.FocusTimeActive,
		UpdatedAt:       h.now(),
	}
	if err := h.statuses.SetStatus(ctx, status); err != nil {
		ErrorResponseFromError(c, err, nil)
		return
	}

	h.logger.WithContext(ctx).WithFields(logrus.Fields{
		"developer_id": dev.ID,
		"availability": string(availability),
		"workload":     req.CurrentWorkload,
	}).Info("Developer status updated")
	SuccessResponse(c, status)
}

// ClearStatus handles DELETE /developers/:id/status. The developer drops
// out of the candidate set until a new status arrives.
func (h *DeveloperHandler) ClearStatus(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.statuses.ClearStatus(ctx, id); err != nil {
		ErrorResponseFromError(c, err, nil)
		return
	}

	h.logger.WithContext(ctx).WithField("developer_id", id).Info("Developer status cleared")
	c.Status(http.StatusNoContent)
}

func (h *DeveloperHandler) findDeveloper(ctx context.Context, id string) (assignment.Developer, error) {
	developers, err := h.directory.ListDevelopers(ctx)
	if err != nil {
		return assignment.Developer{}, err
	}
	for _, d := range developers {
		if d.ID == id {
			return d, nil
		}
	}
	return assignment.Developer{}, errors.NewNotFoundError("developer " + id)
}

// feedbackStats summarizes history over the period and the trailing week
func feedbackStats(dev assignment.Developer, history []assignment.Feedback, days int, now time.Time) DeveloperFeedbackStats {
	stats := DeveloperFeedbackStats{
		DeveloperID:        dev.ID,
		DeveloperName:      dev.Name,
		Days:               days,
		FeedbackCount:      len(history),
		RatingDistribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		RecentTrend:        make([]DailyFeedback, trendDays),
	}

	sums := make([]int, trendDays)
	total := 0
	for _, fb := range history {
		total += fb.Rating
		stats.RatingDistribution[fb.Rating]++

		// day 0 is the 24 hours before now
		if age := now.Sub(fb.Timestamp); age >= 0 {
			if day := int(age / (24 * time.Hour)); day < trendDays {
				stats.RecentTrend[day].FeedbackCount++
				sums[day] += fb.Rating
			}
		}
	}
	if len(history) > 0 {
		stats.AverageRating = roundedMean(total, len(history))
	}

	for i := range stats.RecentTrend {
		stats.RecentTrend[i].Date = now.AddDate(0, 0, -(i + 1)).Format("2006-01-02")
		if n := stats.RecentTrend[i].FeedbackCount; n > 0 {
			stats.RecentTrend[i].AverageRating = roundedMean(sums[i], n)
		}
	}
	return stats
}

func roundedMean(sum, n int) *float64 {
	v := math.Round(float64(sum)/float64(n)*100) / 100
	return &v
}
