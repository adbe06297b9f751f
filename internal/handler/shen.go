package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shen/internal/domain"
	feat "shen/internal/features"
	logging "shen/pkg/logger/pkg"
)

// ShenHandler maps the candidate-facing HTTP API onto the session
// controller.
type ShenHandler struct {
	shen   feat.IShen
	logger *zap.Logger
}

func NewShenHandler(shen feat.IShen, logger *zap.Logger) *ShenHandler {
	return &ShenHandler{shen: shen, logger: logger}
}

// Register wires the candidate session routes.
func (h *ShenHandler) Register(r *gin.Engine) {
	r.Use(h.requestID)

	r.POST("/sessions", h.startSession)
	r.GET("/sessions/:id", h.getSession)
	r.GET("/sessions/:id/context", h.sessionContext)
	r.POST("/sessions/:id/answers", h.submitAnswer)
	r.POST("/sessions/:id/visibility", h.recordVisibility)
	r.POST("/sessions/:id/chunks", h.pushChunk)
	r.POST("/sessions/:id/media/toggle", h.toggleTrack)
	r.POST("/sessions/:id/complete", h.completeSession)
}

func (h *ShenHandler) requestID(c *gin.Context) {
	if rid := c.GetHeader("X-Request-Id"); rid != "" {
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), rid))
	}
	c.Next()
}

type startSessionBody struct {
	JobID          string `json:"job_id" binding:"required"`
	CandidateName  string `json:"candidate_name"`
	CandidateEmail string `json:"candidate_email"`
	CandidatePhone string `json:"candidate_phone"`
	VideoGranted   bool   `json:"video_granted"`
	AudioGranted   bool   `json:"audio_granted"`
}

func (h *ShenHandler) startSession(c *gin.Context) {
	var body startSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.shen.StartSession(c.Request.Context(), &feat.StartSessionRequest{
		JobID: body.JobID,
		Candidate: domain.Candidate{
			Name:  body.CandidateName,
			Email: body.CandidateEmail,
			Phone: body.CandidatePhone,
		},
		VideoGranted: body.VideoGranted,
		AudioGranted: body.AudioGranted,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := gin.H{
		"session_id":       result.SessionID,
		"state":            result.State,
		"duration_seconds": result.DurationSeconds,
		"total_questions":  result.TotalQuestions,
	}
	if result.FirstQuestion != nil {
		resp["first_question"] = result.FirstQuestion
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *ShenHandler) getSession(c *gin.Context) {
	snapshot, err := h.shen.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":           snapshot.Session,
		"current_index":     snapshot.CurrentIndex,
		"total_questions":   snapshot.TotalQuestions,
		"progress":          snapshot.Progress,
		"remaining_seconds": snapshot.RemainingSeconds,
		"violations":        snapshot.Violations,
		"warnings":          snapshot.Warnings,
	})
}

func (h *ShenHandler) sessionContext(c *gin.Context) {
	sc, err := h.shen.SessionContext(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

type submitAnswerBody struct {
	AnswerText string `json:"answer_text"`
}

func (h *ShenHandler) submitAnswer(c *gin.Context) {
	var body submitAnswerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.shen.SubmitAnswer(c.Request.Context(), c.Param("id"), body.AnswerText)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := gin.H{
		"done":     result.Done,
		"progress": result.Progress,
	}
	if result.NextQuestion != nil {
		resp["next_question"] = result.NextQuestion
	}
	c.JSON(http.StatusOK, resp)
}

type visibilityBody struct {
	Hidden bool `json:"hidden"`
}

func (h *ShenHandler) recordVisibility(c *gin.Context) {
	var body visibilityBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.shen.RecordVisibility(c.Request.Context(), c.Param("id"), body.Hidden)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"violations":     result.Violations,
		"prompt_blocked": result.PromptBlocked,
	})
}

func (h *ShenHandler) pushChunk(c *gin.Context) {
	file, _, err := c.Request.FormFile("chunk")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunk file is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read chunk"})
		return
	}

	if err := h.shen.PushChunk(c.Request.Context(), c.Param("id"), data); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

type toggleTrackBody struct {
	Track   string `json:"track" binding:"required"`
	Enabled bool   `json:"enabled"`
}

func (h *ShenHandler) toggleTrack(c *gin.Context) {
	var body toggleTrackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.shen.SetTrackEnabled(c.Request.Context(), c.Param("id"), body.Track, body.Enabled); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"track": body.Track, "enabled": body.Enabled})
}

func (h *ShenHandler) completeSession(c *gin.Context) {
	if err := h.shen.CompleteSession(c.Request.Context(), c.Param("id"), domain.ReasonUserAction); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": true})
}

func (h *ShenHandler) writeError(c *gin.Context, err error) {
	var validationErr *domain.ValidationError
	var mediaErr *domain.MediaAccessError
	var networkErr *domain.NetworkError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.As(err, &mediaErr):
		c.JSON(http.StatusForbidden, gin.H{"error": mediaErr.Error()})
	case errors.Is(err, feat.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, feat.ErrNotInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, feat.ErrSubmissionInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &networkErr):
		// Retriable: the client resubmits the same action
		c.JSON(http.StatusBadGateway, gin.H{"error": networkErr.Error(), "retriable": true})
	default:
		h.logger.Error("Unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
