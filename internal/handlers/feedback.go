package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/services"
)

type FeedbackHandler struct {
	log         *logger.Logger
	feedbackSvc services.FeedbackService
}

func NewFeedbackHandler(feedbackSvc services.FeedbackService, baseLog *logger.Logger) *FeedbackHandler {
	return &FeedbackHandler{
		log:         baseLog.With("handler", "FeedbackHandler"),
		feedbackSvc: feedbackSvc,
	}
}

type submitFeedbackRequest struct {
	Rating  string  `json:"rating"`
	Comment *string `json:"comment"`
}

func (h *FeedbackHandler) Submit(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_message_id", err)
		return
	}

	var req submitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	feedback, err := h.feedbackSvc.Submit(c.Request.Context(), messageID, req.Rating, req.Comment)
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, feedback)
}

// Get returns the caller's feedback on a message, or a JSON null.
func (h *FeedbackHandler) Get(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_message_id", err)
		return
	}

	feedback, err := h.feedbackSvc.Get(c.Request.Context(), messageID)
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, feedback)
}
