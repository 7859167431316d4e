package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/platform/apierr"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/repos"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/requestdata"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/types"
)

type FeedbackService interface {
	// Submit records a rating on an assistant message. Resubmitting replaces
	// the caller's earlier rating of the same message.
	Submit(ctx context.Context, messageID uuid.UUID, rating string, comment *string) (*types.Feedback, error)
	Get(ctx context.Context, messageID uuid.UUID) (*types.Feedback, error)
}

type feedbackService struct {
	log          *logger.Logger
	feedbackRepo repos.FeedbackRepo
	messageRepo  repos.MessageRepo
	chatRepo     repos.ChatRepo
}

func NewFeedbackService(
	feedbackRepo repos.FeedbackRepo,
	messageRepo repos.MessageRepo,
	chatRepo repos.ChatRepo,
	baseLog *logger.Logger,
) FeedbackService {
	return &feedbackService{
		log:          baseLog.With("service", "FeedbackService"),
		feedbackRepo: feedbackRepo,
		messageRepo:  messageRepo,
		chatRepo:     chatRepo,
	}
}

// ownedMessage checks the message exists and lives in a chat the caller
// owns. The same not-found answer covers both failures.
func (s *feedbackService) ownedMessage(ctx context.Context, messageID uuid.UUID) (*types.Message, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil {
		return nil, apierr.Unauthorized("no_session", fmt.Errorf("request has no session"))
	}

	messages, err := s.messageRepo.GetByIDs(ctx, nil, []uuid.UUID{messageID})
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, apierr.NotFound("message_not_found", fmt.Errorf("message %s not found", messageID))
	}
	message := messages[0]

	chat, err := s.chatRepo.GetByIDForOwner(ctx, nil, message.ChatID, rd.CallerID())
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, apierr.NotFound("message_not_found", fmt.Errorf("message %s not found", messageID))
	}
	return message, nil
}

func (s *feedbackService) Submit(ctx context.Context, messageID uuid.UUID, rating string, comment *string) (*types.Feedback, error) {
	if rating != types.FeedbackRatingPositive && rating != types.FeedbackRatingNegative {
		return nil, apierr.New(http.StatusBadRequest, "invalid_rating", fmt.Errorf("rating must be %q or %q", types.FeedbackRatingPositive, types.FeedbackRatingNegative))
	}

	message, err := s.ownedMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.Role != types.MessageRoleAssistant {
		return nil, apierr.New(http.StatusBadRequest, "invalid_target", fmt.Errorf("feedback applies to assistant messages only"))
	}

	rd := requestdata.GetRequestData(ctx)
	return s.feedbackRepo.Upsert(ctx, nil, &types.Feedback{
		MessageID: messageID,
		UserID:    rd.CallerID(),
		Rating:    rating,
		Comment:   comment,
	})
}

// Get returns the caller's feedback on a message, or nil when none exists.
func (s *feedbackService) Get(ctx context.Context, messageID uuid.UUID) (*types.Feedback, error) {
	if _, err := s.ownedMessage(ctx, messageID); err != nil {
		return nil, err
	}

	rd := requestdata.GetRequestData(ctx)
	return s.feedbackRepo.GetByMessageAndUser(ctx, nil, messageID, rd.CallerID())
}
