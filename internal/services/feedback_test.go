package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/platform/apierr"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/requestdata"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/types"
)

type fakeFeedbackRepo struct {
	mu   sync.Mutex
	rows map[string]*types.Feedback
}

func newFakeFeedbackRepo() *fakeFeedbackRepo {
	return &fakeFeedbackRepo{rows: map[string]*types.Feedback{}}
}

func feedbackKey(messageID, userID uuid.UUID) string {
	return messageID.String() + "/" + userID.String()
}

func (f *fakeFeedbackRepo) GetByMessageAndUser(ctx context.Context, tx *gorm.DB, messageID, userID uuid.UUID) (*types.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[feedbackKey(messageID, userID)], nil
}

func (f *fakeFeedbackRepo) Upsert(ctx context.Context, tx *gorm.DB, feedback *types.Feedback) (*types.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := feedbackKey(feedback.MessageID, feedback.UserID)
	if existing, ok := f.rows[key]; ok {
		existing.Rating = feedback.Rating
		existing.Comment = feedback.Comment
		return existing, nil
	}
	if feedback.ID == uuid.Nil {
		feedback.ID = uuid.New()
	}
	f.rows[key] = feedback
	return feedback, nil
}

type feedbackFixture struct {
	svc       FeedbackService
	ctx       context.Context
	caller    uuid.UUID
	userMsg   *types.Message
	botMsg    *types.Message
	otherCtx  context.Context
	otherUser uuid.UUID
}

func newFeedbackFixture(t *testing.T) *feedbackFixture {
	t.Helper()

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	chatRepo := newFakeChatRepo()
	msgRepo := &fakeMessageRepo{}
	svc := NewFeedbackService(newFakeFeedbackRepo(), msgRepo, chatRepo, log)

	caller := uuid.New()
	ctx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{
		SessionID: caller,
		UserID:    caller,
	})

	chat, err := chatRepo.Create(ctx, nil, &types.Chat{OwnerID: caller})
	if err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	userMsg, _ := msgRepo.Create(ctx, nil, &types.Message{ChatID: chat.ID, Role: types.MessageRoleUser, Content: "q"})
	botMsg, _ := msgRepo.Create(ctx, nil, &types.Message{ChatID: chat.ID, Role: types.MessageRoleAssistant, Content: "a"})

	otherUser := uuid.New()
	otherCtx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{
		SessionID: otherUser,
		UserID:    otherUser,
	})

	return &feedbackFixture{
		svc:       svc,
		ctx:       ctx,
		caller:    caller,
		userMsg:   userMsg,
		botMsg:    botMsg,
		otherCtx:  otherCtx,
		otherUser: otherUser,
	}
}

func TestFeedbackSubmitAndResubmit(t *testing.T) {
	t.Parallel()
	fx := newFeedbackFixture(t)

	first, err := fx.svc.Submit(fx.ctx, fx.botMsg.ID, types.FeedbackRatingPositive, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	comment := "wrong answer"
	second, err := fx.svc.Submit(fx.ctx, fx.botMsg.ID, types.FeedbackRatingNegative, &comment)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("resubmission created a second feedback row")
	}

	got, err := fx.svc.Get(fx.ctx, fx.botMsg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Rating != types.FeedbackRatingNegative {
		t.Fatalf("rating = %q, want replaced", got.Rating)
	}
}

func TestFeedbackRejectsInvalidRating(t *testing.T) {
	t.Parallel()
	fx := newFeedbackFixture(t)

	_, err := fx.svc.Submit(fx.ctx, fx.botMsg.ID, "meh", nil)
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != 400 || ae.Code != "invalid_rating" {
		t.Fatalf("err = %v, want 400 invalid_rating", err)
	}
}

func TestFeedbackOnlyOnAssistantMessages(t *testing.T) {
	t.Parallel()
	fx := newFeedbackFixture(t)

	_, err := fx.svc.Submit(fx.ctx, fx.userMsg.ID, types.FeedbackRatingPositive, nil)
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Code != "invalid_target" {
		t.Fatalf("err = %v, want invalid_target", err)
	}
}

func TestFeedbackStrangerGetsNotFound(t *testing.T) {
	t.Parallel()
	fx := newFeedbackFixture(t)

	_, err := fx.svc.Submit(fx.otherCtx, fx.botMsg.ID, types.FeedbackRatingPositive, nil)
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != 404 {
		t.Fatalf("err = %v, want 404 for another owner's message", err)
	}
}

func TestFeedbackGetMissingReturnsNil(t *testing.T) {
	t.Parallel()
	fx := newFeedbackFixture(t)

	got, err := fx.svc.Get(fx.ctx, fx.botMsg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("Get = %+v, want nil before any submission", got)
	}
}
