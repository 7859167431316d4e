package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/observability"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/platform/apierr"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/platform/openai"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/repos"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/requestdata"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/types"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/utils"
)

// TurnSink receives the downstream frames of one streaming turn.
type TurnSink interface {
	Text(chunk string) error
	Finish() error
}

// errClientGone marks a sink write failure, meaning the browser went away.
// The turn still finalizes with whatever content was produced.
var errClientGone = errors.New("client disconnected")

const titlePromptFormat = "Generate a short title (max 30 chars) for a chat that starts with: %q. " +
	"No quotes or punctuation. Keep it professional and concise."

const assistantInstructions = "You are the Bullhorn assistant. Use the available tools when they help answer " +
	"recruiting and staffing questions. Answer directly and concisely."

// TurnInput is the normalized input to one streaming turn: the latest user
// message's plain text and an optional model override. An empty Model falls
// through to the deployment default.
type TurnInput struct {
	Content string
	Model   string
}

type ChatService interface {
	// CreateChat opens an untitled chat for the caller and records the first
	// user message when one is provided.
	CreateChat(ctx context.Context, firstMessage string) (*types.Chat, error)
	GetChat(ctx context.Context, chatID uuid.UUID) (*types.Chat, []*types.Message, error)
	ListChats(ctx context.Context, limit int) ([]*types.Chat, error)

	// StreamTurn runs one full user turn: persists the user message, streams
	// the model's reply into the sink, then persists the assistant message
	// and the continuation handle.
	StreamTurn(ctx context.Context, sink TurnSink, chatID uuid.UUID, in TurnInput) error
}

type chatService struct {
	log          *logger.Logger
	chatRepo     repos.ChatRepo
	messageRepo  repos.MessageRepo
	ai           openai.Client
	credentials  CredentialResolver
	mcpBaseURL   string
	instructions string
}

func NewChatService(
	chatRepo repos.ChatRepo,
	messageRepo repos.MessageRepo,
	ai openai.Client,
	credentials CredentialResolver,
	baseLog *logger.Logger,
) ChatService {
	log := baseLog.With("service", "ChatService")
	mcpBaseURL := strings.TrimRight(utils.GetEnv("MCP_BASE_URL", "", log), "/")
	if mcpBaseURL == "" {
		log.Warn("MCP_BASE_URL not set, turns will stream without the tool bridge")
	}

	return &chatService{
		log:          log,
		chatRepo:     chatRepo,
		messageRepo:  messageRepo,
		ai:           ai,
		credentials:  credentials,
		mcpBaseURL:   mcpBaseURL,
		instructions: utils.GetEnv("OPENAI_INSTRUCTIONS", assistantInstructions, log),
	}
}

func (s *chatService) CreateChat(ctx context.Context, firstMessage string) (*types.Chat, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil {
		return nil, apierr.Unauthorized("no_session", fmt.Errorf("request has no session"))
	}

	chat, err := s.chatRepo.Create(ctx, nil, &types.Chat{OwnerID: rd.CallerID()})
	if err != nil {
		return nil, err
	}

	if content := strings.TrimSpace(firstMessage); content != "" {
		if _, err := s.messageRepo.Create(ctx, nil, &types.Message{
			ChatID:  chat.ID,
			Role:    types.MessageRoleUser,
			Content: content,
		}); err != nil {
			return nil, err
		}
	}
	return chat, nil
}

func (s *chatService) GetChat(ctx context.Context, chatID uuid.UUID) (*types.Chat, []*types.Message, error) {
	chat, err := s.ownedChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}

	messages, err := s.messageRepo.ListByChatID(ctx, nil, chatID)
	if err != nil {
		return nil, nil, err
	}
	return chat, messages, nil
}

func (s *chatService) ListChats(ctx context.Context, limit int) ([]*types.Chat, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil {
		return nil, apierr.Unauthorized("no_session", fmt.Errorf("request has no session"))
	}
	return s.chatRepo.ListByOwner(ctx, nil, rd.CallerID(), limit)
}

// ownedChat resolves the chat under the caller's identity. Chats owned by
// other callers are indistinguishable from missing ones.
func (s *chatService) ownedChat(ctx context.Context, chatID uuid.UUID) (*types.Chat, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil {
		return nil, apierr.Unauthorized("no_session", fmt.Errorf("request has no session"))
	}

	chat, err := s.chatRepo.GetByIDForOwner(ctx, nil, chatID, rd.CallerID())
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, apierr.NotFound("chat_not_found", fmt.Errorf("chat %s not found", chatID))
	}
	return chat, nil
}

func (s *chatService) StreamTurn(ctx context.Context, sink TurnSink, chatID uuid.UUID, in TurnInput) error {
	start := time.Now()
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return apierr.New(400, "empty_message", fmt.Errorf("message content is required"))
	}

	chat, err := s.ownedChat(ctx, chatID)
	if err != nil {
		return err
	}
	log := s.log.With("chat_id", chat.ID)

	if err := s.recordUserMessage(ctx, chat.ID, content); err != nil {
		return err
	}

	// The title task runs concurrently with the stream; an untitled chat gets
	// its name while the turn is still in flight.
	if strings.TrimSpace(chat.Title) == "" {
		s.generateTitleAsync(ctx, chat.ID, content)
	}

	rd := requestdata.GetRequestData(ctx)
	bearer, err := s.credentials.BearerToken(ctx, rd.UserID)
	if err != nil {
		// A failed credential lookup degrades the toolset, not the turn.
		log.Warn("Credential lookup failed, streaming without authenticated tools", "error", err)
		bearer = ""
	}

	var tools []openai.ToolDescriptor
	if s.mcpBaseURL != "" {
		tools = openai.BuildToolset(bearer, s.mcpBaseURL)
	}

	previousResponseID := ""
	if chat.LastResponseID != nil {
		previousResponseID = *chat.LastResponseID
	}

	var (
		assistant    strings.Builder
		responseID   string
		streamed     bool
		clientGone   bool
	)

	final, streamErr := s.ai.StreamTurn(ctx, openai.TurnParams{
		Model:              in.Model,
		Input:              content,
		Tools:              tools,
		PreviousResponseID: previousResponseID,
		Instructions:       s.instructions,
	}, openai.TurnHandlers{
		OnTextDelta: func(delta string) error {
			assistant.WriteString(delta)
			streamed = true
			if err := sink.Text(delta); err != nil {
				clientGone = true
				return errClientGone
			}
			return nil
		},
		OnContentPartAdded: func() error {
			// Separate consecutive content parts the same way paragraphs
			// separate in the final transcript.
			if !streamed {
				return nil
			}
			assistant.WriteString("\n\n")
			if err := sink.Text("\n\n"); err != nil {
				clientGone = true
				return errClientGone
			}
			return nil
		},
		OnResponseID: func(id string) {
			if responseID == "" {
				responseID = id
			}
		},
		OnToolEvent: func(event string, data string) {
			log.Debug("Tool bridge event", "event", event)
		},
	})

	if final.ID != "" {
		responseID = final.ID
	}

	if streamErr != nil && !clientGone && !errors.Is(streamErr, errClientGone) {
		if !streamed {
			// Nothing reached the client yet, so the caller can still see a
			// proper error response.
			if metrics := observability.Current(); metrics != nil {
				metrics.ObserveStreamTurn("upstream_error", time.Since(start))
			}
			return apierr.FromUpstream(streamErr)
		}
		log.Warn("Upstream stream failed mid-turn, finalizing with partial content", "error", streamErr)
	}

	s.finalizeTurn(ctx, log, chat.ID, assistant.String(), responseID)

	outcome := "completed"
	switch {
	case clientGone:
		outcome = "client_disconnected"
	case streamErr != nil:
		outcome = "upstream_error_partial"
	default:
		if err := sink.Finish(); err != nil {
			log.Debug("Terminal frame write failed", "error", err)
		}
	}

	if metrics := observability.Current(); metrics != nil {
		metrics.ObserveStreamTurn(outcome, time.Since(start))
	}

	log.Info("Turn finished",
		"outcome", outcome,
		"response_id", responseID,
		"assistant_chars", assistant.Len(),
		"duration", time.Since(start).String(),
	)
	return nil
}

// recordUserMessage stores the turn's user message unless it repeats the most
// recent stored message verbatim. Clients resend the trailing message after
// reconnects, so identity is judged on role and content, never on counts.
func (s *chatService) recordUserMessage(ctx context.Context, chatID uuid.UUID, content string) error {
	history, err := s.messageRepo.ListByChatID(ctx, nil, chatID)
	if err != nil {
		return err
	}
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == types.MessageRoleUser && last.Content == content {
			return nil
		}
	}

	_, err = s.messageRepo.Create(ctx, nil, &types.Message{
		ChatID:  chatID,
		Role:    types.MessageRoleUser,
		Content: content,
	})
	return err
}

// finalizeTurn persists whatever the turn produced. Persistence failures are
// logged and swallowed; the streamed content already reached the client.
func (s *chatService) finalizeTurn(ctx context.Context, log *logger.Logger, chatID uuid.UUID, content, responseID string) {
	persistCtx := context.WithoutCancel(ctx)

	if content != "" {
		msg := &types.Message{
			ChatID:  chatID,
			Role:    types.MessageRoleAssistant,
			Content: content,
		}
		if responseID != "" {
			msg.ResponseID = &responseID
		}
		if _, err := s.messageRepo.Create(persistCtx, nil, msg); err != nil {
			log.Error("Failed to persist assistant message", "error", err)
		}
	}

	if responseID != "" {
		if err := s.chatRepo.UpdateLastResponseID(persistCtx, nil, chatID, responseID); err != nil {
			log.Error("Failed to persist continuation handle", "response_id", responseID, "error", err)
		}
	}
}

// generateTitleAsync names the chat off the first user message. Runs detached
// from the request so a disconnect never cancels it; failures leave the chat
// untitled.
func (s *chatService) generateTitleAsync(ctx context.Context, chatID uuid.UUID, firstMessage string) {
	detached := context.WithoutCancel(ctx)

	go func() {
		titleCtx, cancel := context.WithTimeout(detached, 30*time.Second)
		defer cancel()

		prompt := fmt.Sprintf(titlePromptFormat, firstMessage)
		raw, err := s.ai.GenerateText(titleCtx, prompt, firstMessage)
		if err != nil {
			s.log.Warn("Title generation failed", "chat_id", chatID, "error", err)
			return
		}

		title := CleanTitle(raw)
		if title == "" {
			return
		}
		if err := s.chatRepo.UpdateTitle(titleCtx, nil, chatID, title); err != nil {
			s.log.Warn("Failed to store generated title", "chat_id", chatID, "error", err)
		}
	}()
}

// CleanTitle normalizes model output into a display title: first line only,
// quotes and colons stripped, capped at 30 runes.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexAny(title, "\r\n"); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(title, "\"'`")
	title = strings.ReplaceAll(title, ":", "")
	title = strings.TrimSpace(title)

	runes := []rune(title)
	if len(runes) > 30 {
		title = strings.TrimSpace(string(runes[:30]))
	}
	return title
}
