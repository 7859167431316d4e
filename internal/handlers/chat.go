package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bullhornlabs/bullhorn-chat-backend/internal/logger"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/services"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/stream"
	"github.com/bullhornlabs/bullhorn-chat-backend/internal/types"
)

type ChatHandler struct {
	log     *logger.Logger
	chatSvc services.ChatService
}

func NewChatHandler(chatSvc services.ChatService, baseLog *logger.Logger) *ChatHandler {
	return &ChatHandler{
		log:     baseLog.With("handler", "ChatHandler"),
		chatSvc: chatSvc,
	}
}

type createChatRequest struct {
	Message  string        `json:"message"`
	Messages []turnMessage `json:"messages"`
}

func (h *ChatHandler) Create(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	first := req.Message
	if first == "" && len(req.Messages) > 0 {
		first = req.Messages[len(req.Messages)-1].text()
	}

	chat, err := h.chatSvc.CreateChat(c.Request.Context(), first)
	if err != nil {
		RespondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (h *ChatHandler) List(c *gin.Context) {
	chats, err := h.chatSvc.ListChats(c.Request.Context(), 0)
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, gin.H{"chats": chats})
}

type chatDetailResponse struct {
	Chat     *types.Chat      `json:"chat"`
	Messages []*types.Message `json:"messages"`
}

func (h *ChatHandler) Get(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}

	chat, messages, err := h.chatSvc.GetChat(c.Request.Context(), chatID)
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, chatDetailResponse{Chat: chat, Messages: messages})
}

// turnMessage is one inbound chat message. Clients send content either as a
// plain string or as a list of typed parts.
type turnMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type turnMessagePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// text extracts the message's plain text. For typed parts the first
// text-typed part wins.
func (m turnMessage) text() string {
	var plain string
	if err := json.Unmarshal(m.Content, &plain); err == nil {
		return plain
	}
	var parts []turnMessagePart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ""
	}
	for _, p := range parts {
		if p.Type == "text" {
			return p.Text
		}
	}
	return ""
}

type turnRequest struct {
	Model    string        `json:"model"`
	Messages []turnMessage `json:"messages"`
}

// latestText returns the text of the most recent message in the request.
func (r turnRequest) latestText() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].text()
}

// StreamTurn runs the streaming turn. Until the first frame is written the
// endpoint can still answer with a JSON error; after that the stream is the
// response.
func (h *ChatHandler) StreamTurn(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}

	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	content := strings.TrimSpace(req.latestText())
	if content == "" {
		RespondError(c, http.StatusBadRequest, "empty_message", fmt.Errorf("message is required"))
		return
	}

	sink := &turnSink{c: c}
	in := services.TurnInput{Content: content, Model: req.Model}
	if err := h.chatSvc.StreamTurn(c.Request.Context(), sink, chatID, in); err != nil {
		if sink.started {
			// Headers are gone; nothing more to say to this client.
			h.log.Warn("Turn failed after streaming started", "chat_id", chatID, "error", err)
			return
		}
		RespondErr(c, err)
	}
}

// turnSink adapts the gin response writer to the turn's frame protocol.
// Headers go out lazily with the first frame.
type turnSink struct {
	c       *gin.Context
	enc     *stream.Encoder
	started bool
}

func (s *turnSink) ensureStarted() {
	if s.started {
		return
	}
	stream.WriteHeaders(s.c.Writer.Header())
	s.c.Writer.WriteHeader(http.StatusOK)
	s.enc = stream.NewEncoder(s.c.Writer)
	s.started = true
}

func (s *turnSink) Text(chunk string) error {
	s.ensureStarted()
	return s.enc.Text(chunk)
}

func (s *turnSink) Finish() error {
	s.ensureStarted()
	return s.enc.Finish()
}
