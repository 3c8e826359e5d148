package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gua-backend/internal/models"
)

// FallbackReply is the assistant turn recorded when the completion fails.
const FallbackReply = "Sorry, I'm having trouble connecting right now. Please try again."

const defaultImagePrompt = "Generate a creative image"

// ConversationStore is the durable per-user conversation and message store.
type ConversationStore interface {
	ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, userID uuid.UUID, title string) (*models.Conversation, error)
	UpdateTitle(ctx context.Context, conversationID uuid.UUID, title string) error
	DeleteConversation(ctx context.Context, conversationID uuid.UUID) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
}

// Completer returns the next assistant message for an ordered history.
type Completer interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (*models.ChatMessage, error)
}

// Publisher pushes session events to the user's live connections.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
}

type TurnState string

const (
	TurnComposing               TurnState = "composing"
	TurnOptimisticAppended      TurnState = "optimistic_appended"
	TurnPersistingUserTurn      TurnState = "persisting_user_turn"
	TurnAwaitingCompletion      TurnState = "awaiting_completion"
	TurnPersistingAssistantTurn TurnState = "persisting_assistant_turn"
	TurnSettled                 TurnState = "settled"
	TurnErrored                 TurnState = "errored"
)

// TurnResult describes one outbound turn. Trail lists every state the turn
// passed through; State is the terminal one. Err joins every failure seen
// on the way, nil when the turn settled.
type TurnResult struct {
	State          TurnState
	Trail          []TurnState
	ConversationID uuid.UUID
	UserEntry      *models.TimelineEntry
	AssistantEntry *models.TimelineEntry
	Err            error
}

func newTurnResult() *TurnResult {
	return &TurnResult{State: TurnComposing, Trail: []TurnState{TurnComposing}}
}

func (r *TurnResult) advance(state TurnState) {
	r.State = state
	r.Trail = append(r.Trail, state)
}

func (r *TurnResult) fail(err error) {
	r.Err = errors.Join(r.Err, err)
}

func (r *TurnResult) finish() {
	if r.Err != nil {
		r.advance(TurnErrored)
		return
	}
	r.advance(TurnSettled)
}

// Response renders the result for the HTTP layer.
func (r *TurnResult) Response() models.TurnResponse {
	resp := models.TurnResponse{
		State:          string(r.State),
		ConversationID: r.ConversationID,
		UserMessage:    r.UserEntry,
		Reply:          r.AssistantEntry,
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

// MessagePipeline runs outbound turns and conversation navigation against
// a Session, the durable store and the completion proxy.
type MessagePipeline struct {
	store     ConversationStore
	completer Completer
	ingestor  *DocumentIngestor
	publisher Publisher
	log       zerolog.Logger
}

func NewMessagePipeline(store ConversationStore, completer Completer, ingestor *DocumentIngestor, publisher Publisher, log zerolog.Logger) *MessagePipeline {
	return &MessagePipeline{
		store:     store,
		completer: completer,
		ingestor:  ingestor,
		publisher: publisher,
		log:       log,
	}
}

// SendMessage runs one outbound turn. Only validation, a turn already in
// flight, and a conversation that could not be created are returned as
// errors; every later failure ends up on the TurnResult and in the
// timeline as a normal-looking assistant message.
func (p *MessagePipeline) SendMessage(ctx context.Context, s *Session, text, kind string) (*TurnResult, error) {
	if kind == "" {
		kind = models.TurnChat
	}
	if kind == models.TurnChat && strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Fields: map[string]string{"text": "Message is required"}}
	}
	if !s.beginTurn() {
		return nil, ErrTurnInFlight
	}
	defer s.endTurn()
	return p.startTurn(ctx, s, text, kind)
}

// startTurn expects the session's turn to be held by the caller.
func (p *MessagePipeline) startTurn(ctx context.Context, s *Session, text, kind string) (*TurnResult, error) {
	conv, err := p.ensureConversation(ctx, s)
	if err != nil {
		return nil, err
	}

	res := newTurnResult()
	res.ConversationID = conv.ID
	p.runTurn(ctx, s, conv.ID, text, kind, res)
	return res, nil
}

// GenerateImage sends an image-generation turn. An empty prompt falls back
// to a generic one.
func (p *MessagePipeline) GenerateImage(ctx context.Context, s *Session, prompt string) (*TurnResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = defaultImagePrompt
	}
	return p.SendMessage(ctx, s, "Generate image: "+prompt, models.TurnGenerateImage)
}

// UploadDocument converts the file into a chat turn. Unsupported files and
// extraction failures become one synthetic assistant message instead. The
// turn is claimed before the file is read.
func (p *MessagePipeline) UploadDocument(ctx context.Context, s *Session, name string, data []byte) (*TurnResult, error) {
	if !s.beginTurn() {
		return nil, ErrTurnInFlight
	}
	defer s.endTurn()

	doc, err := p.ingestor.Ingest(ctx, data, name)
	if err != nil {
		var ie *IngestionError
		if !errors.As(err, &ie) {
			ie = &IngestionError{Message: "Failed to process document " + name, Err: err}
		}
		p.log.Warn().Err(err).Str("file", name).Msg("document ingestion failed")
		return p.syntheticReply(ctx, s, ie.Error(), ie)
	}
	return p.startTurn(ctx, s, doc.Message, models.TurnUploadFile)
}

func (p *MessagePipeline) runTurn(ctx context.Context, s *Session, conversationID uuid.UUID, text, kind string, res *TurnResult) {
	userID := s.User().ID
	log := p.log.With().Str("conversation_id", conversationID.String()).Logger()

	userEntry, history := s.appendTurn(conversationID, models.SenderUser, text, kind, false)
	res.UserEntry = &userEntry
	res.advance(TurnOptimisticAppended)
	p.publish(ctx, userID, models.EventTimelineAppended, userEntry)

	res.advance(TurnPersistingUserTurn)
	if err := p.persist(ctx, s, res.UserEntry); err != nil {
		log.Error().Err(err).Msg("user turn not persisted")
		res.fail(err)
	}

	p.deriveTitle(ctx, s, conversationID, text)

	res.advance(TurnAwaitingCompletion)
	if history == nil {
		// The user switched conversations before we got here; only the new
		// turn can be sent.
		history = []models.TimelineEntry{userEntry}
	}
	reply, err := p.completer.Complete(ctx, outboundMessages(history))

	var assistant models.TimelineEntry
	if err != nil {
		log.Error().Err(err).Msg("completion failed")
		res.fail(err)
		assistant, _ = s.appendTurn(conversationID, models.SenderAssistant, FallbackReply, models.TurnChat, true)
	} else {
		assistant, _ = s.appendTurn(conversationID, models.SenderAssistant, reply.Content, models.TurnChat, false)
	}
	res.AssistantEntry = &assistant
	p.publish(ctx, userID, models.EventTimelineAppended, assistant)

	res.advance(TurnPersistingAssistantTurn)
	if err := p.persist(ctx, s, res.AssistantEntry); err != nil {
		log.Error().Err(err).Msg("assistant turn not persisted")
		res.fail(err)
	}

	res.finish()
	p.publish(ctx, userID, models.EventTurnFinished, res.Response())
	log.Debug().Str("state", string(res.State)).Msg("turn finished")
}

// syntheticReply records a single assistant error message without asking
// the completion service. The caller holds the session's turn.
func (p *MessagePipeline) syntheticReply(ctx context.Context, s *Session, content string, cause error) (*TurnResult, error) {
	conv, err := p.ensureConversation(ctx, s)
	if err != nil {
		return nil, err
	}

	res := newTurnResult()
	res.ConversationID = conv.ID
	res.fail(cause)

	entry, _ := s.appendTurn(conv.ID, models.SenderAssistant, content, models.TurnChat, true)
	res.AssistantEntry = &entry
	p.publish(ctx, s.User().ID, models.EventTimelineAppended, entry)

	res.advance(TurnPersistingAssistantTurn)
	if err := p.persist(ctx, s, res.AssistantEntry); err != nil {
		p.log.Error().Err(err).Msg("synthetic reply not persisted")
		res.fail(err)
	}
	res.finish()
	p.publish(ctx, s.User().ID, models.EventTurnFinished, res.Response())
	return res, nil
}

// persist writes the entry and marks it persisted locally. A message that
// landed but whose conversation timestamp did not move still counts as
// persisted; that failure is only logged.
func (p *MessagePipeline) persist(ctx context.Context, s *Session, entry *models.TimelineEntry) error {
	msg := entry.Message
	err := p.store.AppendMessage(ctx, &msg)
	if err != nil && !errors.Is(err, models.ErrConversationNotTouched) {
		return &StoreError{Op: "append message", Err: err}
	}
	if err != nil {
		p.log.Warn().Err(err).Str("conversation_id", msg.ConversationID.String()).Msg("conversation timestamp not updated")
	} else {
		s.touchConversation(msg.ConversationID, msg.CreatedAt)
	}
	entry.Persisted = true
	s.markPersisted(entry.ID)
	return nil
}

// deriveTitle replaces the placeholder title. If the write fails the
// placeholder stays and the next turn tries again.
func (p *MessagePipeline) deriveTitle(ctx context.Context, s *Session, conversationID uuid.UUID, text string) {
	conv, ok := s.conversation(conversationID)
	if !ok || !hasPlaceholderTitle(conv) {
		return
	}
	title := DeriveTitle(text)
	if err := p.store.UpdateTitle(ctx, conversationID, title); err != nil {
		p.log.Error().Err(&StoreError{Op: "update title", Err: err}).
			Str("conversation_id", conversationID.String()).
			Msg("title not saved, will retry on next turn")
		return
	}
	if updated, ok := s.setTitle(conversationID, title); ok {
		p.publish(ctx, s.User().ID, models.EventConversationUpdated, updated)
	}
}

func (p *MessagePipeline) publish(ctx context.Context, userID uuid.UUID, eventType string, payload interface{}) {
	if p.publisher == nil {
		return
	}
	p.publisher.Publish(ctx, userID, models.WSMessage{Type: eventType, Payload: payload})
}

// outboundMessages maps timeline entries to completion roles: user turns
// stay "user", everything else is sent as "assistant".
func outboundMessages(entries []models.TimelineEntry) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(entries))
	for _, e := range entries {
		role := models.SenderAssistant
		if e.Sender == models.SenderUser {
			role = models.SenderUser
		}
		out = append(out, models.ChatMessage{Role: role, Content: e.Content})
	}
	return out
}

func documentMessage(name string, size int, text string) string {
	return fmt.Sprintf("Document: %s (%.2f MB). Content: %s", name, float64(size)/1024/1024, text)
}
