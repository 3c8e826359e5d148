package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"gua-backend/internal/models"
)

// LoadConversations refreshes the session's conversation list. With nothing
// selected it selects the most recent conversation, or creates the first
// one when the user has none. On a store failure the previous list is kept
// and returned together with the error.
func (p *MessagePipeline) LoadConversations(ctx context.Context, s *Session) ([]models.Conversation, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	return p.loadConversations(ctx, s)
}

// EnsureLoaded bootstraps a fresh session with its conversation list. A
// caller that waited on a concurrent bootstrap reuses its result.
func (p *MessagePipeline) EnsureLoaded(ctx context.Context, s *Session) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.isLoaded() {
		return nil
	}
	_, err := p.loadConversations(ctx, s)
	return err
}

// loadConversations expects s.loadMu to be held.
func (p *MessagePipeline) loadConversations(ctx context.Context, s *Session) ([]models.Conversation, error) {
	user := s.User()
	list, err := p.store.ListConversations(ctx, user.ID)
	if err != nil {
		serr := &StoreError{Op: "list conversations", Err: err}
		p.log.Error().Err(serr).Str("user_id", user.ID.String()).Msg("conversation list is stale")
		return s.Conversations(), serr
	}
	s.setConversations(list)

	selected := s.SelectedID()
	if selected != uuid.Nil {
		if _, ok := s.conversation(selected); ok {
			return s.Conversations(), nil
		}
		// Deleted elsewhere.
		s.removeConversation(selected)
	}

	if len(list) == 0 {
		if _, err := p.createConversation(ctx, s); err != nil {
			return s.Conversations(), err
		}
		return s.Conversations(), nil
	}

	if err := p.SelectConversation(ctx, s, list[0].ID); err != nil {
		return s.Conversations(), err
	}
	return s.Conversations(), nil
}

// SelectConversation makes id the selected conversation and rebuilds the
// timeline from the store. On failure the previous selection stays.
func (p *MessagePipeline) SelectConversation(ctx context.Context, s *Session, id uuid.UUID) error {
	if _, ok := s.conversation(id); !ok {
		return &NotFoundError{Message: "Conversation not found"}
	}
	messages, err := p.store.ListMessages(ctx, id)
	if err != nil {
		serr := &StoreError{Op: "list messages", Err: err}
		p.log.Error().Err(serr).Str("conversation_id", id.String()).Msg("could not load messages")
		return serr
	}
	s.selectConversation(id, messages)
	p.publish(ctx, s.User().ID, models.EventTimelineReset, s.Timeline())
	return nil
}

// NewConversation creates a placeholder conversation and selects it with
// an empty timeline.
func (p *MessagePipeline) NewConversation(ctx context.Context, s *Session) (*models.Conversation, error) {
	return p.createConversation(ctx, s)
}

// DeleteConversation removes one of the session's conversations. Deleting
// the selected conversation clears the selection and the timeline.
func (p *MessagePipeline) DeleteConversation(ctx context.Context, s *Session, id uuid.UUID) error {
	if _, ok := s.conversation(id); !ok {
		return &NotFoundError{Message: "Conversation not found"}
	}
	if err := p.store.DeleteConversation(ctx, id); err != nil {
		serr := &StoreError{Op: "delete conversation", Err: err}
		p.log.Error().Err(serr).Str("conversation_id", id.String()).Msg("delete failed")
		return serr
	}
	wasSelected := s.removeConversation(id)
	p.publish(ctx, s.User().ID, models.EventConversationDeleted, map[string]interface{}{
		"id":       id,
		"selected": wasSelected,
	})
	return nil
}

// RenameConversation sets an explicit title.
func (p *MessagePipeline) RenameConversation(ctx context.Context, s *Session, id uuid.UUID, title string) (*models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &ValidationError{Fields: map[string]string{"title": "Title is required"}}
	}
	if _, ok := s.conversation(id); !ok {
		return nil, &NotFoundError{Message: "Conversation not found"}
	}
	if err := p.store.UpdateTitle(ctx, id, title); err != nil {
		return nil, &StoreError{Op: "update title", Err: err}
	}
	updated, _ := s.setTitle(id, title)
	p.publish(ctx, s.User().ID, models.EventConversationUpdated, updated)
	return &updated, nil
}

// ensureConversation returns the selected conversation, creating one first
// when nothing is selected.
func (p *MessagePipeline) ensureConversation(ctx context.Context, s *Session) (models.Conversation, error) {
	if id := s.SelectedID(); id != uuid.Nil {
		if c, ok := s.conversation(id); ok {
			return c, nil
		}
	}
	c, err := p.createConversation(ctx, s)
	if err != nil {
		return models.Conversation{}, err
	}
	return *c, nil
}

func (p *MessagePipeline) createConversation(ctx context.Context, s *Session) (*models.Conversation, error) {
	user := s.User()
	c, err := p.store.CreateConversation(ctx, user.ID, models.PlaceholderTitle)
	if err != nil {
		serr := &StoreError{Op: "create conversation", Err: err}
		p.log.Error().Err(serr).Str("user_id", user.ID.String()).Msg("could not create conversation")
		return nil, serr
	}
	s.addConversation(*c)
	s.selectConversation(c.ID, nil)
	p.publish(ctx, user.ID, models.EventConversationCreated, c)
	return c, nil
}
