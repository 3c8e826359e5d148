package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gua-backend/internal/models"
)

// Identity is the external identity service as seen by the session manager.
// It owns credentials; the chat core never validates them itself.
type Identity interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	Login(ctx context.Context, req models.SignInRequest) (*models.User, *models.AuthTokens, error)
	Register(ctx context.Context, req models.SignUpRequest) (*models.User, error)
	Logout(ctx context.Context, userID uuid.UUID, refreshToken string) error
}

type ProfileStore interface {
	UpsertProfile(ctx context.Context, profile *models.UserProfile) error
}

// Session is the application state of one signed-in user: the conversation
// list, the selected conversation and its local timeline. Every accessor
// returns a copy; the mutex is never held across I/O.
type Session struct {
	// loadMu serializes conversation list loads so that concurrent first
	// requests bootstrap at most one conversation. It is held across I/O.
	loadMu sync.Mutex

	mu            sync.Mutex
	user          models.User
	conversations []models.Conversation
	selectedID    uuid.UUID
	timeline      []models.TimelineEntry
	loading       bool
	loaded        bool
	lastStamp     time.Time
	now           func() time.Time
}

func newSession(user models.User, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{user: user, now: now}
}

func (s *Session) User() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) Conversations() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Conversation(nil), s.conversations...)
}

// SelectedID returns uuid.Nil when no conversation is selected.
func (s *Session) SelectedID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

func (s *Session) Timeline() []models.TimelineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TimelineEntry(nil), s.timeline...)
}

// Loading reports whether an outbound turn is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// State returns a consistent snapshot of the whole session.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := models.SessionState{
		User:          s.user,
		Conversations: append([]models.Conversation{}, s.conversations...),
		Timeline:      append([]models.TimelineEntry{}, s.timeline...),
		Loading:       s.loading,
	}
	if s.selectedID != uuid.Nil {
		id := s.selectedID
		state.SelectedID = &id
	}
	return state
}

func (s *Session) beginTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return false
	}
	s.loading = true
	return true
}

func (s *Session) endTurn() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
}

// stamp hands out strictly increasing creation times so that two turns
// never share a created_at and load order always equals creation order.
// Postgres keeps microseconds, so that is the step.
func (s *Session) stamp() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}

// appendTurn creates a timeline entry for conversationID. The entry is
// added to the visible timeline only while that conversation is selected.
// The returned history is the timeline up to and including the new entry.
func (s *Session) appendTurn(conversationID uuid.UUID, sender, content, kind string, isError bool) (models.TimelineEntry, []models.TimelineEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := models.TimelineEntry{
		Message: models.Message{
			ID:             uuid.New(),
			ConversationID: conversationID,
			Content:        content,
			Sender:         sender,
			CreatedAt:      s.stamp(),
		},
		Kind:    kind,
		IsError: isError,
	}
	if s.selectedID != conversationID {
		return entry, nil
	}
	s.timeline = append(s.timeline, entry)
	return entry, append([]models.TimelineEntry(nil), s.timeline...)
}

func (s *Session) markPersisted(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.timeline {
		if s.timeline[i].ID == id {
			s.timeline[i].Persisted = true
			return
		}
	}
}

func (s *Session) conversation(id uuid.UUID) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return models.Conversation{}, false
}

func (s *Session) setConversations(list []models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append([]models.Conversation(nil), list...)
	s.loaded = true
}

// isLoaded reports whether the conversation list was fetched at least once.
func (s *Session) isLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// addConversation puts c at the head of the list, where the most recently
// updated conversation belongs.
func (s *Session) addConversation(c models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append([]models.Conversation{c}, s.conversations...)
}

// touchConversation bumps updated_at and moves the conversation to the head.
func (s *Session) touchConversation(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conversations {
		if c.ID != id {
			continue
		}
		if at.After(c.UpdatedAt) {
			c.UpdatedAt = at
		}
		rest := append(append([]models.Conversation(nil), s.conversations[:i]...), s.conversations[i+1:]...)
		s.conversations = append([]models.Conversation{c}, rest...)
		return
	}
}

func (s *Session) setTitle(id uuid.UUID, title string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			s.conversations[i].Title = title
			return s.conversations[i], true
		}
	}
	return models.Conversation{}, false
}

// selectConversation replaces the timeline with the stored messages of id.
func (s *Session) selectConversation(id uuid.UUID, messages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedID = id
	s.timeline = make([]models.TimelineEntry, 0, len(messages))
	for _, m := range messages {
		s.timeline = append(s.timeline, models.TimelineEntry{
			Message:   m,
			Kind:      models.TurnChat,
			Persisted: true,
		})
		if m.CreatedAt.After(s.lastStamp) {
			s.lastStamp = m.CreatedAt
		}
	}
}

// removeConversation drops id from the list and, if it was selected,
// clears the selection and the timeline. It reports whether it was selected.
func (s *Session) removeConversation(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conversations {
		if c.ID == id {
			s.conversations = append(s.conversations[:i:i], s.conversations[i+1:]...)
			break
		}
	}
	if s.selectedID != id {
		return false
	}
	s.selectedID = uuid.Nil
	s.timeline = nil
	return true
}

func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = nil
	s.selectedID = uuid.Nil
	s.timeline = nil
	s.loaded = false
}

// DefaultSessionIdleTTL is how long an unused Session stays in memory.
const DefaultSessionIdleTTL = 30 * time.Minute

type sessionEntry struct {
	session  *Session
	lastUsed time.Time
}

// SessionManager tracks the signed-in users and their Session state. A
// Session idle for longer than the TTL is dropped; the next request goes
// back to the identity service, so a deactivated account loses access then.
type SessionManager struct {
	identity Identity
	profiles ProfileStore
	log      zerolog.Logger
	now      func() time.Time
	idleTTL  time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionEntry
}

func NewSessionManager(identity Identity, profiles ProfileStore, log zerolog.Logger) *SessionManager {
	return &SessionManager{
		identity: identity,
		profiles: profiles,
		log:      log,
		now:      time.Now,
		idleTTL:  DefaultSessionIdleTTL,
		sessions: make(map[uuid.UUID]*sessionEntry),
	}
}

// WithIdleTTL overrides DefaultSessionIdleTTL. Non-positive values are ignored.
func (m *SessionManager) WithIdleTTL(ttl time.Duration) *SessionManager {
	if ttl > 0 {
		m.idleTTL = ttl
	}
	return m
}

// CheckSession resolves an already-authenticated user id into a Session.
// It returns nil without error when the identity service does not know the
// user or the account is inactive.
func (m *SessionManager) CheckSession(ctx context.Context, userID uuid.UUID) (*Session, error) {
	if s := m.cached(userID); s != nil {
		return s, nil
	}

	user, err := m.identity.GetUser(ctx, userID)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}

	m.upsertProfile(ctx, user)

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request may have raced us here.
	if e, ok := m.sessions[userID]; ok {
		e.lastUsed = m.now()
		return e.session, nil
	}
	s := newSession(*user, m.now)
	m.storeLocked(userID, s)
	return s, nil
}

// SignIn validates credentials with the identity service and starts a
// fresh Session, replacing any previous one for the same user.
func (m *SessionManager) SignIn(ctx context.Context, req models.SignInRequest) (*Session, *models.AuthTokens, error) {
	user, tokens, err := m.identity.Login(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	m.upsertProfile(ctx, user)

	s := newSession(*user, m.now)
	m.mu.Lock()
	m.storeLocked(user.ID, s)
	m.mu.Unlock()

	m.log.Info().Str("user_id", user.ID.String()).Msg("signed in")
	return s, tokens, nil
}

// SignUp registers the account. The user must confirm the email address
// before the first sign-in, so no Session is created here.
func (m *SessionManager) SignUp(ctx context.Context, req models.SignUpRequest) (*models.SignUpResult, error) {
	user, err := m.identity.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	return &models.SignUpResult{
		UserID:              user.ID,
		PendingConfirmation: true,
		Message:             "Check your email for the confirmation link!",
	}, nil
}

// SignOut revokes the refresh token and drops all local state of the user.
// Stored conversations and messages are left alone.
func (m *SessionManager) SignOut(ctx context.Context, userID uuid.UUID, refreshToken string) error {
	m.mu.Lock()
	e, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if ok {
		e.session.clear()
	}

	if refreshToken == "" {
		return nil
	}
	if err := m.identity.Logout(ctx, userID, refreshToken); err != nil {
		m.log.Warn().Err(err).Str("user_id", userID.String()).Msg("refresh token revocation failed")
		return err
	}
	return nil
}

// cached returns the live Session of userID and marks it used. An idle one
// is dropped instead.
func (m *SessionManager) cached(userID uuid.UUID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[userID]
	if !ok {
		return nil
	}
	now := m.now()
	if now.Sub(e.lastUsed) > m.idleTTL {
		delete(m.sessions, userID)
		return nil
	}
	e.lastUsed = now
	return e.session
}

// storeLocked registers s and evicts every idle Session. m.mu must be held.
func (m *SessionManager) storeLocked(userID uuid.UUID, s *Session) {
	now := m.now()
	for id, e := range m.sessions {
		if now.Sub(e.lastUsed) > m.idleTTL {
			delete(m.sessions, id)
		}
	}
	m.sessions[userID] = &sessionEntry{session: s, lastUsed: now}
}

func (m *SessionManager) upsertProfile(ctx context.Context, user *models.User) {
	if m.profiles == nil {
		return
	}
	profile := &models.UserProfile{
		ID:        user.ID,
		Email:     user.Email,
		Name:      profileName(user),
		UpdatedAt: m.now().UTC(),
	}
	if err := m.profiles.UpsertProfile(ctx, profile); err != nil {
		m.log.Error().Err(&StoreError{Op: "upsert profile", Err: err}).
			Str("user_id", user.ID.String()).
			Msg("profile upsert failed")
	}
}

func profileName(user *models.User) string {
	if name := strings.TrimSpace(user.FullName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(user.Email, "@")
	return local
}
