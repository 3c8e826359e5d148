package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gua-backend/internal/models"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory ConversationStore with failure switches.
type memStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*models.Conversation
	messages      map[uuid.UUID][]models.Message

	failList         bool
	failCreate       bool
	failListMessages bool
	failDelete       bool
	failAppend       bool
	failTouch        bool
	titleFailures    int

	titleWrites int
	onAppend    func(msg models.Message)
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[uuid.UUID]*models.Conversation),
		messages:      make(map[uuid.UUID][]models.Message),
	}
}

func (m *memStore) seed(userID uuid.UUID, title string, updatedAt time.Time) models.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.Conversation{ID: uuid.New(), UserID: userID, Title: title, CreatedAt: updatedAt, UpdatedAt: updatedAt}
	m.conversations[c.ID] = c
	return *c
}

func (m *memStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList {
		return nil, errStoreDown
	}
	var out []models.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memStore) CreateConversation(ctx context.Context, userID uuid.UUID, title string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return nil, errStoreDown
	}
	now := time.Now().UTC()
	c := &models.Conversation{ID: uuid.New(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	m.conversations[c.ID] = c
	out := *c
	return &out, nil
}

func (m *memStore) UpdateTitle(ctx context.Context, conversationID uuid.UUID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.titleFailures > 0 {
		m.titleFailures--
		return errStoreDown
	}
	c, ok := m.conversations[conversationID]
	if !ok {
		return errors.New("no such conversation")
	}
	c.Title = title
	m.titleWrites++
	return nil
}

func (m *memStore) DeleteConversation(ctx context.Context, conversationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return errStoreDown
	}
	delete(m.conversations, conversationID)
	delete(m.messages, conversationID)
	return nil
}

func (m *memStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failListMessages {
		return nil, errStoreDown
	}
	out := append([]models.Message(nil), m.messages[conversationID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	hook := m.onAppend
	m.mu.Unlock()
	if hook != nil {
		hook(*msg)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return errStoreDown
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	if m.failTouch {
		return models.ErrConversationNotTouched
	}
	if c, ok := m.conversations[msg.ConversationID]; ok && msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
	}
	return nil
}

func (m *memStore) stored(conversationID uuid.UUID) []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.messages[conversationID]...)
}

func (m *memStore) title(conversationID uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[conversationID]; ok {
		return c.Title
	}
	return ""
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}

type fakeCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
	last  []models.ChatMessage
	// block, when set, holds Complete until it is closed.
	block chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []models.ChatMessage) (*models.ChatMessage, error) {
	f.mu.Lock()
	f.calls++
	f.last = append([]models.ChatMessage(nil), messages...)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.ChatMessage{Role: models.SenderAssistant, Content: f.reply}, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingExtractor struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (e *countingExtractor) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return "", e.err
	}
	return e.text, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.WSMessage
}

func (p *recordingPublisher) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, msg)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeIdentity struct {
	users     map[uuid.UUID]*models.User
	passwords map[string]string
	loginErr  error
	logouts   []string
}

func newFakeIdentity(users ...*models.User) *fakeIdentity {
	f := &fakeIdentity{users: make(map[uuid.UUID]*models.User), passwords: make(map[string]string)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeIdentity) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, &NotFoundError{Message: "User not found"}
	}
	return u, nil
}

func (f *fakeIdentity) Login(ctx context.Context, req models.SignInRequest) (*models.User, *models.AuthTokens, error) {
	if f.loginErr != nil {
		return nil, nil, f.loginErr
	}
	for _, u := range f.users {
		if u.Email == req.Email && f.passwords[u.Email] == req.Password {
			return u, &models.AuthTokens{AccessToken: "access", RefreshToken: "refresh"}, nil
		}
	}
	return nil, nil, &AuthError{Message: "Invalid email or password"}
}

func (f *fakeIdentity) Register(ctx context.Context, req models.SignUpRequest) (*models.User, error) {
	u := &models.User{ID: uuid.New(), Email: req.Email, FullName: req.Name, IsActive: true}
	f.users[u.ID] = u
	f.passwords[u.Email] = req.Password
	return u, nil
}

func (f *fakeIdentity) Logout(ctx context.Context, userID uuid.UUID, refreshToken string) error {
	f.logouts = append(f.logouts, refreshToken)
	return nil
}

type fakeProfiles struct {
	upserts []models.UserProfile
	err     error
}

func (f *fakeProfiles) UpsertProfile(ctx context.Context, profile *models.UserProfile) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, *profile)
	return nil
}

type pipelineFixture struct {
	pipeline  *MessagePipeline
	store     *memStore
	completer *fakeCompleter
	extractor *countingExtractor
	publisher *recordingPublisher
	session   *Session
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		store:     newMemStore(),
		completer: &fakeCompleter{reply: "Hi there!"},
		extractor: &countingExtractor{text: "extracted text"},
		publisher: &recordingPublisher{},
	}
	ingestor := NewDocumentIngestor(f.extractor, 10<<20)
	f.pipeline = NewMessagePipeline(f.store, f.completer, ingestor, f.publisher, zerolog.Nop())
	f.session = newSession(models.User{ID: uuid.New(), Email: "ada@example.com", IsActive: true}, nil)
	return f
}
