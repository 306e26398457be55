package adapters

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
)

// MemoryStores backs an in-process implementation of every store, used by
// tests and local development without a database. The store views returned
// alongside it honor the same upsert and not-found semantics as the
// database-backed stores.
type MemoryStores struct {
	mu sync.Mutex

	users           map[string]*f.UserEntity
	emails          map[string]*f.EmailMessage
	classifications map[string]*f.EmailClassification
	tasks           map[string]*f.TaskRecord
	documents       map[string]*f.Document
	sows            map[string]*f.SOWRecord
	projects        map[string]*f.Project
	agentLogs       []f.AgentLog
	syncStates      map[string]*f.SyncState
	syncPrefs       map[string]*f.SyncPreferences
	watches         map[string]*f.WatchSubscription
	deadLetters     []f.DeadLetterRecord
}

func NewMemoryStores() (*MemoryStores, f.Stores) {
	m := &MemoryStores{
		users:           make(map[string]*f.UserEntity),
		emails:          make(map[string]*f.EmailMessage),
		classifications: make(map[string]*f.EmailClassification),
		tasks:           make(map[string]*f.TaskRecord),
		documents:       make(map[string]*f.Document),
		sows:            make(map[string]*f.SOWRecord),
		projects:        make(map[string]*f.Project),
		syncStates:      make(map[string]*f.SyncState),
		syncPrefs:       make(map[string]*f.SyncPreferences),
		watches:         make(map[string]*f.WatchSubscription),
	}
	return m, f.Stores{
		Users:           memUserStore{m},
		Emails:          memEmailStore{m},
		Classifications: memClassificationStore{m},
		Tasks:           memTaskStore{m},
		Documents:       memDocumentStore{m},
		SOWs:            memSOWStore{m},
		Projects:        memProjectStore{m},
		AgentLogs:       memAgentLogStore{m},
		SyncState:       memSyncStateStore{m},
		SyncPrefs:       memSyncPrefsStore{m},
		Watches:         memWatchStore{m},
		DeadLetters:     memDeadLetterStore{m},
	}
}

// AddUser seeds a user row.
func (m *MemoryStores) AddUser(u *f.UserEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// AgentLogEntries returns a copy of the recorded audit rows.
func (m *MemoryStores) AgentLogEntries() []f.AgentLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]f.AgentLog(nil), m.agentLogs...)
}

// ProjectRows returns a copy of the project rows.
func (m *MemoryStores) ProjectRows() []f.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []f.Project
	for _, p := range m.projects {
		out = append(out, *p)
	}
	return out
}

// ------------------------------------------------------------------------------------------------------------------
// USERS
// ------------------------------------------------------------------------------------------------------------------

type memUserStore struct{ m *MemoryStores }

var _ f.UserStore = memUserStore{}

func (s memUserStore) Get(ctx context.Context, userID string) (*f.UserEntity, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[userID]
	if !ok {
		return nil, errors.NotFound("user not found: %s", userID)
	}
	clone := *u
	return &clone, nil
}

func (s memUserStore) FindByEmail(ctx context.Context, email string) (*f.UserEntity, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, u := range s.m.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, errors.NotFound("no user with email %s", email)
}

func (s memUserStore) SaveTokens(ctx context.Context, userID string, accessToken string, refreshToken string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[userID]
	if !ok {
		return errors.NotFound("user not found: %s", userID)
	}
	if accessToken != "" {
		u.AccessToken = accessToken
	}
	if refreshToken != "" {
		u.RefreshToken = refreshToken
	}
	return nil
}

// ------------------------------------------------------------------------------------------------------------------
// EMAILS
// ------------------------------------------------------------------------------------------------------------------

type memEmailStore struct{ m *MemoryStores }

var _ f.EmailStore = memEmailStore{}

func (s memEmailStore) Upsert(ctx context.Context, msg *f.EmailMessage) (string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for id, existing := range s.m.emails {
		if existing.UserID == msg.UserID && existing.ProviderID == msg.ProviderID {
			clone := *msg
			clone.ID = id
			s.m.emails[id] = &clone
			return id, nil
		}
	}
	clone := *msg
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	s.m.emails[clone.ID] = &clone
	return clone.ID, nil
}

func (s memEmailStore) Get(ctx context.Context, id string) (*f.EmailMessage, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	e, ok := s.m.emails[id]
	if !ok {
		return nil, errors.NotFound("email not found: %s", id)
	}
	clone := *e
	return &clone, nil
}

func (s memEmailStore) DeleteByProviderID(ctx context.Context, userID string, providerID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for id, e := range s.m.emails {
		if e.UserID == userID && e.ProviderID == providerID {
			delete(s.m.emails, id)
		}
	}
	return nil
}

func (s memEmailStore) SetSummary(ctx context.Context, emailID string, summary string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	e, ok := s.m.emails[emailID]
	if !ok {
		return errors.NotFound("email not found: %s", emailID)
	}
	e.Summary = summary
	return nil
}

func (s memEmailStore) CountByUser(ctx context.Context, userID string) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	count := 0
	for _, e := range s.m.emails {
		if e.UserID == userID {
			count++
		}
	}
	return count, nil
}

// ------------------------------------------------------------------------------------------------------------------
// CLASSIFICATIONS
// ------------------------------------------------------------------------------------------------------------------

type memClassificationStore struct{ m *MemoryStores }

var _ f.ClassificationStore = memClassificationStore{}

func (s memClassificationStore) Upsert(ctx context.Context, c *f.EmailClassification) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	clone := *c
	s.m.classifications[c.EmailID] = &clone
	return nil
}

func (s memClassificationStore) Get(ctx context.Context, emailID string) (*f.EmailClassification, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.classifications[emailID]
	if !ok {
		return nil, errors.NotFound("no classification for email %s", emailID)
	}
	clone := *c
	return &clone, nil
}

func (s memClassificationStore) SetFeedback(ctx context.Context, emailID string, category string, feedback string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.classifications[emailID]
	if !ok {
		return errors.NotFound("no classification for email %s", emailID)
	}
	c.Category = category
	c.UserFeedback = feedback
	return nil
}

// ------------------------------------------------------------------------------------------------------------------
// TASKS
// ------------------------------------------------------------------------------------------------------------------

type memTaskStore struct{ m *MemoryStores }

var _ f.TaskStore = memTaskStore{}

func (s memTaskStore) Insert(ctx context.Context, tasks ...*f.TaskRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	now := time.Now()
	for _, t := range tasks {
		clone := *t
		if clone.ID == "" {
			clone.ID = uuid.NewString()
		}
		clone.CreatedAt = &now
		s.m.tasks[clone.ID] = &clone
	}
	return nil
}

func (s memTaskStore) DeleteBySource(ctx context.Context, emailID string, agent string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for id, t := range s.m.tasks {
		if t.EmailID == emailID && t.SourceAgent == agent {
			delete(s.m.tasks, id)
		}
	}
	return nil
}

func (s memTaskStore) ListByEmail(ctx context.Context, emailID string) ([]f.TaskRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []f.TaskRecord
	for _, t := range s.m.tasks {
		if t.EmailID == emailID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// ------------------------------------------------------------------------------------------------------------------
// DOCUMENTS
// ------------------------------------------------------------------------------------------------------------------

type memDocumentStore struct{ m *MemoryStores }

var _ f.DocumentStore = memDocumentStore{}

func (s memDocumentStore) Insert(ctx context.Context, d *f.Document) (string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	clone := *d
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	s.m.documents[clone.ID] = &clone
	return clone.ID, nil
}

func (s memDocumentStore) Get(ctx context.Context, id string) (*f.Document, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	d, ok := s.m.documents[id]
	if !ok {
		return nil, errors.NotFound("document not found: %s", id)
	}
	clone := *d
	return &clone, nil
}

func (s memDocumentStore) ListByEmail(ctx context.Context, emailID string) ([]f.Document, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []f.Document
	for _, d := range s.m.documents {
		if d.EmailID == emailID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (s memDocumentStore) SetOCRText(ctx context.Context, id string, text string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	d, ok := s.m.documents[id]
	if !ok {
		return errors.NotFound("document not found: %s", id)
	}
	now := time.Now()
	d.OCRText = text
	d.OCRCompletedAt = &now
	return nil
}

// ------------------------------------------------------------------------------------------------------------------
// SOW / PROJECTS / AGENT LOGS
// ------------------------------------------------------------------------------------------------------------------

type memSOWStore struct{ m *MemoryStores }

var _ f.SOWStore = memSOWStore{}

func (s memSOWStore) Insert(ctx context.Context, rec *f.SOWRecord) (string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	clone := *rec
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := time.Now()
	clone.CreatedAt = &now
	s.m.sows[clone.ID] = &clone
	return clone.ID, nil
}

func (s memSOWStore) GetByEmail(ctx context.Context, emailID string) (*f.SOWRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, rec := range s.m.sows {
		if rec.EmailID == emailID {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, errors.NotFound("no sow for email %s", emailID)
}

type memProjectStore struct{ m *MemoryStores }

var _ f.ProjectStore = memProjectStore{}

func (s memProjectStore) Insert(ctx context.Context, p *f.Project) (string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	clone := *p
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := time.Now()
	clone.CreatedAt = &now
	s.m.projects[clone.ID] = &clone
	return clone.ID, nil
}

type memAgentLogStore struct{ m *MemoryStores }

var _ f.AgentLogStore = memAgentLogStore{}

func (s memAgentLogStore) Insert(ctx context.Context, l *f.AgentLog) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	clone := *l
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := time.Now()
	clone.CreatedAt = &now
	s.m.agentLogs = append(s.m.agentLogs, clone)
	return nil
}

// ------------------------------------------------------------------------------------------------------------------
// SYNC STATE / PREFERENCES
// ------------------------------------------------------------------------------------------------------------------

type memSyncStateStore struct{ m *MemoryStores }

var _ f.SyncStateStore = memSyncStateStore{}

func (s memSyncStateStore) Get(ctx context.Context, userID string) (*f.SyncState, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	st, ok := s.m.syncStates[userID]
	if !ok {
		return &f.SyncState{UserID: userID, Status: f.SyncStatusActive}, nil
	}
	clone := *st
	return &clone, nil
}

func (s memSyncStateStore) Save(ctx context.Context, st *f.SyncState) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	clone := *st
	s.m.syncStates[st.UserID] = &clone
	return nil
}

func (s memSyncStateStore) SetError(ctx context.Context, userID string, message string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	st, ok := s.m.syncStates[userID]
	if !ok {
		st = &f.SyncState{UserID: userID}
		s.m.syncStates[userID] = st
	}
	st.Status = f.SyncStatusError
	st.ErrorMessage = message
	return nil
}

type memSyncPrefsStore struct{ m *MemoryStores }

var _ f.SyncPrefsStore = memSyncPrefsStore{}

func (s memSyncPrefsStore) Get(ctx context.Context, userID string) (*f.SyncPreferences, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	p, ok := s.m.syncPrefs[userID]
	if !ok {
		return nil, errors.NotFound("no sync preferences for user %s", userID)
	}
	clone := *p
	return &clone, nil
}

func (s memSyncPrefsStore) Upsert(ctx context.Context, p *f.SyncPreferences) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	clone := *p
	s.m.syncPrefs[p.UserID] = &clone
	return nil
}

func (s memSyncPrefsStore) ListAutoSync(ctx context.Context) ([]f.SyncPreferences, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []f.SyncPreferences
	for _, p := range s.m.syncPrefs {
		if p.AutoSyncEnabled {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s memSyncPrefsStore) SetWebhookEnabled(ctx context.Context, userID string, enabled bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if p, ok := s.m.syncPrefs[userID]; ok {
		p.WebhookEnabled = enabled
	}
	return nil
}

// ------------------------------------------------------------------------------------------------------------------
// WATCHES / DEAD LETTERS
// ------------------------------------------------------------------------------------------------------------------

type memWatchStore struct{ m *MemoryStores }

var _ f.WatchStore = memWatchStore{}

func (s memWatchStore) Get(ctx context.Context, userID string) (*f.WatchSubscription, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	w, ok := s.m.watches[userID]
	if !ok {
		return nil, errors.NotFound("no watch subscription for user %s", userID)
	}
	clone := *w
	return &clone, nil
}

func (s memWatchStore) Upsert(ctx context.Context, w *f.WatchSubscription) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	clone := *w
	s.m.watches[w.UserID] = &clone
	return nil
}

func (s memWatchStore) ListExpiring(ctx context.Context, before time.Time) ([]f.WatchSubscription, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []f.WatchSubscription
	for _, w := range s.m.watches {
		if w.IsActive && w.ExpiresAt != nil && w.ExpiresAt.Before(before) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s memWatchStore) RecordRenewalFailure(ctx context.Context, userID string, message string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	w, ok := s.m.watches[userID]
	if !ok {
		return errors.NotFound("no watch subscription for user %s", userID)
	}
	w.RenewalAttemptCount++
	w.LastError = message
	return nil
}

func (s memWatchStore) Deactivate(ctx context.Context, userID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if w, ok := s.m.watches[userID]; ok {
		w.IsActive = false
	}
	return nil
}

type memDeadLetterStore struct{ m *MemoryStores }

var _ f.DeadLetterStore = memDeadLetterStore{}

func (s memDeadLetterStore) Insert(ctx context.Context, r *f.DeadLetterRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	clone := *r
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := time.Now()
	clone.CreatedAt = &now
	s.m.deadLetters = append(s.m.deadLetters, clone)
	return nil
}

func (s memDeadLetterStore) List(ctx context.Context, limit int) ([]f.DeadLetterRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := append([]f.DeadLetterRecord(nil), s.m.deadLetters...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
