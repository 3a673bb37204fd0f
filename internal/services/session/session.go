// Package session holds the state of one signed-in console user.
//
// A Session is created after the dentist's profile is verified and owns
// everything that must be released on sign-out: the sync engine with its
// subscriptions, the navigation state and the pending attachment.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/clinicdesk/internal/blob"
	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/livesync"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/services/journal"
	"github.com/TheMichaelB/clinicdesk/internal/services/records"
	"github.com/TheMichaelB/clinicdesk/internal/store"
	"github.com/TheMichaelB/clinicdesk/internal/views"
)

// ErrNoChat is returned by chat actions when no journal is open.
var ErrNoChat = errors.New("no chat open")

// Identity is the authenticated user.
type Identity struct {
	UID   string
	Email string
}

// Options configure a session.
type Options struct {
	Paths models.Paths
	// AdminEmail may sign in without a profile; one is created for it.
	AdminEmail string
	// ChatLimit is how many journal messages an open chat holds.
	ChatLimit   int
	EventBuffer int
	Renderer    livesync.Renderer
	Journal     journal.Options
	Uploader    blob.Uploader
	Completer   journal.Completer
}

func (o *Options) defaults() {
	if o.ChatLimit <= 0 {
		o.ChatLimit = 50
	}
}

// Session is a dentist's console session.
type Session struct {
	id     Identity
	opts   Options
	store  store.Store
	logger *events.Logger

	engine  *livesync.Engine
	state   *views.State
	records *records.Service
	journal *journal.Service
	slot    journal.Slot

	chat      *livesync.Scope
	drafts    *livesync.Scope
	materials *livesync.Scope
	purchased *livesync.Scope

	mu     sync.Mutex
	closed bool
}

var baseCollections = []string{livesync.Patients, livesync.Stock, livesync.Receivables, livesync.Expenses}

// Open verifies id's profile and attaches the base subscriptions. A
// PermissionError means the caller must sign the user out.
func Open(ctx context.Context, st store.Store, id Identity, opts Options, logger *events.Logger) (*Session, error) {
	opts.defaults()
	logger = logger.WithFields(map[string]interface{}{"service": "session", "uid": id.UID})

	if id.UID == "" {
		return nil, &models.PermissionError{Reason: "not signed in"}
	}
	if err := verifyProfile(ctx, st, id, opts, logger); err != nil {
		return nil, err
	}

	state := views.NewState()
	engine := livesync.NewEngine(st, livesync.Options{
		View:        state,
		Renderer:    opts.Renderer,
		Aggregates:  []livesync.Aggregate{livesync.DashboardAggregate()},
		EventBuffer: opts.EventBuffer,
	}, logger)

	s := &Session{
		id:        id,
		opts:      opts,
		store:     st,
		logger:    logger,
		engine:    engine,
		state:     state,
		records:   records.NewService(st, opts.Paths, id.UID, logger),
		journal:   journal.NewService(st, opts.Uploader, opts.Completer, opts.Paths, opts.Journal, logger),
		chat:      livesync.NewScope(engine, livesync.Chat),
		drafts:    livesync.NewScope(engine, livesync.ReplyDrafts),
		materials: livesync.NewScope(engine, livesync.Materials),
		purchased: livesync.NewScope(engine, livesync.PurchasedItems),
	}

	p := opts.Paths
	base := map[string]string{
		livesync.Patients:    p.Patients(id.UID),
		livesync.Stock:       p.Stock(id.UID),
		livesync.Receivables: p.Receivables(id.UID),
		livesync.Expenses:    p.Expenses(id.UID),
	}
	for _, name := range baseCollections {
		if _, err := engine.Subscribe(ctx, name, store.Query{Path: base[name]}); err != nil {
			engine.Close()
			return nil, err
		}
	}

	logger.WithField("email", id.Email).Info("Session opened")
	return s, nil
}

func verifyProfile(ctx context.Context, st store.Store, id Identity, opts Options, logger *events.Logger) error {
	path := opts.Paths.Profile(id.UID)
	raw, err := st.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}

	if raw == nil {
		if opts.AdminEmail == "" || !strings.EqualFold(strings.TrimSpace(id.Email), opts.AdminEmail) {
			return &models.PermissionError{UID: id.UID, Reason: "no dentist profile"}
		}
		profile := models.Profile{Email: id.Email, Role: models.RoleDentist, RegisteredAt: time.Now().UTC()}
		if err := st.Set(ctx, path, profile); err != nil {
			return fmt.Errorf("create admin profile: %w", err)
		}
		logger.Info("Admin profile created")
		return nil
	}

	var profile models.Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return fmt.Errorf("decode profile: %w", err)
	}
	if profile.Role != models.RoleDentist {
		return &models.PermissionError{UID: id.UID, Reason: fmt.Sprintf("role %q is not allowed", profile.Role)}
	}
	return nil
}

// Identity returns the signed-in user.
func (s *Session) Identity() Identity { return s.id }

// Engine returns the session's sync engine.
func (s *Session) Engine() *livesync.Engine { return s.engine }

// State returns the navigation state.
func (s *Session) State() *views.State { return s.state }

// Records returns the records service of the signed-in dentist.
func (s *Session) Records() *records.Service { return s.records }

// Journal returns the journal service.
func (s *Session) Journal() *journal.Service { return s.journal }

// Statuses returns every subscribed collection's delivery state.
func (s *Session) Statuses() []models.CollectionStatus { return s.engine.Statuses() }

// Events returns the engine's events.
func (s *Session) Events() <-chan livesync.Event { return s.engine.Events() }

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrClosed
	}
	return nil
}

// refresh draws every mounted base collection and the dashboard from the
// lists the engine already holds.
func (s *Session) refresh() {
	s.engine.Redraw(livesync.Patients, livesync.Stock, livesync.Receivables, livesync.Expenses, livesync.Dashboard)
}

// Show switches the top-level view. The open chat and modal are closed.
func (s *Session) Show(v views.View) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.closeChat(); err != nil {
		return err
	}
	if err := s.closeModal(); err != nil {
		return err
	}
	s.state.Show(v)
	s.refresh()
	return nil
}

// SelectTab switches the financials tab. The open modal is closed.
func (s *Session) SelectTab(t views.Tab) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.closeModal(); err != nil {
		return err
	}
	s.state.SelectTab(t)
	s.refresh()
	return nil
}

// OpenChat shows patientID's journal and reply drafts. The previously open
// chat is detached before the new one is attached, and its pending
// attachment is dropped.
func (s *Session) OpenChat(ctx context.Context, patientID string) (livesync.Token, error) {
	if err := s.check(); err != nil {
		return livesync.Token{}, err
	}
	if err := s.closeChat(); err != nil {
		return livesync.Token{}, err
	}

	s.state.OpenChat(patientID)
	token, err := s.chat.Open(ctx, patientID, store.Query{
		Path:        s.opts.Paths.Journal(patientID),
		LimitToLast: s.opts.ChatLimit,
	})
	if err != nil {
		s.state.CloseChat()
		return livesync.Token{}, err
	}
	if _, err := s.drafts.Open(ctx, patientID, store.Query{Path: s.opts.Paths.ReplyDrafts(patientID)}); err != nil {
		s.closeChat()
		return livesync.Token{}, err
	}

	s.logger.WithField("patient_id", patientID).Debug("Chat opened")
	return token, nil
}

// CloseChat hides the journal and detaches it.
func (s *Session) CloseChat() error {
	if err := s.check(); err != nil {
		return err
	}
	return s.closeChat()
}

func (s *Session) closeChat() error {
	s.slot.Clear()
	s.state.CloseChat()
	err := s.chat.Close()
	if derr := s.drafts.Close(); err == nil {
		err = derr
	}
	return err
}

// OpenMaterials shows the materials used for a receivable.
func (s *Session) OpenMaterials(ctx context.Context, receivableID string) error {
	return s.openModal(ctx, views.ModalMaterials, s.materials, receivableID,
		s.opts.Paths.Materials(s.id.UID, receivableID))
}

// OpenPurchasedItems shows the items bought with an expense.
func (s *Session) OpenPurchasedItems(ctx context.Context, expenseID string) error {
	return s.openModal(ctx, views.ModalPurchasedItems, s.purchased, expenseID,
		s.opts.Paths.PurchasedItems(s.id.UID, expenseID))
}

func (s *Session) openModal(ctx context.Context, m views.Modal, scope *livesync.Scope, key, path string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.closeModal(); err != nil {
		return err
	}
	s.state.OpenModal(m, key)
	if _, err := scope.Open(ctx, key, store.Query{Path: path}); err != nil {
		s.state.CloseModal()
		return err
	}
	return nil
}

// CloseModal hides the open modal and detaches its list.
func (s *Session) CloseModal() error {
	if err := s.check(); err != nil {
		return err
	}
	return s.closeModal()
}

func (s *Session) closeModal() error {
	s.state.CloseModal()
	err := s.materials.Close()
	if perr := s.purchased.Close(); err == nil {
		err = perr
	}
	return err
}

// Attach sets the file sent with the next message.
func (s *Session) Attach(name string, body io.Reader) error {
	if _, ok := s.chat.Current(); !ok {
		return ErrNoChat
	}
	s.slot.Attach(name, body)
	return nil
}

// Pending returns the name of the file waiting to be sent.
func (s *Session) Pending() (string, bool) {
	return s.slot.Name()
}

// Send posts a dentist message to the open chat.
func (s *Session) Send(ctx context.Context, text string) (*models.JournalMessage, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	token, ok := s.chat.Current()
	if !ok {
		return nil, ErrNoChat
	}
	return s.journal.Send(ctx, token.Key(), models.AuthorDentist, text, &s.slot)
}

// Suggestion is assistant text bound to the chat it was asked for.
type Suggestion struct {
	*models.Completion
	Chat livesync.Token
}

// Suggest asks the assistant about the open chat's patient. ErrStale is
// returned when another chat was opened while the request was running.
func (s *Session) Suggest(ctx context.Context) (*Suggestion, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	token, ok := s.chat.Current()
	if !ok {
		return nil, ErrNoChat
	}

	patient, err := s.records.Patient(ctx, token.Key())
	if err != nil {
		return nil, err
	}
	directives, err := s.records.Directives(ctx)
	if err != nil {
		return nil, err
	}

	comp, err := s.journal.Suggest(ctx, *patient, directives)
	if !s.chat.IsCurrent(token) {
		s.logger.WithField("patient_id", token.Key()).Debug("Discarding suggestion for closed chat")
		return nil, models.ErrStale
	}
	if err != nil {
		return nil, err
	}
	return &Suggestion{Completion: comp, Chat: token}, nil
}

// PostSuggestion sends accepted assistant text to the chat chat was taken
// from. ErrStale is returned once that chat has been closed or replaced.
func (s *Session) PostSuggestion(ctx context.Context, chat livesync.Token, text string) (*models.JournalMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.ErrEmptyMessage
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	if !s.chat.IsCurrent(chat) {
		return nil, models.ErrStale
	}
	return s.journal.Send(ctx, chat.Key(), models.AuthorDentist, journal.SuggestionText(text), nil)
}

// ApproveDraft posts a reply draft of the open chat.
func (s *Session) ApproveDraft(ctx context.Context, draftID, text string) (*models.JournalMessage, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	token, ok := s.chat.Current()
	if !ok {
		return nil, ErrNoChat
	}
	return s.journal.ApproveDraft(ctx, token.Key(), draftID, text)
}

// DiscardDraft deletes a reply draft of the open chat.
func (s *Session) DiscardDraft(ctx context.Context, draftID string) error {
	if err := s.check(); err != nil {
		return err
	}
	token, ok := s.chat.Current()
	if !ok {
		return ErrNoChat
	}
	return s.journal.DiscardDraft(ctx, token.Key(), draftID)
}

// Close detaches every subscription. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.slot.Clear()
	s.chat.Close()
	s.drafts.Close()
	s.materials.Close()
	s.purchased.Close()
	err := s.engine.Close()

	s.logger.Info("Session closed")
	return err
}
