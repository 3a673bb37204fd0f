package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/livesync"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/services/journal"
	"github.com/TheMichaelB/clinicdesk/internal/store"
	"github.com/TheMichaelB/clinicdesk/internal/views"
)

// Portal is a patient's session: their journal and what they owe.
type Portal struct {
	patient    models.Patient
	dentistUID string
	logger     *events.Logger

	engine  *livesync.Engine
	state   *views.State
	journal *journal.Service
	slot    journal.Slot

	mu     sync.Mutex
	closed bool
}

type userNode struct {
	Patients map[string]json.RawMessage `json:"patients"`
}

// FindPatient looks up a patient by email across every dentist. Dentists
// and patients are searched in key order; the first match wins.
func FindPatient(ctx context.Context, st store.Store, paths models.Paths, email string) (*models.Patient, string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, "", &models.ValidationError{Field: "email", Reason: "required"}
	}

	snap, err := st.Once(ctx, store.Query{Path: paths.Users()})
	if err != nil {
		return nil, "", fmt.Errorf("list dentists: %w", err)
	}

	for _, user := range snap.Children {
		var node userNode
		if err := json.Unmarshal(user.Data, &node); err != nil {
			continue
		}
		ids := make([]string, 0, len(node.Patients))
		for id := range node.Patients {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			var p models.Patient
			if err := json.Unmarshal(node.Patients[id], &p); err != nil {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(p.Email), email) {
				p.ID = id
				return &p, user.ID, nil
			}
		}
	}

	return nil, "", &models.NotFoundError{Kind: "patient", Key: email}
}

// OpenPortal signs a patient in by email and attaches their journal and
// receivables. A NotFoundError means the caller must sign out.
func OpenPortal(ctx context.Context, st store.Store, email string, opts Options, logger *events.Logger) (*Portal, error) {
	opts.defaults()

	patient, uid, err := FindPatient(ctx, st, opts.Paths, email)
	if err != nil {
		return nil, err
	}

	logger = logger.WithFields(map[string]interface{}{
		"service":    "portal",
		"patient_id": patient.ID,
	})

	state := views.NewState()
	state.Show(views.ViewPortal)
	state.OpenChat(patient.ID)

	engine := livesync.NewEngine(st, livesync.Options{
		View:        state,
		Renderer:    opts.Renderer,
		EventBuffer: opts.EventBuffer,
	}, logger)

	subs := []struct {
		name string
		q    store.Query
	}{
		{livesync.Chat, store.Query{Path: opts.Paths.Journal(patient.ID), LimitToLast: opts.ChatLimit}},
		{livesync.Receivables, store.Query{Path: opts.Paths.Receivables(uid), OrderBy: "patientId", EqualTo: patient.ID}},
	}
	for _, sub := range subs {
		if _, err := engine.Subscribe(ctx, sub.name, sub.q); err != nil {
			engine.Close()
			return nil, err
		}
	}

	logger.Info("Portal opened")
	return &Portal{
		patient:    *patient,
		dentistUID: uid,
		logger:     logger,
		engine:     engine,
		state:      state,
		journal:    journal.NewService(st, opts.Uploader, opts.Completer, opts.Paths, opts.Journal, logger),
	}, nil
}

// Patient returns the signed-in patient.
func (p *Portal) Patient() models.Patient { return p.patient }

// DentistUID returns the dentist whose tree holds the patient.
func (p *Portal) DentistUID() string { return p.dentistUID }

// Engine returns the portal's sync engine.
func (p *Portal) Engine() *livesync.Engine { return p.engine }

// Attach sets the file sent with the next message.
func (p *Portal) Attach(name string, body io.Reader) {
	p.slot.Attach(name, body)
}

// Send posts the patient's message and runs the auto-reply policy.
func (p *Portal) Send(ctx context.Context, text string) (*journal.PatientResult, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, models.ErrClosed
	}
	return p.journal.PatientSend(ctx, p.patient, text, &p.slot)
}

// Close detaches the portal's subscriptions. It is safe to call more than
// once.
func (p *Portal) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.slot.Clear()
	err := p.engine.Close()
	p.logger.Info("Portal closed")
	return err
}
