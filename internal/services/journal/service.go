// Package journal posts messages to a patient's journal and runs the
// assistant features built on it.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/TheMichaelB/clinicdesk/internal/blob"
	"github.com/TheMichaelB/clinicdesk/internal/config"
	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/store"
)

// AttachmentText is the text of a message that only carries a file.
const AttachmentText = "Anexo"

// Completer runs the multi-model completion fallback.
type Completer interface {
	Complete(ctx context.Context, candidates []models.Candidate, req models.CompletionRequest) (*models.Completion, error)
}

// Options configure the assistant features.
type Options struct {
	Candidates []models.Candidate
	// AutoReply is config.AutoReplyDirect, AutoReplyReview or AutoReplyOff.
	AutoReply string
	// HistoryLimit is how many recent messages a suggestion sees.
	HistoryLimit int
}

// Service writes journal messages.
type Service struct {
	store    store.Store
	uploader blob.Uploader
	ai       Completer
	paths    models.Paths
	opts     Options
	logger   *events.Logger
}

// NewService creates a journal service. uploader and ai may be nil; the
// features that need them then fail with a configuration error.
func NewService(st store.Store, uploader blob.Uploader, ai Completer, paths models.Paths, opts Options, logger *events.Logger) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 5
	}
	if opts.AutoReply == "" {
		opts.AutoReply = config.AutoReplyReview
	}

	return &Service{
		store:    st,
		uploader: uploader,
		ai:       ai,
		paths:    paths,
		opts:     opts,
		logger:   logger.WithField("service", "journal"),
	}
}

// AutoReply returns the active auto-reply policy.
func (s *Service) AutoReply() string {
	return s.opts.AutoReply
}

// Send posts a message. A file waiting in slot is taken before the upload
// starts, so a second Send issued meanwhile cannot attach it again.
func (s *Service) Send(ctx context.Context, patientID string, author models.Author, text string, slot *Slot) (*models.JournalMessage, error) {
	text = strings.TrimSpace(text)

	var pending *Pending
	if slot != nil {
		pending = slot.Take()
	}
	if text == "" && pending == nil {
		return nil, models.ErrEmptyMessage
	}

	msg := &models.JournalMessage{Text: text, Author: author}

	if pending != nil {
		if s.uploader == nil {
			return nil, &models.ConfigurationError{Field: "blob.provider", Reason: "no uploader configured"}
		}
		att, err := s.uploader.Upload(ctx, pending.Name, pending.Body)
		if err != nil {
			s.logger.WithError(err).WithField("file", pending.Name).Warn("Attachment upload failed")
			return nil, fmt.Errorf("upload attachment: %w", err)
		}
		msg.Media = att
		if msg.Text == "" {
			msg.Text = AttachmentText
		}
	}

	msg.Timestamp = time.Now().UTC()
	key, err := s.store.Push(ctx, s.paths.Journal(patientID), msg)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	msg.ID = key

	s.logger.WithFields(map[string]interface{}{
		"patient_id": patientID,
		"author":     author,
		"media":      msg.Media != nil,
	}).Debug("Message sent")
	return msg, nil
}

func (s *Service) complete(ctx context.Context, req models.CompletionRequest) (*models.Completion, error) {
	if s.ai == nil {
		return nil, &models.ConfigurationError{Field: "completion", Reason: "no backend configured"}
	}
	return s.ai.Complete(ctx, s.opts.Candidates, req)
}

// SuggestionRequest builds the clinical-suggestion prompt from a patient's
// recent messages and the dentist's directives.
func SuggestionRequest(patient models.Patient, recent []models.JournalMessage, directives string) models.CompletionRequest {
	var hist strings.Builder
	for _, m := range recent {
		fmt.Fprintf(&hist, "%s: %s\n", m.Author, m.Text)
	}

	var sys strings.Builder
	sys.WriteString("ATUE COMO: Dentista Sênior Especialista.\n")
	fmt.Fprintf(&sys, "PACIENTE: %s.\n", patient.Name)
	if patient.TreatmentType != "" {
		fmt.Fprintf(&sys, "TRATAMENTO: %s.\n", patient.TreatmentType)
	}
	if d := strings.TrimSpace(directives); d != "" {
		fmt.Fprintf(&sys, "DIRETRIZES DO DENTISTA: %s\n", d)
	}
	fmt.Fprintf(&sys, "HISTÓRICO RECENTE:\n%s", hist.String())
	sys.WriteString("TAREFA: Analise o caso e sugira a próxima conduta técnica.")

	return models.CompletionRequest{SystemContext: sys.String(), UserMessage: "Análise Clínica"}
}

// Recent returns the last n messages of a journal, oldest first.
func (s *Service) Recent(ctx context.Context, patientID string, n int) ([]models.JournalMessage, error) {
	snap, err := s.store.Once(ctx, store.Query{Path: s.paths.Journal(patientID), LimitToLast: n})
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return store.DecodeSnapshot[models.JournalMessage](snap)
}

// Suggest asks the assistant for the next clinical step. The result is
// shown to the dentist and never written anywhere.
func (s *Service) Suggest(ctx context.Context, patient models.Patient, directives string) (*models.Completion, error) {
	recent, err := s.Recent(ctx, patient.ID, s.opts.HistoryLimit)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, SuggestionRequest(patient, recent, directives))
}

// SuggestionText is how an accepted suggestion is posted.
func SuggestionText(text string) string {
	return models.SuggestionPrefix + strings.TrimSpace(text)
}

// ReceptionRequest builds the auto-reply prompt for a patient's message.
func ReceptionRequest(patient models.Patient, text string) models.CompletionRequest {
	sys := fmt.Sprintf("ATUE COMO: Recepcionista Virtual da Clínica.\n"+
		"PACIENTE: %s.\n"+
		"INSTRUÇÃO: Responda de forma curta, educada e acolhedora. Não dê diagnósticos médicos.\n"+
		"MENSAGEM DO PACIENTE: %q", patient.Name, text)
	return models.CompletionRequest{SystemContext: sys, UserMessage: text}
}

// PatientResult is the outcome of a patient's message.
type PatientResult struct {
	Message *models.JournalMessage
	// Reply is set when the policy is direct and the reply was posted.
	Reply *models.JournalMessage
	// Draft is set when the policy is review and a draft was stored.
	Draft *models.ReplyDraft
	// ReplyErr is why no reply was produced. The message itself was sent.
	ReplyErr error
}

// PatientSend posts a patient's message and, for text messages, runs the
// auto-reply policy. Completion failures are reported in ReplyErr and
// never posted to the journal.
func (s *Service) PatientSend(ctx context.Context, patient models.Patient, text string, slot *Slot) (*PatientResult, error) {
	msg, err := s.Send(ctx, patient.ID, models.AuthorPatient, text, slot)
	if err != nil {
		return nil, err
	}
	res := &PatientResult{Message: msg}

	text = strings.TrimSpace(text)
	if text == "" || s.opts.AutoReply == config.AutoReplyOff {
		return res, nil
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"patient_id": patient.ID,
		"policy":     s.opts.AutoReply,
	})

	comp, err := s.complete(ctx, ReceptionRequest(patient, text))
	if err != nil {
		logger.WithError(err).Warn("Auto-reply not produced")
		res.ReplyErr = err
		return res, nil
	}

	now := time.Now().UTC()
	switch s.opts.AutoReply {
	case config.AutoReplyDirect:
		reply := &models.JournalMessage{Text: comp.Text, Author: models.AuthorAutoReply, Timestamp: now}
		key, err := s.store.Push(ctx, s.paths.Journal(patient.ID), reply)
		if err != nil {
			res.ReplyErr = fmt.Errorf("post auto-reply: %w", err)
			return res, nil
		}
		reply.ID = key
		res.Reply = reply
	default:
		draft := &models.ReplyDraft{InReplyTo: msg.ID, Question: text, Text: comp.Text, CreatedAt: now}
		key, err := s.store.Push(ctx, s.paths.ReplyDrafts(patient.ID), draft)
		if err != nil {
			res.ReplyErr = fmt.Errorf("store reply draft: %w", err)
			return res, nil
		}
		draft.ID = key
		res.Draft = draft
	}

	logger.WithField("model", string(comp.Candidate)).Info("Auto-reply produced")
	return res, nil
}

func (s *Service) draft(ctx context.Context, patientID, draftID string) (*models.ReplyDraft, error) {
	raw, err := s.store.Get(ctx, models.JoinPath(s.paths.ReplyDrafts(patientID), draftID))
	if err != nil {
		return nil, fmt.Errorf("get reply draft: %w", err)
	}
	if raw == nil {
		return nil, &models.NotFoundError{Kind: "reply draft", Key: draftID}
	}
	var d models.ReplyDraft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode reply draft: %w", err)
	}
	d.ID = draftID
	return &d, nil
}

// ApproveDraft posts a reviewed reply to the journal and deletes the
// draft. A non-empty text replaces the drafted one.
func (s *Service) ApproveDraft(ctx context.Context, patientID, draftID, text string) (*models.JournalMessage, error) {
	d, err := s.draft(ctx, patientID, draftID)
	if err != nil {
		return nil, err
	}
	if text = strings.TrimSpace(text); text == "" {
		text = d.Text
	}

	reply := &models.JournalMessage{Text: text, Author: models.AuthorAutoReply, Timestamp: time.Now().UTC()}
	key, err := s.store.Push(ctx, s.paths.Journal(patientID), reply)
	if err != nil {
		return nil, fmt.Errorf("post reply: %w", err)
	}
	reply.ID = key

	if err := s.DiscardDraft(ctx, patientID, draftID); err != nil {
		return reply, err
	}

	s.logger.WithFields(map[string]interface{}{
		"patient_id": patientID,
		"draft_id":   draftID,
	}).Info("Reply draft approved")
	return reply, nil
}

// DiscardDraft deletes a reply draft.
func (s *Service) DiscardDraft(ctx context.Context, patientID, draftID string) error {
	if err := s.store.Remove(ctx, models.JoinPath(s.paths.ReplyDrafts(patientID), draftID)); err != nil {
		return fmt.Errorf("discard reply draft: %w", err)
	}
	return nil
}
