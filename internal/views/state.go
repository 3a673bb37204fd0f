// Package views tracks what the console shows and draws it as text.
package views

import (
	"fmt"
	"sync"

	"github.com/TheMichaelB/clinicdesk/internal/livesync"
)

// View is a top-level screen.
type View string

const (
	ViewDashboard  View = "dashboard"
	ViewPatients   View = "patients"
	ViewFinancials View = "financials"
	ViewBrain      View = "brain"
	// ViewPortal is the patient's own screen.
	ViewPortal View = "portal"
)

// Tab of the financials screen.
type Tab string

const (
	TabStock       Tab = "stock"
	TabReceivables Tab = "receivables"
	TabExpenses    Tab = "expenses"
)

// Modal is a dialog opened over a financial record.
type Modal string

const (
	ModalNone           Modal = ""
	ModalMaterials      Modal = "materials"
	ModalPurchasedItems Modal = "purchasedItems"
)

// ParseView accepts a view name.
func ParseView(s string) (View, error) {
	switch v := View(s); v {
	case ViewDashboard, ViewPatients, ViewFinancials, ViewBrain, ViewPortal:
		return v, nil
	}
	return "", fmt.Errorf("unknown view %q", s)
}

// ParseTab accepts a financials tab name.
func ParseTab(s string) (Tab, error) {
	switch t := Tab(s); t {
	case TabStock, TabReceivables, TabExpenses:
		return t, nil
	}
	return "", fmt.Errorf("unknown tab %q", s)
}

// Screen is a point-in-time copy of State.
type Screen struct {
	View     View
	Tab      Tab
	Chat     string
	Modal    Modal
	ModalKey string
}

// State is the console's navigation state. It implements
// livesync.ViewState.
type State struct {
	mu     sync.RWMutex
	screen Screen
}

// NewState starts on the dashboard with the stock tab selected.
func NewState() *State {
	return &State{screen: Screen{View: ViewDashboard, Tab: TabStock}}
}

// Show switches the top-level view. Open chats and modals belong to the
// previous view and are closed.
func (s *State) Show(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen.View = v
	s.screen.Chat = ""
	s.screen.Modal = ModalNone
	s.screen.ModalKey = ""
}

// SelectTab switches the financials tab.
func (s *State) SelectTab(t Tab) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen.Tab = t
	s.screen.Modal = ModalNone
	s.screen.ModalKey = ""
}

// OpenChat shows the journal of patientID.
func (s *State) OpenChat(patientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen.Chat = patientID
}

// CloseChat hides the journal.
func (s *State) CloseChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen.Chat = ""
}

// OpenModal shows m for the record key.
func (s *State) OpenModal(m Modal, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen.Modal = m
	s.screen.ModalKey = key
}

// CloseModal hides the open modal.
func (s *State) CloseModal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen.Modal = ModalNone
	s.screen.ModalKey = ""
}

// Screen returns the current state.
func (s *State) Screen() Screen {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.screen
}

// Mounted reports whether the collection or aggregate name is on screen.
func (s *State) Mounted(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc := s.screen
	switch name {
	case livesync.Dashboard:
		return sc.View == ViewDashboard
	case livesync.Patients:
		return sc.View == ViewPatients
	case livesync.Stock:
		return sc.View == ViewFinancials && sc.Tab == TabStock
	case livesync.Receivables:
		return sc.View == ViewPortal || (sc.View == ViewFinancials && sc.Tab == TabReceivables)
	case livesync.Expenses:
		return sc.View == ViewFinancials && sc.Tab == TabExpenses
	case livesync.Chat, livesync.ReplyDrafts:
		return sc.Chat != ""
	case livesync.Materials:
		return sc.Modal == ModalMaterials
	case livesync.PurchasedItems:
		return sc.Modal == ModalPurchasedItems
	}
	return false
}

var _ livesync.ViewState = (*State)(nil)
