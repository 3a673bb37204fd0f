package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one materialized child of a remote collection. ID is the
// store-assigned key; Data is the stored JSON value.
type Record struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Identified is implemented by entities that carry their store key.
type Identified interface {
	SetID(id string)
}

// Decode materializes typed entities from records, preserving order and
// assigning each entity's ID from its record.
func Decode[T any, PT interface {
	*T
	Identified
}](records []Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if len(r.Data) > 0 && string(r.Data) != "null" {
			if err := json.Unmarshal(r.Data, &v); err != nil {
				return nil, fmt.Errorf("decode record %s: %w", r.ID, err)
			}
		}
		PT(&v).SetID(r.ID)
		out = append(out, v)
	}
	return out, nil
}

// Profile is a console user's profile node.
type Profile struct {
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Patient record.
type Patient struct {
	ID            string        `json:"-"`
	Name          string        `json:"name"`
	Email         string        `json:"email,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	CPF           string        `json:"cpf,omitempty"`
	Address       string        `json:"address,omitempty"`
	TreatmentType TreatmentType `json:"treatmentType,omitempty"`
	TreatmentGoal string        `json:"treatmentGoal,omitempty"`
	CreatedAt     time.Time     `json:"createdAt,omitzero"`
}

func (p *Patient) SetID(id string) { p.ID = id }

// StockItem is one inventory line.
type StockItem struct {
	ID       string  `json:"-"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Cost     Money   `json:"cost"`
	Supplier string  `json:"supplier,omitempty"`
}

func (s *StockItem) SetID(id string) { s.ID = id }

// Receivable is money owed by a patient.
type Receivable struct {
	ID            string        `json:"-"`
	PatientID     string        `json:"patientId"`
	PatientName   string        `json:"patientName"`
	Description   string        `json:"description"`
	Amount        Money         `json:"amount"`
	DueDate       string        `json:"dueDate,omitempty"`
	PaymentMethod PaymentMethod `json:"paymentMethod,omitempty"`
	Status        RecordStatus  `json:"status"`
	RegisteredAt  time.Time     `json:"registeredAt"`
	ReceivedDate  *time.Time    `json:"receivedDate,omitempty"`
}

func (r *Receivable) SetID(id string) { r.ID = id }

// Expense is money owed to a supplier.
type Expense struct {
	ID            string        `json:"-"`
	Supplier      string        `json:"supplier"`
	Description   string        `json:"description"`
	Amount        Money         `json:"amount"`
	Ref           string        `json:"ref,omitempty"`
	PaymentMethod PaymentMethod `json:"paymentMethod,omitempty"`
	Status        RecordStatus  `json:"status"`
	RegisteredAt  time.Time     `json:"registeredAt"`
	PaidDate      *time.Time    `json:"paidDate,omitempty"`
}

func (e *Expense) SetID(id string) { e.ID = id }

// Attachment describes an uploaded file referenced by a journal message.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// IsImage reports whether the attachment renders inline.
func (a *Attachment) IsImage() bool {
	return a != nil && a.Type != "" && a.Type != "application/pdf"
}

// JournalMessage is one entry of a patient's journal.
type JournalMessage struct {
	ID        string      `json:"-"`
	Text      string      `json:"text"`
	Author    Author      `json:"author"`
	Media     *Attachment `json:"media,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func (m *JournalMessage) SetID(id string) { m.ID = id }

// ReplyDraft is an assistant reply awaiting dentist approval.
type ReplyDraft struct {
	ID        string    `json:"-"`
	InReplyTo string    `json:"inReplyTo"`
	Question  string    `json:"question"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

func (d *ReplyDraft) SetID(id string) { d.ID = id }

// Material is stock consumed while serving a receivable.
type Material struct {
	ID           string  `json:"-"`
	Name         string  `json:"name"`
	QuantityUsed float64 `json:"quantityUsed"`
	Unit         string  `json:"unit"`
}

func (m *Material) SetID(id string) { m.ID = id }

// PurchasedItem is stock bought through an expense.
type PurchasedItem struct {
	ID                string  `json:"-"`
	Name              string  `json:"name"`
	QuantityPurchased float64 `json:"quantityPurchased"`
	Unit              string  `json:"unit"`
}

func (p *PurchasedItem) SetID(id string) { p.ID = id }

// Directives are the dentist's standing instructions for the assistant.
type Directives struct {
	PromptDirectives string `json:"promptDirectives"`
}
