package models

import (
	"fmt"
	"strings"
)

// PaymentMethod is how a receivable or expense is settled.
type PaymentMethod string

const (
	PaymentPix      PaymentMethod = "pix"
	PaymentCredit   PaymentMethod = "credit"
	PaymentDebit    PaymentMethod = "debit"
	PaymentCash     PaymentMethod = "cash"
	PaymentConvenio PaymentMethod = "convenio"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentBoleto   PaymentMethod = "boleto"
)

var paymentLabels = map[PaymentMethod]string{
	PaymentPix:      "Pix",
	PaymentCredit:   "Crédito",
	PaymentDebit:    "Débito",
	PaymentCash:     "Dinheiro",
	PaymentConvenio: "Convênio",
	PaymentTransfer: "Transf.",
	PaymentBoleto:   "Boleto",
}

// PaymentMethods lists every method in display order.
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{
		PaymentPix, PaymentCredit, PaymentDebit, PaymentCash,
		PaymentConvenio, PaymentTransfer, PaymentBoleto,
	}
}

// Label returns the display text. Unknown methods render as "-".
func (p PaymentMethod) Label() string {
	if l, ok := paymentLabels[p]; ok {
		return l
	}
	return "-"
}

// Valid reports whether p is a known method.
func (p PaymentMethod) Valid() bool {
	_, ok := paymentLabels[p]
	return ok
}

// ParsePaymentMethod accepts the stored code in any case.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	p := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown payment method %q", s)
	}
	return p, nil
}

// RecordStatus is the settlement state of a receivable or expense.
type RecordStatus string

const (
	StatusOpen     RecordStatus = "Aberto"
	StatusReceived RecordStatus = "Recebido"
	StatusPaid     RecordStatus = "Pago"
)

// Settled reports whether the record no longer awaits payment.
func (s RecordStatus) Settled() bool {
	return s == StatusReceived || s == StatusPaid
}

func (s RecordStatus) String() string {
	return string(s)
}

// Author identifies who wrote a journal message.
type Author string

const (
	AuthorDentist   Author = "Dentista"
	AuthorPatient   Author = "Paciente"
	AuthorAutoReply Author = "IA (Auto)"
)

// SuggestionPrefix marks assistant text the dentist posts to the journal.
const SuggestionPrefix = "🤖 "

// TreatmentType classifies a patient's treatment.
type TreatmentType string

const (
	TreatmentGeneral      TreatmentType = "Geral"
	TreatmentOrthodontics TreatmentType = "Ortodontia"
	TreatmentImplant      TreatmentType = "Implante"
	TreatmentAesthetic    TreatmentType = "Estética"
)

// TreatmentTypes lists every treatment type in display order.
func TreatmentTypes() []TreatmentType {
	return []TreatmentType{TreatmentGeneral, TreatmentOrthodontics, TreatmentImplant, TreatmentAesthetic}
}

// ParseTreatmentType matches case-insensitively and defaults to Geral.
func ParseTreatmentType(s string) TreatmentType {
	for _, t := range TreatmentTypes() {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t
		}
	}
	return TreatmentGeneral
}

// Role of a console user.
type Role string

const (
	RoleDentist Role = "dentist"
)
