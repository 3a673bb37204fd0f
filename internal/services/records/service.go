// Package records writes the dentist's patients, stock and finances.
//
// Writes go straight to the store; callers see the result through their
// live subscriptions, never through the return values here.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/store"
)

// Service manages one dentist's records.
type Service struct {
	store  store.Store
	paths  models.Paths
	uid    string
	logger *events.Logger
}

// NewService creates a records service for the dentist uid.
func NewService(st store.Store, paths models.Paths, uid string, logger *events.Logger) *Service {
	return &Service{
		store:  st,
		paths:  paths,
		uid:    uid,
		logger: logger.WithFields(map[string]interface{}{"service": "records", "uid": uid}),
	}
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &models.ValidationError{Field: field, Reason: "required"}
	}
	return nil
}

func positive(field string, v float64) error {
	if v <= 0 {
		return &models.ValidationError{Field: field, Reason: "must be positive"}
	}
	return nil
}

// load reads path into v. found is false when nothing is stored there.
func (s *Service) load(ctx context.Context, path string, v interface{}) (bool, error) {
	raw, err := s.store.Get(ctx, path)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// Patient reads one patient.
func (s *Service) Patient(ctx context.Context, id string) (*models.Patient, error) {
	var p models.Patient
	found, err := s.load(ctx, s.paths.Patient(s.uid, id), &p)
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	if !found {
		return nil, &models.NotFoundError{Kind: "patient", Key: id}
	}
	p.ID = id
	return &p, nil
}

// CreatePatient stores a new patient and returns its key.
func (s *Service) CreatePatient(ctx context.Context, p models.Patient) (string, error) {
	if err := required("name", p.Name); err != nil {
		return "", err
	}
	if p.TreatmentType == "" {
		p.TreatmentType = models.TreatmentGeneral
	}
	p.CreatedAt = time.Now().UTC()

	key, err := s.store.Push(ctx, s.paths.Patients(s.uid), p)
	if err != nil {
		return "", fmt.Errorf("create patient: %w", err)
	}

	s.logger.WithField("patient_id", key).Info("Patient created")
	return key, nil
}

// UpdatePatient replaces the editable fields of an existing patient.
func (s *Service) UpdatePatient(ctx context.Context, id string, p models.Patient) error {
	if err := required("name", p.Name); err != nil {
		return err
	}
	if _, err := s.Patient(ctx, id); err != nil {
		return err
	}
	if p.TreatmentType == "" {
		p.TreatmentType = models.TreatmentGeneral
	}

	err := s.store.Update(ctx, s.paths.Patient(s.uid, id), map[string]interface{}{
		"name":          p.Name,
		"email":         p.Email,
		"phone":         p.Phone,
		"cpf":           p.CPF,
		"address":       p.Address,
		"treatmentType": p.TreatmentType,
		"treatmentGoal": p.TreatmentGoal,
	})
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

// DeletePatient removes a patient. Its journal is kept.
func (s *Service) DeletePatient(ctx context.Context, id string) error {
	if err := s.store.Remove(ctx, s.paths.Patient(s.uid, id)); err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	s.logger.WithField("patient_id", id).Info("Patient deleted")
	return nil
}

// AddStock stores a manually entered stock item.
func (s *Service) AddStock(ctx context.Context, item models.StockItem) (string, error) {
	if err := required("name", item.Name); err != nil {
		return "", err
	}
	if item.Quantity < 0 {
		return "", &models.ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if item.Supplier == "" {
		item.Supplier = "Manual"
	}

	key, err := s.store.Push(ctx, s.paths.Stock(s.uid), item)
	if err != nil {
		return "", fmt.Errorf("add stock: %w", err)
	}
	return key, nil
}

// DeleteStock removes a stock item.
func (s *Service) DeleteStock(ctx context.Context, id string) error {
	if err := s.store.Remove(ctx, s.paths.Admin(s.uid, "stock", id)); err != nil {
		return fmt.Errorf("delete stock: %w", err)
	}
	return nil
}

// ReceivableInput is a new service charge.
type ReceivableInput struct {
	PatientID     string
	Description   string
	Amount        models.Money
	DueDate       string
	PaymentMethod models.PaymentMethod
}

// CreateReceivable stores an open receivable for an existing patient.
func (s *Service) CreateReceivable(ctx context.Context, in ReceivableInput) (string, error) {
	if err := required("description", in.Description); err != nil {
		return "", err
	}
	if !in.Amount.IsPositive() {
		return "", &models.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = models.PaymentPix
	}
	if !in.PaymentMethod.Valid() {
		return "", &models.ValidationError{Field: "paymentMethod", Reason: fmt.Sprintf("unknown method %q", in.PaymentMethod)}
	}

	patient, err := s.Patient(ctx, in.PatientID)
	if err != nil {
		return "", err
	}

	r := models.Receivable{
		PatientID:     patient.ID,
		PatientName:   patient.Name,
		Description:   in.Description,
		Amount:        in.Amount,
		DueDate:       in.DueDate,
		PaymentMethod: in.PaymentMethod,
		Status:        models.StatusOpen,
		RegisteredAt:  time.Now().UTC(),
	}
	key, err := s.store.Push(ctx, s.paths.Receivables(s.uid), r)
	if err != nil {
		return "", fmt.Errorf("create receivable: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"receivable_id": key,
		"patient_id":    patient.ID,
	}).Info("Receivable created")
	return key, nil
}

// ExpenseInput is a new supplier bill.
type ExpenseInput struct {
	Supplier      string
	Description   string
	Ref           string
	Amount        models.Money
	PaymentMethod models.PaymentMethod
}

// CreateExpense stores an open expense.
func (s *Service) CreateExpense(ctx context.Context, in ExpenseInput) (string, error) {
	if err := required("supplier", in.Supplier); err != nil {
		return "", err
	}
	if err := required("description", in.Description); err != nil {
		return "", err
	}
	if !in.Amount.IsPositive() {
		return "", &models.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = models.PaymentPix
	}
	if !in.PaymentMethod.Valid() {
		return "", &models.ValidationError{Field: "paymentMethod", Reason: fmt.Sprintf("unknown method %q", in.PaymentMethod)}
	}

	e := models.Expense{
		Supplier:      in.Supplier,
		Description:   in.Description,
		Ref:           in.Ref,
		Amount:        in.Amount,
		PaymentMethod: in.PaymentMethod,
		Status:        models.StatusOpen,
		RegisteredAt:  time.Now().UTC(),
	}
	key, err := s.store.Push(ctx, s.paths.Expenses(s.uid), e)
	if err != nil {
		return "", fmt.Errorf("create expense: %w", err)
	}
	return key, nil
}

func (s *Service) settle(ctx context.Context, kind, path string, status models.RecordStatus, dateField string) error {
	raw, err := s.store.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("settle %s: %w", kind, err)
	}
	if raw == nil {
		return &models.NotFoundError{Kind: kind, Key: path}
	}

	err = s.store.Update(ctx, path, map[string]interface{}{
		"status":  status,
		dateField: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("settle %s: %w", kind, err)
	}

	s.logger.WithFields(map[string]interface{}{"kind": kind, "path": path}).Info("Record settled")
	return nil
}

// SettleReceivable marks a receivable received today.
func (s *Service) SettleReceivable(ctx context.Context, id string) error {
	return s.settle(ctx, "receivable", models.JoinPath(s.paths.Receivables(s.uid), id), models.StatusReceived, "receivedDate")
}

// SettleExpense marks an expense paid today.
func (s *Service) SettleExpense(ctx context.Context, id string) error {
	return s.settle(ctx, "expense", models.JoinPath(s.paths.Expenses(s.uid), id), models.StatusPaid, "paidDate")
}

// DeleteReceivable removes a receivable and its materials.
func (s *Service) DeleteReceivable(ctx context.Context, id string) error {
	if err := s.store.Remove(ctx, models.JoinPath(s.paths.Receivables(s.uid), id)); err != nil {
		return fmt.Errorf("delete receivable: %w", err)
	}
	return nil
}

// DeleteExpense removes an expense and its purchased items.
func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	if err := s.store.Remove(ctx, models.JoinPath(s.paths.Expenses(s.uid), id)); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return nil
}

func (s *Service) stockItem(ctx context.Context, id string) (*models.StockItem, error) {
	var item models.StockItem
	found, err := s.load(ctx, s.paths.Admin(s.uid, "stock", id), &item)
	if err != nil {
		return nil, fmt.Errorf("get stock item: %w", err)
	}
	if !found {
		return nil, &models.NotFoundError{Kind: "stock item", Key: id}
	}
	item.ID = id
	return &item, nil
}

// UseMaterial records stock consumed by a receivable's service and takes
// it out of stock. Stock may go negative; the count is informative.
func (s *Service) UseMaterial(ctx context.Context, receivableID, stockID string, quantity float64) error {
	if err := positive("quantity", quantity); err != nil {
		return err
	}

	item, err := s.stockItem(ctx, stockID)
	if err != nil {
		return err
	}

	_, err = s.store.Push(ctx, s.paths.Materials(s.uid, receivableID), models.Material{
		Name:         item.Name,
		QuantityUsed: quantity,
		Unit:         item.Unit,
	})
	if err != nil {
		return fmt.Errorf("record material: %w", err)
	}

	err = s.store.Update(ctx, s.paths.Admin(s.uid, "stock", stockID), map[string]interface{}{
		"quantity": item.Quantity - quantity,
	})
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"receivable_id": receivableID,
		"stock_id":      stockID,
		"quantity":      quantity,
	}).Debug("Material used")
	return nil
}

// AddPurchasedItem records stock bought through an expense. The stock item
// with the same name, compared case-insensitively, is incremented; when
// there is none a new item is created.
func (s *Service) AddPurchasedItem(ctx context.Context, expenseID, name string, quantity float64, unit string) error {
	if err := required("name", name); err != nil {
		return err
	}
	if err := positive("quantity", quantity); err != nil {
		return err
	}
	name = strings.TrimSpace(name)

	_, err := s.store.Push(ctx, s.paths.PurchasedItems(s.uid, expenseID), models.PurchasedItem{
		Name:              name,
		QuantityPurchased: quantity,
		Unit:              unit,
	})
	if err != nil {
		return fmt.Errorf("record purchased item: %w", err)
	}

	snap, err := s.store.Once(ctx, store.Query{Path: s.paths.Stock(s.uid)})
	if err != nil {
		return fmt.Errorf("list stock: %w", err)
	}
	items, err := store.DecodeSnapshot[models.StockItem](snap)
	if err != nil {
		return err
	}

	fold := cases.Fold()
	want := fold.String(name)
	for _, item := range items {
		if fold.String(strings.TrimSpace(item.Name)) != want {
			continue
		}
		err = s.store.Update(ctx, s.paths.Admin(s.uid, "stock", item.ID), map[string]interface{}{
			"quantity": item.Quantity + quantity,
		})
		if err != nil {
			return fmt.Errorf("increment stock: %w", err)
		}
		return nil
	}

	_, err = s.store.Push(ctx, s.paths.Stock(s.uid), models.StockItem{
		Name:     name,
		Quantity: quantity,
		Unit:     unit,
	})
	if err != nil {
		return fmt.Errorf("create stock item: %w", err)
	}
	return nil
}

// Directives returns the assistant's standing instructions, or "" when
// none were saved.
func (s *Service) Directives(ctx context.Context) (string, error) {
	var d models.Directives
	if _, err := s.load(ctx, s.paths.Directives(s.uid), &d); err != nil {
		return "", fmt.Errorf("get directives: %w", err)
	}
	return d.PromptDirectives, nil
}

// SaveDirectives replaces the assistant's standing instructions.
func (s *Service) SaveDirectives(ctx context.Context, text string) error {
	err := s.store.Update(ctx, s.paths.Directives(s.uid), map[string]interface{}{
		"promptDirectives": text,
	})
	if err != nil {
		return fmt.Errorf("save directives: %w", err)
	}
	return nil
}

// ServiceEntry is one receivable of a patient with the materials it used.
type ServiceEntry struct {
	Receivable models.Receivable
	Materials  []models.Material
}

// History returns a patient's receivables with their materials.
func (s *Service) History(ctx context.Context, patientID string) ([]ServiceEntry, error) {
	snap, err := s.store.Once(ctx, store.Query{
		Path:    s.paths.Receivables(s.uid),
		OrderBy: "patientId",
		EqualTo: patientID,
	})
	if err != nil {
		return nil, fmt.Errorf("list receivables: %w", err)
	}
	receivables, err := store.DecodeSnapshot[models.Receivable](snap)
	if err != nil {
		return nil, err
	}

	out := make([]ServiceEntry, 0, len(receivables))
	for _, r := range receivables {
		msnap, err := s.store.Once(ctx, store.Query{Path: s.paths.Materials(s.uid, r.ID)})
		if err != nil {
			return nil, fmt.Errorf("list materials: %w", err)
		}
		materials, err := store.DecodeSnapshot[models.Material](msnap)
		if err != nil {
			return nil, err
		}
		out = append(out, ServiceEntry{Receivable: r, Materials: materials})
	}
	return out, nil
}
