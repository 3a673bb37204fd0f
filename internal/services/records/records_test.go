package records_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/services/records"
	"github.com/TheMichaelB/clinicdesk/internal/store"
)

var paths = models.Paths{AppID: "test-app"}

func setup(t *testing.T) (*records.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory(events.Discard())
	t.Cleanup(func() { mem.Close() })
	return records.NewService(mem, paths, "u1", events.Discard()), mem
}

func money(t *testing.T, s string) models.Money {
	m, err := models.NewMoney(s)
	require.NoError(t, err)
	return m
}

func stockList(t *testing.T, mem *store.Memory) []models.StockItem {
	snap, err := mem.Once(context.Background(), store.Query{Path: paths.Stock("u1")})
	require.NoError(t, err)
	items, err := store.DecodeSnapshot[models.StockItem](snap)
	require.NoError(t, err)
	return items
}

func TestPatientLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	_, err := svc.CreatePatient(ctx, models.Patient{Email: "x@y.z"})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	id, err := svc.CreatePatient(ctx, models.Patient{Name: "Ana", Email: "ana@x.com", Phone: "555"})
	require.NoError(t, err)

	p, err := svc.Patient(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.Name)
	assert.Equal(t, models.TreatmentGeneral, p.TreatmentType)
	assert.False(t, p.CreatedAt.IsZero())

	require.NoError(t, svc.UpdatePatient(ctx, id, models.Patient{Name: "Ana Souza", TreatmentType: models.TreatmentImplant}))
	p, err = svc.Patient(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", p.Name)
	assert.Empty(t, p.Phone)
	assert.Equal(t, models.TreatmentImplant, p.TreatmentType)
	assert.False(t, p.CreatedAt.IsZero(), "creation time survives an edit")

	require.NoError(t, svc.DeletePatient(ctx, id))
	_, err = svc.Patient(ctx, id)
	var nf *models.NotFoundError
	assert.ErrorAs(t, err, &nf)

	err = svc.UpdatePatient(ctx, id, models.Patient{Name: "Ghost"})
	assert.ErrorAs(t, err, &nf)
}

func TestReceivableFlow(t *testing.T) {
	ctx := context.Background()
	svc, mem := setup(t)

	pid, err := svc.CreatePatient(ctx, models.Patient{Name: "Ana"})
	require.NoError(t, err)

	_, err = svc.CreateReceivable(ctx, records.ReceivableInput{PatientID: pid, Description: "Limpeza", Amount: money(t, "0")})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount", verr.Field)

	_, err = svc.CreateReceivable(ctx, records.ReceivableInput{PatientID: "nobody", Description: "Limpeza", Amount: money(t, "10")})
	var nf *models.NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = svc.CreateReceivable(ctx, records.ReceivableInput{PatientID: pid, Description: "Limpeza", Amount: money(t, "10"), PaymentMethod: "barter"})
	require.ErrorAs(t, err, &verr)

	rid, err := svc.CreateReceivable(ctx, records.ReceivableInput{
		PatientID:   pid,
		Description: "Limpeza",
		Amount:      money(t, "150,00"),
		DueDate:     "2024-05-01",
	})
	require.NoError(t, err)

	raw, err := mem.Get(ctx, models.JoinPath(paths.Receivables("u1"), rid))
	require.NoError(t, err)
	var r models.Receivable
	require.NoError(t, json.Unmarshal(raw, &r))
	assert.Equal(t, "Ana", r.PatientName)
	assert.Equal(t, models.StatusOpen, r.Status)
	assert.Equal(t, models.PaymentPix, r.PaymentMethod)
	assert.Equal(t, "150.00", r.Amount.StringFixed(2))
	assert.Nil(t, r.ReceivedDate)

	require.NoError(t, svc.SettleReceivable(ctx, rid))
	raw, err = mem.Get(ctx, models.JoinPath(paths.Receivables("u1"), rid))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &r))
	assert.Equal(t, models.StatusReceived, r.Status)
	require.NotNil(t, r.ReceivedDate)

	err = svc.SettleReceivable(ctx, "missing")
	assert.ErrorAs(t, err, &nf)

	require.NoError(t, svc.DeleteReceivable(ctx, rid))
	raw, err = mem.Get(ctx, models.JoinPath(paths.Receivables("u1"), rid))
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestExpenseFlow(t *testing.T) {
	ctx := context.Background()
	svc, mem := setup(t)

	_, err := svc.CreateExpense(ctx, records.ExpenseInput{Description: "Luvas", Amount: money(t, "10")})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "supplier", verr.Field)

	eid, err := svc.CreateExpense(ctx, records.ExpenseInput{
		Supplier:      "Dental Sul",
		Description:   "Luvas",
		Ref:           "NF-12",
		Amount:        money(t, "89.90"),
		PaymentMethod: models.PaymentBoleto,
	})
	require.NoError(t, err)

	require.NoError(t, svc.SettleExpense(ctx, eid))

	raw, err := mem.Get(ctx, models.JoinPath(paths.Expenses("u1"), eid))
	require.NoError(t, err)
	var e models.Expense
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, models.StatusPaid, e.Status)
	assert.NotNil(t, e.PaidDate)
	assert.Equal(t, models.PaymentBoleto, e.PaymentMethod)

	require.NoError(t, svc.DeleteExpense(ctx, eid))
}

func TestUseMaterialDecrementsStock(t *testing.T) {
	ctx := context.Background()
	svc, mem := setup(t)

	sid, err := svc.AddStock(ctx, models.StockItem{Name: "Resina", Quantity: 10, Unit: "un"})
	require.NoError(t, err)

	require.NoError(t, svc.UseMaterial(ctx, "r1", sid, 3))

	items := stockList(t, mem)
	require.Len(t, items, 1)
	assert.Equal(t, 7.0, items[0].Quantity)
	assert.Equal(t, "Manual", items[0].Supplier)

	snap, err := mem.Once(ctx, store.Query{Path: paths.Materials("u1", "r1")})
	require.NoError(t, err)
	materials, err := store.DecodeSnapshot[models.Material](snap)
	require.NoError(t, err)
	require.Len(t, materials, 1)
	assert.Equal(t, models.Material{ID: materials[0].ID, Name: "Resina", QuantityUsed: 3, Unit: "un"}, materials[0])

	err = svc.UseMaterial(ctx, "r1", "missing", 1)
	var nf *models.NotFoundError
	assert.ErrorAs(t, err, &nf)

	err = svc.UseMaterial(ctx, "r1", sid, 0)
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestAddPurchasedItemMatchesByFoldedName(t *testing.T) {
	ctx := context.Background()
	svc, mem := setup(t)

	_, err := svc.AddStock(ctx, models.StockItem{Name: "Luva Nitrílica", Quantity: 2, Unit: "cx"})
	require.NoError(t, err)

	require.NoError(t, svc.AddPurchasedItem(ctx, "e1", "LUVA NITRÍLICA ", 5, "cx"))

	items := stockList(t, mem)
	require.Len(t, items, 1, "existing item incremented")
	assert.Equal(t, 7.0, items[0].Quantity)

	require.NoError(t, svc.AddPurchasedItem(ctx, "e1", "Sugador", 100, "un"))

	items = stockList(t, mem)
	require.Len(t, items, 2, "unknown item created")
	assert.Equal(t, "Sugador", items[1].Name)
	assert.Equal(t, 100.0, items[1].Quantity)

	snap, err := mem.Once(ctx, store.Query{Path: paths.PurchasedItems("u1", "e1")})
	require.NoError(t, err)
	assert.Len(t, snap.Children, 2)
}

func TestDirectives(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	d, err := svc.Directives(ctx)
	require.NoError(t, err)
	assert.Empty(t, d)

	require.NoError(t, svc.SaveDirectives(ctx, "Seja breve."))
	d, err = svc.Directives(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Seja breve.", d)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	ana, err := svc.CreatePatient(ctx, models.Patient{Name: "Ana"})
	require.NoError(t, err)
	bia, err := svc.CreatePatient(ctx, models.Patient{Name: "Bia"})
	require.NoError(t, err)
	sid, err := svc.AddStock(ctx, models.StockItem{Name: "Resina", Quantity: 5, Unit: "un"})
	require.NoError(t, err)

	r1, err := svc.CreateReceivable(ctx, records.ReceivableInput{PatientID: ana, Description: "Restauração", Amount: money(t, "200")})
	require.NoError(t, err)
	_, err = svc.CreateReceivable(ctx, records.ReceivableInput{PatientID: bia, Description: "Limpeza", Amount: money(t, "100")})
	require.NoError(t, err)
	require.NoError(t, svc.UseMaterial(ctx, r1, sid, 1))

	history, err := svc.History(ctx, ana)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Restauração", history[0].Receivable.Description)
	require.Len(t, history[0].Materials, 1)
	assert.Equal(t, "Resina", history[0].Materials[0].Name)
}
