package views_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/clinicdesk/internal/livesync"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/views"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newConsole() (*views.Console, *bytes.Buffer) {
	var buf bytes.Buffer
	c := views.NewConsole(&buf, views.ConsoleOptions{
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})
	return c, &buf
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func money(t *testing.T, s string) models.Money {
	m, err := models.NewMoney(s)
	require.NoError(t, err)
	return m
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "R$ 1.234,56", views.FormatMoney(money(t, "1234.56")))
	assert.Equal(t, "R$ 0,30", views.FormatMoney(money(t, "0.3")))
	assert.Equal(t, "R$ 150,00", views.FormatMoney(money(t, "150")))
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "01/05/2024", views.FormatDate("2024-05-01", time.UTC))
	assert.Equal(t, "02/05/2024", views.FormatDate("2024-05-02T10:00:00Z", time.UTC))
	assert.Equal(t, "-", views.FormatDate(" ", time.UTC))
	assert.Equal(t, "amanhã", views.FormatDate("amanhã", time.UTC))
}

func TestDashboardGolden(t *testing.T) {
	c, buf := newConsole()
	c.RenderAggregate(livesync.Dashboard, livesync.KPIs{
		Patients: 3,
		Stock:    5,
		Received: money(t, "1234.56"),
		Paid:     money(t, "0.30"),
	})
	golden(t).Assert(t, "dashboard", buf.Bytes())
}

func TestReceivablesGolden(t *testing.T) {
	c, buf := newConsole()
	c.RenderCollection(livesync.Receivables, []models.Record{
		{ID: "r1", Data: json.RawMessage(`{"patientName":"Ana Souza","description":"Limpeza","amount":150,"dueDate":"2024-05-01","paymentMethod":"pix","status":"Recebido"}`)},
		{ID: "r2", Data: json.RawMessage(`{"patientName":"Bruno","description":"Canal","amount":1200.5,"status":"Aberto"}`)},
	})
	golden(t).Assert(t, "receivables", buf.Bytes())
}

func TestJournalGolden(t *testing.T) {
	c, buf := newConsole()
	c.RenderCollection(livesync.Chat, []models.Record{
		{ID: "m1", Data: json.RawMessage(`{"text":"Olá, tudo bem?","author":"Dentista","timestamp":"2024-05-01T13:00:00Z"}`)},
		{ID: "m2", Data: json.RawMessage(`{"text":"Anexo","author":"Paciente","media":{"url":"https://x/raio.png","type":"png","name":"raio.png"},"timestamp":"2024-05-01T13:05:00Z"}`)},
	})
	golden(t).Assert(t, "journal", buf.Bytes())
}

func TestStatusGolden(t *testing.T) {
	c, buf := newConsole()
	c.RenderStatus([]models.CollectionStatus{
		{Name: "expenses"},
		{Name: "patients", Count: 1234, Seq: 40, LastSnapshot: now.Add(-5 * time.Second)},
		{Name: "stock", Count: 3, Seq: 41, LastSnapshot: now.Add(-2 * time.Minute), Stalled: true, LastError: "connection lost"},
	})
	golden(t).Assert(t, "status", buf.Bytes())
}

func TestEmptyAndBrokenLists(t *testing.T) {
	c, buf := newConsole()

	c.RenderCollection(livesync.Stock, nil)
	assert.Equal(t, "== Estoque (0) ==\n  Sem registros.\n", buf.String())

	buf.Reset()
	c.RenderCollection(livesync.Stock, []models.Record{{ID: "s1", Data: json.RawMessage(`{"quantity":"lots"}`)}})
	assert.Contains(t, buf.String(), "stock: decode record s1")
}

func TestModalLists(t *testing.T) {
	c, buf := newConsole()

	c.RenderCollection(livesync.Materials, []models.Record{
		{ID: "m1", Data: json.RawMessage(`{"name":"Resina","quantityUsed":2,"unit":"un"}`)},
		{ID: "m2", Data: json.RawMessage(`{"name":"Anestésico","quantityUsed":0.5,"unit":"ml"}`)},
	})
	assert.Equal(t, "== Materiais utilizados (2) ==\n- 2 un Resina\n- 0.5 ml Anestésico\n", buf.String())
}

func TestStateMounted(t *testing.T) {
	s := views.NewState()

	assert.True(t, s.Mounted(livesync.Dashboard))
	assert.False(t, s.Mounted(livesync.Patients))
	assert.False(t, s.Mounted(livesync.Stock), "financials is not shown")

	s.Show(views.ViewFinancials)
	assert.False(t, s.Mounted(livesync.Dashboard))
	assert.True(t, s.Mounted(livesync.Stock))
	assert.False(t, s.Mounted(livesync.Receivables))

	s.SelectTab(views.TabReceivables)
	assert.True(t, s.Mounted(livesync.Receivables))
	assert.False(t, s.Mounted(livesync.Stock))

	s.OpenModal(views.ModalMaterials, "r1")
	assert.True(t, s.Mounted(livesync.Materials))
	assert.False(t, s.Mounted(livesync.PurchasedItems))
	assert.Equal(t, "r1", s.Screen().ModalKey)

	s.SelectTab(views.TabExpenses)
	assert.False(t, s.Mounted(livesync.Materials), "tab switch closes the modal")

	s.Show(views.ViewPatients)
	s.OpenChat("p1")
	assert.True(t, s.Mounted(livesync.Chat))
	assert.True(t, s.Mounted(livesync.ReplyDrafts))

	s.Show(views.ViewDashboard)
	assert.False(t, s.Mounted(livesync.Chat), "view switch closes the chat")

	s.Show(views.ViewPortal)
	assert.True(t, s.Mounted(livesync.Receivables))
	assert.False(t, s.Mounted("unknown"))
}

func TestParse(t *testing.T) {
	v, err := views.ParseView("financials")
	require.NoError(t, err)
	assert.Equal(t, views.ViewFinancials, v)
	_, err = views.ParseView("settings")
	assert.Error(t, err)

	tab, err := views.ParseTab("expenses")
	require.NoError(t, err)
	assert.Equal(t, views.TabExpenses, tab)
	_, err = views.ParseTab("x")
	assert.Error(t, err)
}
