package views

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/TheMichaelB/clinicdesk/internal/livesync"
	"github.com/TheMichaelB/clinicdesk/internal/models"
)

// FormatMoney renders m as Brazilian reais, e.g. "R$ 1.234,56".
func FormatMoney(m models.Money) string {
	p := message.NewPrinter(language.BrazilianPortuguese)
	return "R$ " + p.Sprintf("%.2f", m.InexactFloat64())
}

// FormatDate renders a stored date as dd/mm/yyyy. Unparseable values are
// returned as given.
func FormatDate(s string, loc *time.Location) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("02/01/2006")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc).Format("02/01/2006")
	}
	return s
}

var relTime = []humanize.RelTimeMagnitude{
	{D: time.Second, Format: "agora", DivBy: time.Second},
	{D: 2 * time.Second, Format: "1 segundo %s", DivBy: 1},
	{D: time.Minute, Format: "%d segundos %s", DivBy: time.Second},
	{D: 2 * time.Minute, Format: "1 minuto %s", DivBy: 1},
	{D: time.Hour, Format: "%d minutos %s", DivBy: time.Minute},
	{D: 2 * time.Hour, Format: "1 hora %s", DivBy: 1},
	{D: humanize.Day, Format: "%d horas %s", DivBy: time.Hour},
	{D: 2 * humanize.Day, Format: "1 dia %s", DivBy: 1},
	{D: math.MaxInt64, Format: "%d dias %s", DivBy: humanize.Day},
}

// ConsoleOptions configure a Console.
type ConsoleOptions struct {
	Color    bool
	Location *time.Location
	Now      func() time.Time
}

// Console draws collections and aggregates as text. It implements
// livesync.Renderer.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	loc *time.Location
	now func() time.Time

	heading *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
}

// NewConsole writes to out.
func NewConsole(out io.Writer, opts ConsoleOptions) *Console {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Console{
		out:     out,
		loc:     opts.Location,
		now:     opts.Now,
		heading: color.New(color.FgCyan, color.Bold),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
	}
	for _, col := range []*color.Color{c.heading, c.good, c.warn, c.bad} {
		if opts.Color {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func (c *Console) flush(buf *bytes.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.out.Write(buf.Bytes())
}

func (c *Console) title(w io.Writer, title string, n int) {
	c.heading.Fprintf(w, "== %s (%d) ==\n", title, n)
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// RenderCollection draws one collection's list.
func (c *Console) RenderCollection(name string, records []models.Record) {
	var buf bytes.Buffer
	var err error

	switch name {
	case livesync.Patients:
		err = c.patients(&buf, records)
	case livesync.Stock:
		err = c.stock(&buf, records)
	case livesync.Receivables:
		err = c.receivables(&buf, records)
	case livesync.Expenses:
		err = c.expenses(&buf, records)
	case livesync.Chat:
		err = c.journal(&buf, records)
	case livesync.ReplyDrafts:
		err = c.drafts(&buf, records)
	case livesync.Materials:
		err = c.materials(&buf, records)
	case livesync.PurchasedItems:
		err = c.purchased(&buf, records)
	default:
		c.title(&buf, name, len(records))
	}

	if err != nil {
		buf.Reset()
		c.bad.Fprintf(&buf, "%s: %v\n", name, err)
	}
	c.flush(&buf)
}

// RenderAggregate draws a derived value.
func (c *Console) RenderAggregate(name string, value interface{}) {
	var buf bytes.Buffer

	switch v := value.(type) {
	case livesync.KPIs:
		c.dashboard(&buf, v)
	default:
		fmt.Fprintf(&buf, "%s: %v\n", name, v)
	}
	c.flush(&buf)
}

func (c *Console) dashboard(w io.Writer, k livesync.KPIs) {
	c.heading.Fprintln(w, "== Painel ==")
	tw := table(w)
	fmt.Fprintf(tw, "Pacientes\t%d\n", k.Patients)
	fmt.Fprintf(tw, "Estoque\t%d\n", k.Stock)
	fmt.Fprintf(tw, "Recebido\t%s\n", FormatMoney(k.Received))
	fmt.Fprintf(tw, "Pago\t%s\n", FormatMoney(k.Paid))
	tw.Flush()
}

func (c *Console) patients(w io.Writer, records []models.Record) error {
	patients, err := models.Decode[models.Patient](records)
	if err != nil {
		return err
	}

	c.title(w, "Pacientes", len(patients))
	if len(patients) == 0 {
		fmt.Fprintln(w, "  Sem registros.")
		return nil
	}

	tw := table(w)
	fmt.Fprintln(tw, "ID\tNOME\tEMAIL\tTELEFONE\tTRATAMENTO")
	for _, p := range patients {
		treatment := p.TreatmentType
		if treatment == "" {
			treatment = models.TreatmentGeneral
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, orDash(p.Email), orDash(p.Phone), treatment)
	}
	return tw.Flush()
}

func (c *Console) stock(w io.Writer, records []models.Record) error {
	items, err := models.Decode[models.StockItem](records)
	if err != nil {
		return err
	}

	c.title(w, "Estoque", len(items))
	if len(items) == 0 {
		fmt.Fprintln(w, "  Sem registros.")
		return nil
	}

	tw := table(w)
	fmt.Fprintln(tw, "ID\tITEM\tQTD\tUNIDADE\tCUSTO\tFORNECEDOR")
	for _, s := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Name, humanize.Ftoa(s.Quantity), orDash(s.Unit), FormatMoney(s.Cost), orDash(s.Supplier))
	}
	return tw.Flush()
}

func (c *Console) status(s models.RecordStatus) string {
	if s.Settled() {
		return c.good.Sprint(s)
	}
	return c.warn.Sprint(orDash(string(s)))
}

func (c *Console) receivables(w io.Writer, records []models.Record) error {
	items, err := models.Decode[models.Receivable](records)
	if err != nil {
		return err
	}

	c.title(w, "Contas a Receber", len(items))
	if len(items) == 0 {
		fmt.Fprintln(w, "  Sem registros.")
		return nil
	}

	tw := table(w)
	fmt.Fprintln(tw, "ID\tDESCRIÇÃO\tPACIENTE\tVALOR\tVENCIMENTO\tPAGAMENTO\tSTATUS")
	for _, r := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Description, orDash(r.PatientName), FormatMoney(r.Amount),
			FormatDate(r.DueDate, c.loc), r.PaymentMethod.Label(), c.status(r.Status))
	}
	return tw.Flush()
}

func (c *Console) expenses(w io.Writer, records []models.Record) error {
	items, err := models.Decode[models.Expense](records)
	if err != nil {
		return err
	}

	c.title(w, "Contas a Pagar", len(items))
	if len(items) == 0 {
		fmt.Fprintln(w, "  Sem registros.")
		return nil
	}

	tw := table(w)
	fmt.Fprintln(tw, "ID\tFORNECEDOR\tDESCRIÇÃO\tREF\tVALOR\tPAGAMENTO\tSTATUS")
	for _, e := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, orDash(e.Supplier), e.Description, orDash(e.Ref), FormatMoney(e.Amount),
			e.PaymentMethod.Label(), c.status(e.Status))
	}
	return tw.Flush()
}

func (c *Console) journal(w io.Writer, records []models.Record) error {
	msgs, err := models.Decode[models.JournalMessage](records)
	if err != nil {
		return err
	}

	c.title(w, "Prontuário", len(msgs))
	if len(msgs) == 0 {
		fmt.Fprintln(w, "  Sem mensagens.")
		return nil
	}

	for _, m := range msgs {
		fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.In(c.loc).Format("02/01 15:04"), m.Author, m.Text)
		if m.Media != nil {
			kind := "documento"
			if m.Media.IsImage() {
				kind = "imagem"
			}
			fmt.Fprintf(w, "    📎 %s (%s) %s\n", orDash(m.Media.Name), kind, m.Media.URL)
		}
	}
	return nil
}

func (c *Console) drafts(w io.Writer, records []models.Record) error {
	drafts, err := models.Decode[models.ReplyDraft](records)
	if err != nil {
		return err
	}

	c.title(w, "Rascunhos da IA", len(drafts))
	for _, d := range drafts {
		fmt.Fprintf(w, "[%s] %s\n", d.ID, d.Text)
		if d.Question != "" {
			fmt.Fprintf(w, "    ↳ pergunta: %s\n", d.Question)
		}
	}
	return nil
}

func (c *Console) materials(w io.Writer, records []models.Record) error {
	items, err := models.Decode[models.Material](records)
	if err != nil {
		return err
	}

	c.title(w, "Materiais utilizados", len(items))
	for _, m := range items {
		fmt.Fprintf(w, "- %s %s %s\n", humanize.Ftoa(m.QuantityUsed), m.Unit, m.Name)
	}
	return nil
}

func (c *Console) purchased(w io.Writer, records []models.Record) error {
	items, err := models.Decode[models.PurchasedItem](records)
	if err != nil {
		return err
	}

	c.title(w, "Itens comprados", len(items))
	for _, p := range items {
		fmt.Fprintf(w, "- %s %s %s\n", humanize.Ftoa(p.QuantityPurchased), p.Unit, p.Name)
	}
	return nil
}

// RenderStatus draws the delivery state of the live collections.
func (c *Console) RenderStatus(statuses []models.CollectionStatus) {
	var buf bytes.Buffer
	c.heading.Fprintln(&buf, "== Sincronização ==")

	now := c.now()
	tw := table(&buf)
	fmt.Fprintln(tw, "COLEÇÃO\tREGISTROS\tSEQ\tÚLTIMA\tESTADO")
	for _, s := range statuses {
		last := "nunca"
		if s.Received() {
			last = humanize.CustomRelTime(s.LastSnapshot, now, "atrás", "adiante", relTime)
		}

		var state string
		switch {
		case s.Stalled:
			state = c.bad.Sprintf("parado: %s", s.LastError)
		case !s.Received():
			state = c.warn.Sprint("aguardando")
		default:
			state = c.good.Sprint("ok")
		}

		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			s.Name, humanize.FormatInteger("#.###,", s.Count), s.Seq, last, state)
	}
	tw.Flush()
	c.flush(&buf)
}

// Notice writes a one-line message to the operator.
func (c *Console) Notice(format string, args ...interface{}) {
	var buf bytes.Buffer
	c.warn.Fprintf(&buf, format+"\n", args...)
	c.flush(&buf)
}

var _ livesync.Renderer = (*Console)(nil)
