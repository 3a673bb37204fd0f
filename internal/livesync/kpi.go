package livesync

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/TheMichaelB/clinicdesk/internal/models"
)

// Base collections of a dentist session.
const (
	Patients    = "patients"
	Stock       = "stock"
	Receivables = "receivables"
	Expenses    = "expenses"
)

// Scoped collections.
const (
	Chat           = "chat"
	ReplyDrafts    = "replyDrafts"
	Materials      = "materials"
	PurchasedItems = "purchasedItems"
)

// Dashboard is the aggregate of the four base collections.
const Dashboard = "dashboard"

// KPIs are the dashboard figures.
type KPIs struct {
	Patients int
	Stock    int
	Received models.Money
	Paid     models.Money
}

// ComputeKPIs is pure: the result depends on the lists' contents only,
// never on their order.
func ComputeKPIs(patients, stock int, receivables []models.Receivable, expenses []models.Expense) KPIs {
	received := decimal.Zero
	for _, r := range receivables {
		if r.Status == models.StatusReceived {
			received = received.Add(r.Amount.Decimal)
		}
	}

	paid := decimal.Zero
	for _, e := range expenses {
		if e.Status == models.StatusPaid {
			paid = paid.Add(e.Amount.Decimal)
		}
	}

	return KPIs{
		Patients: patients,
		Stock:    stock,
		Received: models.Money{Decimal: received},
		Paid:     models.Money{Decimal: paid},
	}
}

// DashboardAggregate recomputes KPIs on every base collection snapshot.
func DashboardAggregate() Aggregate {
	return Aggregate{
		Name:    Dashboard,
		Sources: []string{Patients, Stock, Receivables, Expenses},
		Compute: func(lists Lists) (interface{}, error) {
			receivables, err := models.Decode[models.Receivable](lists(Receivables))
			if err != nil {
				return nil, fmt.Errorf("decode receivables: %w", err)
			}
			expenses, err := models.Decode[models.Expense](lists(Expenses))
			if err != nil {
				return nil, fmt.Errorf("decode expenses: %w", err)
			}
			return ComputeKPIs(len(lists(Patients)), len(lists(Stock)), receivables, expenses), nil
		},
	}
}
