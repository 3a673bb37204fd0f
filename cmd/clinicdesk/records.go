package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/clinicdesk/internal/livesync"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/services/records"
	"github.com/TheMichaelB/clinicdesk/internal/store"
	"github.com/TheMichaelB/clinicdesk/internal/views"
)

// listCollection prints one snapshot of a collection the way the console
// draws it.
func listCollection(ctx context.Context, name string, q store.Query) error {
	snap, err := apiClient.Store.Once(ctx, q)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(snap.Children)
		return nil
	}
	views.NewConsole(os.Stdout, views.ConsoleOptions{Color: !noColor}).RenderCollection(name, snap.Children)
	return nil
}

func recordsService() (*records.Service, string, error) {
	svc, err := apiClient.Records()
	if err != nil {
		return nil, "", fmt.Errorf("not signed in: %w", err)
	}
	token, _ := apiClient.Auth.Current()
	return svc, token.UID, nil
}

func parseQuantity(s string) (float64, error) {
	q, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &models.ValidationError{Field: "quantity", Reason: fmt.Sprintf("%q is not a number", s)}
	}
	return q, nil
}

// patient

var patientCmd = &cobra.Command{
	Use:     "patient",
	Short:   "Manage patients",
	GroupID: "records",
}

var patientInput struct {
	email, phone, cpf, address, treatment, goal string
}

func init() {
	rootCmd.AddCommand(patientCmd)

	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := recordsService()
			if err != nil {
				return err
			}
			id, err := svc.CreatePatient(cmd.Context(), models.Patient{
				Name:          args[0],
				Email:         patientInput.email,
				Phone:         patientInput.phone,
				CPF:           patientInput.cpf,
				Address:       patientInput.address,
				TreatmentType: models.ParseTreatmentType(patientInput.treatment),
				TreatmentGoal: patientInput.goal,
			})
			return report(err, map[string]interface{}{"id": id}, "Patient %s registered", id)
		},
	}
	editCmd := &cobra.Command{
		Use:   "edit <id> <name>",
		Short: "Replace a patient's details",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := recordsService()
			if err != nil {
				return err
			}
			err = svc.UpdatePatient(cmd.Context(), args[0], models.Patient{
				Name:          args[1],
				Email:         patientInput.email,
				Phone:         patientInput.phone,
				CPF:           patientInput.cpf,
				Address:       patientInput.address,
				TreatmentType: models.ParseTreatmentType(patientInput.treatment),
				TreatmentGoal: patientInput.goal,
			})
			return report(err, nil, "Patient %s updated", args[0])
		},
	}
	for _, c := range []*cobra.Command{addCmd, editCmd} {
		c.Flags().StringVar(&patientInput.email, "email", "", "Email, used to sign in to the portal")
		c.Flags().StringVar(&patientInput.phone, "phone", "", "Phone")
		c.Flags().StringVar(&patientInput.cpf, "cpf", "", "CPF")
		c.Flags().StringVar(&patientInput.address, "address", "", "Address")
		c.Flags().StringVar(&patientInput.treatment, "treatment", "", "Geral, Ortodontia, Implante or Estética")
		c.Flags().StringVar(&patientInput.goal, "goal", "", "Treatment goal")
	}

	patientCmd.AddCommand(addCmd, editCmd,
		&cobra.Command{
			Use:   "list",
			Short: "List patients",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, uid, err := recordsService()
				if err != nil {
					return err
				}
				return listCollection(cmd.Context(), livesync.Patients, store.Query{Path: apiClient.Paths().Patients(uid)})
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a patient",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, _, err := recordsService()
				if err != nil {
					return err
				}
				return report(svc.DeletePatient(cmd.Context(), args[0]), nil, "Patient %s deleted", args[0])
			},
		},
		&cobra.Command{
			Use:   "history <id>",
			Short: "Show services and materials billed to a patient",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, _, err := recordsService()
				if err != nil {
					return err
				}
				history, err := svc.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(history)
					return nil
				}
				if len(history) == 0 {
					printInfo("No services recorded")
				}
				for _, h := range history {
					fmt.Printf("%s  %s  %s  %s\n", views.FormatDate(h.Receivable.DueDate, time.Local),
						h.Receivable.Description, views.FormatMoney(h.Receivable.Amount), h.Receivable.Status)
					for _, m := range h.Materials {
						fmt.Printf("    - %g %s %s\n", m.QuantityUsed, m.Unit, m.Name)
					}
				}
				return nil
			},
		},
	)
}

// stock

var stockCmd = &cobra.Command{
	Use:     "stock",
	Short:   "Manage stock",
	GroupID: "records",
}

var stockInput struct {
	unit, cost, supplier string
}

func init() {
	rootCmd.AddCommand(stockCmd)

	addCmd := &cobra.Command{
		Use:   "add <name> <quantity>",
		Short: "Add a stock item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := recordsService()
			if err != nil {
				return err
			}
			qty, err := parseQuantity(args[1])
			if err != nil {
				return err
			}
			cost, err := models.NewMoney(stockInput.cost)
			if err != nil {
				return err
			}
			id, err := svc.AddStock(cmd.Context(), models.StockItem{
				Name:     args[0],
				Quantity: qty,
				Unit:     stockInput.unit,
				Cost:     cost,
				Supplier: stockInput.supplier,
			})
			return report(err, map[string]interface{}{"id": id}, "Stock item %s added", id)
		},
	}
	addCmd.Flags().StringVar(&stockInput.unit, "unit", "un", "Unit")
	addCmd.Flags().StringVar(&stockInput.cost, "cost", "0", "Unit cost")
	addCmd.Flags().StringVar(&stockInput.supplier, "supplier", "", "Supplier")

	stockCmd.AddCommand(addCmd,
		&cobra.Command{
			Use:   "list",
			Short: "List stock",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, uid, err := recordsService()
				if err != nil {
					return err
				}
				return listCollection(cmd.Context(), livesync.Stock, store.Query{Path: apiClient.Paths().Stock(uid)})
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a stock item",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, _, err := recordsService()
				if err != nil {
					return err
				}
				return report(svc.DeleteStock(cmd.Context(), args[0]), nil, "Stock item %s deleted", args[0])
			},
		},
	)
}

// receivable

var receivableCmd = &cobra.Command{
	Use:     "receivable",
	Short:   "Manage money owed by patients",
	GroupID: "records",
}

var receivableInput struct {
	due, method string
}

func init() {
	rootCmd.AddCommand(receivableCmd)

	addCmd := &cobra.Command{
		Use:   "add <patient-id> <description> <amount>",
		Short: "Bill a patient",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := recordsService()
			if err != nil {
				return err
			}
			amount, err := models.NewMoney(args[2])
			if err != nil {
				return err
			}
			id, err := svc.CreateReceivable(cmd.Context(), records.ReceivableInput{
				PatientID:     args[0],
				Description:   args[1],
				Amount:        amount,
				DueDate:       receivableInput.due,
				PaymentMethod: models.PaymentMethod(receivableInput.method),
			})
			return report(err, map[string]interface{}{"id": id}, "Receivable %s created", id)
		},
	}
	addCmd.Flags().StringVar(&receivableInput.due, "due", "", "Due date (YYYY-MM-DD)")
	addCmd.Flags().StringVar(&receivableInput.method, "method", "", "Payment method (default pix)")

	useCmd := &cobra.Command{
		Use:   "use <receivable-id> <stock-id> <quantity>",
		Short: "Record stock used for a service",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := recordsService()
			if err != nil {
				return err
			}
			qty, err := parseQuantity(args[2])
			if err != nil {
				return err
			}
			return report(svc.UseMaterial(cmd.Context(), args[0], args[1], qty), nil, "Material recorded")
		},
	}

	receivableCmd.AddCommand(addCmd, useCmd,
		&cobra.Command{
			Use:   "list",
			Short: "List receivables",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, uid, err := recordsService()
				if err != nil {
					return err
				}
				return listCollection(cmd.Context(), livesync.Receivables, store.Query{Path: apiClient.Paths().Receivables(uid)})
			},
		},
		&cobra.Command{
			Use:   "settle <id>",
			Short: "Mark a receivable as received",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, _, err := recordsService()
				if err != nil {
					return err
				}
				return report(svc.SettleReceivable(cmd.Context(), args[0]), nil, "Receivable %s received", args[0])
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a receivable",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, _, err := recordsService()
				if err != nil {
					return err
				}
				return report(svc.DeleteReceivable(cmd.Context(), args[0]), nil, "Receivable %s deleted", args[0])
			},
		},
	)
}

// expense

var expenseCmd = &cobra.Command{
	Use:     "expense",
	Short:   "Manage money owed to suppliers",
	GroupID: "records",
}

var expenseInput struct {
	ref, method, unit string
}

func init() {
	rootCmd.AddCommand(expenseCmd)

	addCmd := &cobra.Command{
		Use:   "add <supplier> <description> <amount>",
		Short: "Record an expense",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := recordsService()
			if err != nil {
				return err
			}
			amount, err := models.NewMoney(args[2])
			if err != nil {
				return err
			}
			id, err := svc.CreateExpense(cmd.Context(), records.ExpenseInput{
				Supplier:      args[0],
				Description:   args[1],
				Ref:           expenseInput.ref,
				Amount:        amount,
				PaymentMethod: models.PaymentMethod(expenseInput.method),
			})
			return report(err, map[string]interface{}{"id": id}, "Expense %s created", id)
		},
	}
	addCmd.Flags().StringVar(&expenseInput.ref, "ref", "", "Invoice reference")
	addCmd.Flags().StringVar(&expenseInput.method, "method", "", "Payment method (default pix)")

	itemCmd := &cobra.Command{
		Use:   "item <expense-id> <name> <quantity>",
		Short: "Record an item bought and add it to stock",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := recordsService()
			if err != nil {
				return err
			}
			qty, err := parseQuantity(args[2])
			if err != nil {
				return err
			}
			err = svc.AddPurchasedItem(cmd.Context(), args[0], args[1], qty, expenseInput.unit)
			return report(err, nil, "Item recorded")
		},
	}
	itemCmd.Flags().StringVar(&expenseInput.unit, "unit", "un", "Unit")

	expenseCmd.AddCommand(addCmd, itemCmd,
		&cobra.Command{
			Use:   "list",
			Short: "List expenses",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, uid, err := recordsService()
				if err != nil {
					return err
				}
				return listCollection(cmd.Context(), livesync.Expenses, store.Query{Path: apiClient.Paths().Expenses(uid)})
			},
		},
		&cobra.Command{
			Use:   "settle <id>",
			Short: "Mark an expense as paid",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, _, err := recordsService()
				if err != nil {
					return err
				}
				return report(svc.SettleExpense(cmd.Context(), args[0]), nil, "Expense %s paid", args[0])
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete an expense",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, _, err := recordsService()
				if err != nil {
					return err
				}
				return report(svc.DeleteExpense(cmd.Context(), args[0]), nil, "Expense %s deleted", args[0])
			},
		},
	)
}

// directives

var directivesCmd = &cobra.Command{
	Use:     "directives [text]",
	Short:   "Show or replace the assistant's directives",
	GroupID: "assistant",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := recordsService()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			return report(svc.SaveDirectives(cmd.Context(), args[0]), nil, "Directives saved")
		}
		d, err := svc.Directives(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]string{"directives": d})
			return nil
		}
		if d == "" {
			printInfo("No directives set")
			return nil
		}
		fmt.Println(d)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(directivesCmd)
}
