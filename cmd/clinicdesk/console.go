package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/clinicdesk/internal/livesync"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/services/session"
	"github.com/TheMichaelB/clinicdesk/internal/views"
)

var consoleCmd = &cobra.Command{
	Use:     "console",
	Short:   "Open the interactive clinic console",
	GroupID: "session",
	Long: `Console attaches the live patients, stock and finance lists and keeps
the screen in step with the store. Type "help" for the commands.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	con := views.NewConsole(os.Stdout, views.ConsoleOptions{Color: cfg.Log.Color && !noColor})
	s, err := apiClient.OpenSession(ctx, con)
	if err != nil {
		return err
	}
	defer s.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			printWarning("\nInterrupted, closing session...")
			cancel()
			os.Stdin.Close()
		case <-ctx.Done():
		}
	}()

	r := newREPL(s, con, os.Stdout)
	go r.watch(s.Events())
	return r.run(ctx, os.Stdin)
}

// repl reads console commands and applies them to a session.
type repl struct {
	s   *session.Session
	con *views.Console
	out io.Writer

	mu         sync.Mutex
	suggestion *session.Suggestion
	pending    sync.WaitGroup
}

func newREPL(s *session.Session, con *views.Console, out io.Writer) *repl {
	return &repl{s: s, con: con, out: out}
}

// watch reports stalls and recoveries until the engine closes.
func (r *repl) watch(evs <-chan livesync.Event) {
	for ev := range evs {
		switch ev.Type {
		case livesync.EventStalled:
			st, err := r.s.Engine().Status(ev.Name)
			last := "nunca"
			if err == nil && st.Received() {
				last = st.LastSnapshot.Format("15:04:05")
			}
			r.con.Notice("! %s parado (último dado %s): %v", ev.Name, last, ev.Err)
		case livesync.EventRecovered:
			r.con.Notice("✓ %s retomado", ev.Name)
		}
	}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	r.printf("Console aberto. Digite \"help\" para os comandos.\n")

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		quit, err := r.exec(ctx, scanner.Text())
		if err != nil {
			r.printf("erro: %s\n", describe(err))
		}
		if quit || ctx.Err() != nil {
			break
		}
	}
	r.pending.Wait()
	return scanner.Err()
}

func (r *repl) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

func describe(err error) string {
	var ex *models.ExhaustedError
	var ce *models.ConfigurationError
	switch {
	case errors.As(err, &ex), errors.As(err, &ce):
		return models.DescribeCompletionFailure(err)
	case errors.Is(err, models.ErrStale):
		return "o chat da sugestão foi fechado ou trocado"
	}
	return err.Error()
}

const consoleHelp = `Commands:
  view <dashboard|patients|financials|brain>
  tab <stock|receivables|expenses>
  open <patient-id>           open a patient's chat
  materials <receivable-id>   show materials used
  items <expense-id>          show purchased items
  close                       close the chat and any modal
  send <text>                 post to the open chat
  attach <file>               attach a file to the next message
  ask                         ask the assistant about the open chat
  post                        post the last suggestion
  approve <draft-id> [text]   send a reply draft
  discard <draft-id>          delete a reply draft
  settle <receivable|expense> <id>
  status                      live collection state
  quit
`

func (r *repl) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s needs %d argument(s); see help", verb, n)
		}
		return nil
	}

	switch verb {
	case "help", "?":
		r.printf("%s", consoleHelp)

	case "quit", "exit":
		return true, nil

	case "view":
		if err := need(1); err != nil {
			return false, err
		}
		v, err := views.ParseView(args[0])
		if err != nil {
			return false, err
		}
		if v == views.ViewPortal {
			return false, fmt.Errorf("the portal view belongs to patients")
		}
		r.dropSuggestion()
		return false, r.s.Show(v)

	case "tab":
		if err := need(1); err != nil {
			return false, err
		}
		t, err := views.ParseTab(args[0])
		if err != nil {
			return false, err
		}
		if r.s.State().Screen().View != views.ViewFinancials {
			if err := r.s.Show(views.ViewFinancials); err != nil {
				return false, err
			}
		}
		return false, r.s.SelectTab(t)

	case "open":
		if err := need(1); err != nil {
			return false, err
		}
		r.dropSuggestion()
		_, err := r.s.OpenChat(ctx, args[0])
		return false, err

	case "materials":
		if err := need(1); err != nil {
			return false, err
		}
		return false, r.s.OpenMaterials(ctx, args[0])

	case "items":
		if err := need(1); err != nil {
			return false, err
		}
		return false, r.s.OpenPurchasedItems(ctx, args[0])

	case "close":
		r.dropSuggestion()
		if err := r.s.CloseModal(); err != nil {
			return false, err
		}
		return false, r.s.CloseChat()

	case "send":
		_, err := r.s.Send(ctx, rest)
		return false, err

	case "attach":
		if err := need(1); err != nil {
			return false, err
		}
		data, err := os.ReadFile(rest)
		if err != nil {
			return false, fmt.Errorf("read attachment: %w", err)
		}
		if err := r.s.Attach(filepath.Base(rest), bytes.NewReader(data)); err != nil {
			return false, err
		}
		r.printf("Anexo pronto: %s\n", filepath.Base(rest))

	case "ask":
		r.ask(ctx)

	case "post":
		r.mu.Lock()
		sug := r.suggestion
		r.suggestion = nil
		r.mu.Unlock()
		if sug == nil {
			return false, fmt.Errorf("no suggestion to post; run ask first")
		}
		_, err := r.s.PostSuggestion(ctx, sug.Chat, sug.Text)
		return false, err

	case "approve":
		if err := need(1); err != nil {
			return false, err
		}
		_, err := r.s.ApproveDraft(ctx, args[0], strings.Join(args[1:], " "))
		return false, err

	case "discard":
		if err := need(1); err != nil {
			return false, err
		}
		return false, r.s.DiscardDraft(ctx, args[0])

	case "settle":
		if err := need(2); err != nil {
			return false, err
		}
		switch args[0] {
		case "receivable":
			return false, r.s.Records().SettleReceivable(ctx, args[1])
		case "expense":
			return false, r.s.Records().SettleExpense(ctx, args[1])
		}
		return false, fmt.Errorf("settle receivable|expense <id>")

	case "status":
		r.con.RenderStatus(r.s.Statuses())

	default:
		return false, fmt.Errorf("unknown command %q; see help", verb)
	}
	return false, nil
}

// ask runs the suggestion in the background. The console stays usable
// meanwhile; a result for a chat that was closed is dropped.
func (r *repl) ask(ctx context.Context) {
	r.printf("Consultando o assistente...\n")
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()

		ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		sug, err := r.s.Suggest(ctx)
		switch {
		case errors.Is(err, models.ErrStale):
			r.con.Notice("Sugestão descartada: o chat foi trocado.")
		case err != nil:
			r.con.Notice("%s", models.DescribeCompletionFailure(err))
		default:
			r.mu.Lock()
			r.suggestion = sug
			r.mu.Unlock()
			r.con.Notice("Sugestão (%s): %s\nDigite \"post\" para enviar.", sug.Candidate, sug.Text)
		}
	}()
}

// dropSuggestion forgets the last suggestion when its chat goes away.
func (r *repl) dropSuggestion() {
	r.mu.Lock()
	r.suggestion = nil
	r.mu.Unlock()
}
