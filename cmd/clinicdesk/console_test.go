package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/clinicdesk/internal/client"
	"github.com/TheMichaelB/clinicdesk/internal/completion"
	"github.com/TheMichaelB/clinicdesk/internal/config"
	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/store"
	"github.com/TheMichaelB/clinicdesk/internal/views"
)

type echoBackend struct{}

func (echoBackend) Generate(_ context.Context, call completion.Call) (string, error) {
	return "resposta de " + string(call.Model), nil
}

type consoleFixture struct {
	repl *repl
	out  *bytes.Buffer
	mem  *store.Memory
	c    *client.Client
	pid  string
}

func newConsoleFixture(t *testing.T) *consoleFixture {
	t.Helper()
	ctx := context.Background()

	testCfg := config.DefaultConfig()
	testCfg.App.ID = "test-app"
	testCfg.Auth.UID = "admin"
	testCfg.Auth.Email = testCfg.App.AdminEmail
	testCfg.Auth.TokenFile = filepath.Join(t.TempDir(), "token.json")
	testCfg.Completion.APIKey = "test-api-key-123"
	testCfg.Completion.Models = []string{"fast", "smart"}

	mem := store.NewMemory(events.Discard())
	c, err := client.New(ctx, testCfg, client.Options{Store: mem, Backend: echoBackend{}}, events.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	recs, err := c.Records()
	require.NoError(t, err)
	pid, err := recs.CreatePatient(ctx, models.Patient{Name: "Ana Souza"})
	require.NoError(t, err)

	out := &bytes.Buffer{}
	con := views.NewConsole(out, views.ConsoleOptions{})
	s, err := c.OpenSession(ctx, con)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return &consoleFixture{repl: newREPL(s, con, out), out: out, mem: mem, c: c, pid: pid}
}

func (f *consoleFixture) run(t *testing.T, lines ...string) string {
	t.Helper()
	f.out.Reset()
	require.NoError(t, f.repl.run(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n")))
	return f.out.String()
}

func TestConsoleChatAndSuggestion(t *testing.T) {
	f := newConsoleFixture(t)

	out := f.run(t,
		"view patients",
		"open "+f.pid,
		"send olá doutor",
		"bogus",
		"ask",
	)
	assert.Contains(t, out, "Ana Souza")
	assert.Contains(t, out, "olá doutor")
	assert.Contains(t, out, `unknown command "bogus"`)
	assert.Contains(t, out, "Sugestão (fast): resposta de fast")

	out = f.run(t, "post", "status", "quit", "send never sent")
	assert.Contains(t, out, "Sincronização")

	msgs := f.journal(t, f.pid)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SuggestionPrefix+"resposta de fast", msgs[1].Text)
	assert.Equal(t, models.AuthorDentist, msgs[1].Author)
}

func (f *consoleFixture) patient(t *testing.T, name string) string {
	t.Helper()
	recs, err := f.c.Records()
	require.NoError(t, err)
	id, err := recs.CreatePatient(context.Background(), models.Patient{Name: name})
	require.NoError(t, err)
	return id
}

func (f *consoleFixture) journal(t *testing.T, patientID string) []models.JournalMessage {
	t.Helper()
	snap, err := f.mem.Once(context.Background(), store.Query{Path: f.c.Paths().Journal(patientID)})
	require.NoError(t, err)
	msgs, err := store.DecodeSnapshot[models.JournalMessage](snap)
	require.NoError(t, err)
	return msgs
}

func TestConsoleSuggestionStaysWithItsChat(t *testing.T) {
	f := newConsoleFixture(t)
	bia := f.patient(t, "Bia Lima")

	t.Run("switch through the console", func(t *testing.T) {
		out := f.run(t, "open "+f.pid, "ask")
		require.Contains(t, out, "Sugestão (fast)")

		out = f.run(t, "open "+bia, "post")
		assert.Contains(t, out, "no suggestion to post")
		assert.Empty(t, f.journal(t, bia))
		assert.Empty(t, f.journal(t, f.pid))
	})

	t.Run("chat replaced behind the console", func(t *testing.T) {
		out := f.run(t, "open "+f.pid, "ask")
		require.Contains(t, out, "Sugestão (fast)")

		_, err := f.repl.s.OpenChat(context.Background(), bia)
		require.NoError(t, err)

		out = f.run(t, "post")
		assert.Contains(t, out, "o chat da sugestão foi fechado ou trocado")
		assert.Empty(t, f.journal(t, bia))
		assert.Empty(t, f.journal(t, f.pid))
	})

	t.Run("close forgets the suggestion", func(t *testing.T) {
		f.run(t, "open "+f.pid, "ask")
		out := f.run(t, "close", "open "+f.pid, "post")
		assert.Contains(t, out, "no suggestion to post")
		assert.Empty(t, f.journal(t, f.pid))
	})
}

func TestDescribe(t *testing.T) {
	cfgErr := &models.ConfigurationError{Field: "completion.api_key", Reason: "missing"}
	assert.Equal(t, models.DescribeCompletionFailure(cfgErr), describe(fmt.Errorf("ask: %w", cfgErr)))
	assert.Contains(t, describe(cfgErr), "credencial inválida")
	assert.Equal(t, "o chat da sugestão foi fechado ou trocado", describe(models.ErrStale))
	assert.Equal(t, "boom", describe(errors.New("boom")))
}

func TestConsoleNavigation(t *testing.T) {
	f := newConsoleFixture(t)

	out := f.run(t, "view portal", "tab expenses")
	assert.Contains(t, out, "portal view belongs to patients")

	screen := f.repl.s.State().Screen()
	assert.Equal(t, views.ViewFinancials, screen.View)
	assert.Equal(t, views.TabExpenses, screen.Tab)

	out = f.run(t, "send sem chat", "post", "open")
	assert.Contains(t, out, "no suggestion to post")
	assert.Contains(t, out, "open needs 1 argument(s)")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "****", mask("short"))
	assert.Equal(t, "test****", mask("test-api-key-123"))
}
