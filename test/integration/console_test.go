//go:build integration
// +build integration

package integration_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/clinicdesk/internal/client"
	"github.com/TheMichaelB/clinicdesk/internal/config"
	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/livesync"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/services/records"
	"github.com/TheMichaelB/clinicdesk/test/testutil"
)

func newClient(t *testing.T, cfg *config.Config, backend *testutil.EchoBackend) *client.Client {
	t.Helper()
	c, err := client.New(context.Background(), cfg, client.Options{Backend: backend}, events.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func kpis(rec *testutil.Recorder) (livesync.KPIs, bool) {
	k, ok := rec.LastAggregate(livesync.Dashboard).(livesync.KPIs)
	return k, ok
}

func TestConsoleOverRemoteStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	dev := testutil.StartDevstore(t)
	cfg := dev.Config(t, "fast", "smart")
	cfg.Auth.UID = "admin"
	cfg.Auth.Email = cfg.App.AdminEmail
	backend := &testutil.EchoBackend{Fail: map[models.Candidate]error{
		"fast": &models.BackendError{StatusCode: 429, Message: "quota"},
	}}
	c := newClient(t, cfg, backend)

	rec := testutil.NewRecorder()
	s, err := c.OpenSession(ctx, rec)
	require.NoError(t, err)
	defer s.Close()

	testutil.Eventually(t, func() bool {
		k, ok := kpis(rec)
		return ok && k.Patients == 0
	}, "initial dashboard")

	recs := s.Records()
	pid, err := recs.CreatePatient(ctx, models.Patient{Name: "Ana Souza", Email: "ana@x.com"})
	require.NoError(t, err)
	amount, err := models.NewMoney("150,00")
	require.NoError(t, err)
	rid, err := recs.CreateReceivable(ctx, records.ReceivableInput{
		PatientID:   pid,
		Description: "Limpeza",
		Amount:      amount,
	})
	require.NoError(t, err)
	require.NoError(t, recs.SettleReceivable(ctx, rid))

	testutil.Eventually(t, func() bool {
		k, ok := kpis(rec)
		return ok && k.Patients == 1 && k.Received.Equal(amount.Decimal)
	}, "dashboard follows writes")

	t.Run("chat with attachment", func(t *testing.T) {
		_, err := s.OpenChat(ctx, pid)
		require.NoError(t, err)

		require.NoError(t, s.Attach("raio-x.png", strings.NewReader("png bytes")))
		msg, err := s.Send(ctx, "")
		require.NoError(t, err)
		require.NotNil(t, msg.Media)
		assert.True(t, strings.HasPrefix(msg.Media.URL, dev.URL+"/files/"), msg.Media.URL)
		assert.Equal(t, "png", msg.Media.Type)

		testutil.Eventually(t, func() bool {
			return len(rec.Last(livesync.Chat)) == 1
		}, "chat rendered")
	})

	t.Run("suggestion falls back", func(t *testing.T) {
		comp, err := s.Suggest(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.Candidate("smart"), comp.Candidate)
		assert.Len(t, comp.Attempts, 1)
	})

	t.Run("portal draft reviewed by dentist", func(t *testing.T) {
		p, err := c.OpenPortal(ctx, "ana@x.com", nil)
		require.NoError(t, err)
		defer p.Close()

		res, err := p.Send(ctx, "Posso remarcar?")
		require.NoError(t, err)
		require.NotNil(t, res.Draft, "review is the default policy")

		testutil.Eventually(t, func() bool {
			return len(rec.Last(livesync.ReplyDrafts)) == 1
		}, "draft shown to the dentist")

		_, err = s.ApproveDraft(ctx, res.Draft.ID, "")
		require.NoError(t, err)
		testutil.Eventually(t, func() bool {
			return len(rec.Last(livesync.ReplyDrafts)) == 0 && len(rec.Last(livesync.Chat)) == 3
		}, "draft approved into the chat")
	})

	t.Run("stream drop recovers", func(t *testing.T) {
		require.Greater(t, dev.Server.DropStreams(), 0)
		_, err := recs.CreatePatient(ctx, models.Patient{Name: "Bruno"})
		require.NoError(t, err)

		testutil.Eventually(t, func() bool {
			k, ok := kpis(rec)
			return ok && k.Patients == 2
		}, "dashboard after reconnect")
	})
}
