// Package client assembles the store, completion, upload and auth layers
// from configuration.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMichaelB/clinicdesk/internal/blob"
	"github.com/TheMichaelB/clinicdesk/internal/completion"
	"github.com/TheMichaelB/clinicdesk/internal/config"
	"github.com/TheMichaelB/clinicdesk/internal/creds"
	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/livesync"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/services/auth"
	"github.com/TheMichaelB/clinicdesk/internal/services/journal"
	"github.com/TheMichaelB/clinicdesk/internal/services/records"
	"github.com/TheMichaelB/clinicdesk/internal/services/session"
	"github.com/TheMichaelB/clinicdesk/internal/store"
	"github.com/TheMichaelB/clinicdesk/internal/transport"
)

// tokenSinks hands the signed-in token to every transport.
type tokenSinks []auth.TokenSetter

func (t tokenSinks) SetToken(token string) {
	for _, s := range t {
		s.SetToken(token)
	}
}

// Client provides the high-level API for clinicdesk operations.
type Client struct {
	Auth     *auth.Service
	Store    store.Store
	Gateway  *completion.Gateway
	Uploader blob.Uploader

	config *config.Config
	paths  models.Paths
	logger *events.Logger
}

// Options override parts of the assembly.
type Options struct {
	// Store replaces the remote store, for tests and the embedded emulator.
	Store store.Store
	// Backend replaces the generative backend.
	Backend completion.Backend
	// Uploader replaces the configured uploader.
	Uploader blob.Uploader
}

// New creates a client. Credentials from cfg.Auth.CredentialsFile fill
// settings left empty in cfg.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *events.Logger) (*Client, error) {
	var combined *creds.Combined
	if cfg.Auth.CredentialsFile != "" {
		c, err := creds.Load(ctx, cfg.Auth.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		c.Apply(cfg)
		combined = c
	}

	// Create transport
	httpClient := transport.NewHTTPClient(transport.Options{
		BaseURL:    cfg.Store.URL,
		Timeout:    cfg.Store.Timeout,
		MaxRetries: cfg.Store.MaxRetries,
		UserAgent:  cfg.Store.UserAgent,
	}, logger)

	sinks := tokenSinks{httpClient}
	st := opts.Store
	if st == nil {
		remote := store.NewRemote(store.RemoteOptions{
			URL:          cfg.Store.URL,
			Token:        cfg.Auth.Token,
			PingInterval: cfg.Store.HeartbeatInterval,
			PongTimeout:  cfg.Store.PongTimeout,
		}, httpClient, logger)
		sinks = append(sinks, remote)
		st = remote
	}

	authService := auth.NewService(sinks, cfg.Auth.TokenFile, logger)
	if combined != nil {
		authService.SetCredentials(combined)
	}
	if cfg.Auth.UID != "" {
		if _, err := authService.SignIn(cfg.Auth.UID, cfg.Auth.Email, cfg.Auth.Token); err != nil {
			return nil, err
		}
	} else if _, err := authService.Current(); err != nil {
		logger.Debug("Not signed in")
	}

	backend := opts.Backend
	if backend == nil {
		// No retry: the next candidate is the retry.
		backend = completion.NewGenerativeBackend(transport.NewHTTPClient(transport.Options{
			Timeout:   cfg.Completion.Timeout,
			UserAgent: cfg.Store.UserAgent,
		}, logger), cfg.Completion.BaseURL)
	}

	uploader := opts.Uploader
	if uploader == nil {
		u, err := blob.New(ctx, &cfg.Blob, logger)
		if err != nil {
			// Attachments fail with a configuration error; the rest works.
			logger.WithError(err).Warn("Attachment uploads disabled")
		} else {
			uploader = u
		}
	}

	return &Client{
		Auth:     authService,
		Store:    st,
		Gateway:  completion.NewGateway(backend, cfg.Completion.APIKey, logger),
		Uploader: uploader,
		config:   cfg,
		paths:    models.Paths{AppID: cfg.App.ID},
		logger:   logger,
	}, nil
}

// Paths returns the store layout of the configured application.
func (c *Client) Paths() models.Paths {
	return c.paths
}

// Candidates returns the configured models in fallback order.
func (c *Client) Candidates() []models.Candidate {
	return models.Candidates(c.config.Completion.Models)
}

// SessionOptions builds session options from configuration.
func (c *Client) SessionOptions(renderer livesync.Renderer) session.Options {
	return session.Options{
		Paths:       c.paths,
		AdminEmail:  c.config.App.AdminEmail,
		ChatLimit:   c.config.Assistant.ChatLimit,
		EventBuffer: c.config.Sync.EventBuffer,
		Renderer:    renderer,
		Journal: journal.Options{
			Candidates:   c.Candidates(),
			AutoReply:    c.config.Assistant.AutoReply,
			HistoryLimit: c.config.Assistant.HistoryLimit,
		},
		Uploader:  c.Uploader,
		Completer: c.Gateway,
	}
}

// OpenSession opens the signed-in dentist's session. A rejected profile
// signs the user out.
func (c *Client) OpenSession(ctx context.Context, renderer livesync.Renderer) (*session.Session, error) {
	token, err := c.Auth.Current()
	if err != nil {
		return nil, err
	}

	s, err := session.Open(ctx, c.Store, session.Identity{UID: token.UID, Email: token.Email}, c.SessionOptions(renderer), c.logger)
	if err != nil {
		var perm *models.PermissionError
		if errors.As(err, &perm) {
			if serr := c.Auth.SignOut(); serr != nil {
				c.logger.WithError(serr).Warn("Sign-out failed")
			}
		}
		return nil, err
	}
	return s, nil
}

// OpenPortal opens a patient's portal.
func (c *Client) OpenPortal(ctx context.Context, email string, renderer livesync.Renderer) (*session.Portal, error) {
	return session.OpenPortal(ctx, c.Store, email, c.SessionOptions(renderer), c.logger)
}

// Records returns the records service of the signed-in dentist.
func (c *Client) Records() (*records.Service, error) {
	token, err := c.Auth.Current()
	if err != nil {
		return nil, err
	}
	return records.NewService(c.Store, c.paths, token.UID, c.logger), nil
}

// Journal returns a journal service for one-shot commands.
func (c *Client) Journal() *journal.Service {
	opts := c.SessionOptions(nil)
	return journal.NewService(c.Store, c.Uploader, c.Gateway, c.paths, opts.Journal, c.logger)
}

// Close releases the store connection.
func (c *Client) Close() error {
	return c.Store.Close()
}
