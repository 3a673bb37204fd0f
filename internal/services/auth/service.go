// Package auth keeps the signed-in identity between runs.
//
// Authentication itself happens outside clinicdesk; this package stores
// the resulting identity and token, hands the token to the transports,
// and forgets both on sign-out.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheMichaelB/clinicdesk/internal/creds"
	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
)

// Token is a signed-in identity.
type Token struct {
	UID        string    `json:"uid"`
	Email      string    `json:"email"`
	Token      string    `json:"token"`
	SignedInAt time.Time `json:"signed_in_at"`
}

// TokenSetter receives the active token.
type TokenSetter interface {
	SetToken(token string)
}

// Service handles sign-in state.
type Service struct {
	transport TokenSetter
	logger    *events.Logger

	token     *Token
	tokenFile string

	// Combined credentials (optional)
	creds *creds.Combined
}

// NewService creates an auth service. transport may be nil.
func NewService(transport TokenSetter, tokenFile string, logger *events.Logger) *Service {
	return &Service{
		transport: transport,
		tokenFile: tokenFile,
		logger:    logger.WithField("service", "auth"),
	}
}

// SetCredentials sets the combined credentials used to fill missing
// sign-in fields.
func (s *Service) SetCredentials(c *creds.Combined) {
	s.creds = c
}

// SignIn records uid and email as the signed-in user and saves them.
func (s *Service) SignIn(uid, email, token string) (*Token, error) {
	if s.creds != nil {
		if uid == "" {
			uid = s.creds.Auth.UID
		}
		if email == "" {
			email = s.creds.Auth.Email
		}
		if token == "" {
			token = s.creds.Auth.Token
		}
	}

	uid = strings.TrimSpace(uid)
	email = strings.TrimSpace(email)
	if uid == "" {
		return nil, &models.ValidationError{Field: "uid", Reason: "required"}
	}
	if email == "" {
		return nil, &models.ValidationError{Field: "email", Reason: "required"}
	}

	s.token = &Token{UID: uid, Email: email, Token: token, SignedInAt: time.Now().UTC()}
	s.apply()

	if err := s.saveToken(); err != nil {
		s.logger.WithError(err).Warn("Failed to save token")
	}

	s.logger.WithField("email", email).Info("Signed in")
	return s.token, nil
}

// Current returns the signed-in identity, from memory or the token file.
func (s *Service) Current() (*Token, error) {
	if s.token != nil {
		return s.token, nil
	}

	if err := s.loadToken(); err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).Debug("No usable token file")
		}
		return nil, models.ErrNoSession
	}
	s.apply()
	return s.token, nil
}

// SignOut forgets the identity and removes the token file.
func (s *Service) SignOut() error {
	s.logger.Info("Signing out")

	s.token = nil
	if s.transport != nil {
		s.transport.SetToken("")
	}

	if s.tokenFile != "" {
		if err := os.Remove(s.tokenFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove token file: %w", err)
		}
	}
	return nil
}

func (s *Service) apply() {
	if s.transport != nil && s.token != nil {
		s.transport.SetToken(s.token.Token)
	}
}

// Token persistence

func (s *Service) saveToken() error {
	if s.tokenFile == "" || s.token == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.tokenFile), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	data, err := json.Marshal(s.token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	// Save with restricted permissions
	return os.WriteFile(s.tokenFile, data, 0600)
}

func (s *Service) loadToken() error {
	if s.tokenFile == "" {
		return os.ErrNotExist
	}

	data, err := os.ReadFile(s.tokenFile)
	if err != nil {
		return err
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if token.UID == "" {
		return fmt.Errorf("token file has no uid")
	}

	s.token = &token
	return nil
}
