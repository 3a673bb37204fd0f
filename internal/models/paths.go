package models

import (
	"path"
	"strings"
)

// Paths builds remote store paths under one application tree.
type Paths struct {
	AppID string
}

func (p Paths) root() string {
	return "artifacts/" + p.AppID
}

// Users is the parent of every dentist's tree.
func (p Paths) Users() string {
	return p.root() + "/users"
}

// Admin returns a path inside a dentist's tree.
func (p Paths) Admin(uid string, rel ...string) string {
	return JoinPath(append([]string{p.Users(), uid}, rel...)...)
}

func (p Paths) Profile(uid string) string { return p.Admin(uid, "profile") }

func (p Paths) Patients(uid string) string { return p.Admin(uid, "patients") }

func (p Paths) Patient(uid, id string) string { return p.Admin(uid, "patients", id) }

func (p Paths) Stock(uid string) string { return p.Admin(uid, "stock") }

func (p Paths) Receivables(uid string) string { return p.Admin(uid, "finance", "receivable") }

func (p Paths) Expenses(uid string) string { return p.Admin(uid, "finance", "expenses") }

func (p Paths) Materials(uid, receivableID string) string {
	return p.Admin(uid, "finance", "receivable", receivableID, "materials")
}

func (p Paths) PurchasedItems(uid, expenseID string) string {
	return p.Admin(uid, "finance", "expenses", expenseID, "purchasedItems")
}

func (p Paths) Directives(uid string) string { return p.Admin(uid, "aiConfig", "directives") }

// Journal is shared by the dentist console and the patient portal.
func (p Paths) Journal(patientID string) string {
	return JoinPath(p.root(), "patients", patientID, "journal")
}

// ReplyDrafts hold assistant replies awaiting review.
func (p Paths) ReplyDrafts(patientID string) string {
	return JoinPath(p.root(), "patients", patientID, "replyDrafts")
}

// JoinPath joins store path segments, dropping empty ones and surrounding slashes.
func JoinPath(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.Trim(s, "/"); s != "" {
			clean = append(clean, s)
		}
	}
	return path.Clean(strings.Join(clean, "/"))
}

// SplitPath returns the non-empty segments of a store path.
func SplitPath(p string) []string {
	if p = strings.Trim(p, "/"); p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}
