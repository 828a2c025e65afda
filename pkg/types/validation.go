package types

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength bounds a chat message body in characters
const MaxMessageLength = 5000

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ResolveKind maps raw token role/type claims onto the closed Kind set.
// An agent type or role wins; a missing role or a lead/student label is a
// lead; every other label is a partner sub-role.
func ResolveKind(role, userType string) Kind {
	r := strings.ToLower(strings.TrimSpace(role))
	t := strings.ToLower(strings.TrimSpace(userType))

	if t == "agent" || r == "agent" {
		return KindAgent
	}
	if t == "lead" || t == "student" {
		return KindLead
	}
	if r == "" || strings.Contains(r, "lead") || strings.Contains(r, "student") {
		return KindLead
	}
	return KindPartner
}

// SenderTypeFor maps a principal to the sender column of a stored message
func SenderTypeFor(p *Principal) SenderType {
	switch p.Kind {
	case KindAgent:
		return SenderAgent
	case KindPartner:
		return SenderPartner
	default:
		return SenderLead
	}
}

// ReaderTypeFor maps a principal to the reader side recorded by mark_read
func ReaderTypeFor(p *Principal) SenderType {
	if p.IsLead() {
		return SenderLead
	}
	return SenderPartner
}

// IsValidID checks identifier format for rooms, leads and users
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// NormalizeBody trims a message body and enforces its length bounds
func NormalizeBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return body, nil
}

// Validate checks the message invariant between sender type and sender columns
func (m *NewMessage) Validate() error {
	if !IsValidID(m.LeadID) {
		return ErrInvalidID
	}
	if m.SenderType != SenderLead && m.SenderID == "" {
		return ErrInvalidID
	}
	_, err := NormalizeBody(m.Body)
	return err
}

// Validate ensures a lead can be persisted
func (l *Lead) Validate() error {
	if n := utf8.RuneCountInString(strings.TrimSpace(l.Name)); n < 1 || n > 200 {
		return ErrInvalidLeadName
	}
	if l.Email != "" {
		if _, err := mail.ParseAddress(l.Email); err != nil {
			return ErrInvalidEmail
		}
	}
	if l.BranchID == "" {
		return ErrMissingBranch
	}
	return nil
}

// Validate ensures a followup can be persisted
func (f *Followup) Validate() error {
	if strings.TrimSpace(f.Note) == "" {
		return ErrEmptyNote
	}
	if !IsValidID(f.LeadID) {
		return ErrInvalidID
	}
	return nil
}
