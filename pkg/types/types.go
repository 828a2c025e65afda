package types

import (
	"encoding/json"
	"time"
)

// Branch types recognised by the scope resolver
const (
	BranchTypeHeadOffice = "HeadOffice"
	BranchTypeBranch     = "Branch"
)

// SenderType identifies which side of a lead conversation wrote a message
type SenderType string

const (
	SenderLead    SenderType = "LEAD"
	SenderAgent   SenderType = "AGENT"
	SenderPartner SenderType = "PARTNER"
)

// Kind is the closed set of principal personas on the chat gateway.
// It is resolved once when the token is verified and never re-derived.
type Kind int

const (
	KindLead Kind = iota
	KindAgent
	KindPartner
)

func (k Kind) String() string {
	switch k {
	case KindAgent:
		return "agent"
	case KindPartner:
		return "partner"
	default:
		return "lead"
	}
}

// Principal is the authenticated actor rebuilt from a verified token.
// ARCHITECTURAL DISCOVERY: never persisted; BranchID is empty when the
// token carries no branch, which the scope resolver treats as "no access"
type Principal struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Type       string `json:"type,omitempty"`
	BranchID   string `json:"branch_id,omitempty"`
	BranchType string `json:"branch_type,omitempty"`
	Kind       Kind   `json:"-"`
}

// IsLead reports whether the principal is a lead/student persona
func (p *Principal) IsLead() bool { return p.Kind == KindLead }

// Message is a stored chat message. A room is keyed by LeadID.
// FUNCTIONAL DISCOVERY: AGENT rows carry AgentID, PARTNER rows carry PartnerID,
// LEAD rows carry neither
type Message struct {
	ID         string     `json:"id" db:"id"`
	LeadID     string     `json:"lead_id" db:"lead_id"`
	PartnerID  *string    `json:"partner_id" db:"partner_id"`
	AgentID    *string    `json:"agent_id" db:"agent_id"`
	SenderType SenderType `json:"sender_type" db:"sender_type"`
	Body       string     `json:"message" db:"message"`
	IsRead     bool       `json:"is_read" db:"is_read"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// NewMessage is the insert contract consumed by the message store
type NewMessage struct {
	SenderID   string
	SenderType SenderType
	LeadID     string
	Body       string
}

// Lead is a prospective student owned by a branch
type Lead struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Phone     string    `json:"phone" db:"phone"`
	BranchID  string    `json:"branch_id" db:"branch_id"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Followup is a scheduled contact with a lead, scoped to the lead's branch
type Followup struct {
	ID        string    `json:"id" db:"id"`
	LeadID    string    `json:"lead_id" db:"lead_id"`
	BranchID  string    `json:"branch_id" db:"branch_id"`
	Note      string    `json:"note" db:"note"`
	DueAt     time.Time `json:"due_at" db:"due_at"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// User is a login account. Leads, agents and partners all authenticate as users.
type User struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	UserType     string    `json:"user_type" db:"user_type"`
	BranchID     *string   `json:"branch_id" db:"branch_id"`
	BranchType   string    `json:"branch_type" db:"branch_type"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Principal projects the account onto the token principal shape
func (u *User) Principal() Principal {
	p := Principal{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		Type:       u.UserType,
		BranchType: u.BranchType,
	}
	if u.BranchID != nil {
		p.BranchID = *u.BranchID
	}
	p.Kind = ResolveKind(p.Role, p.Type)
	return p
}

// Gateway event names on the /chat socket
const (
	EventJoinRoom       = "join_room"
	EventSendMessage    = "send_message"
	EventTyping         = "typing"
	EventMarkRead       = "mark_read"
	EventReceiveMessage = "receive_message"
	EventUserTyping     = "user_typing"
	EventAck            = "ack"
	EventError          = "error"
)

// Frame is a client to server socket frame
type Frame struct {
	Event string          `json:"event"`
	AckID string          `json:"ack_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomPayload carries the room key for join_room and mark_read
type RoomPayload struct {
	LeadID string `json:"lead_id"`
}

// SendMessagePayload is the send_message body
type SendMessagePayload struct {
	LeadID  string `json:"lead_id"`
	Message string `json:"message"`
}

// TypingPayload is the typing body
type TypingPayload struct {
	LeadID   string `json:"lead_id"`
	IsTyping bool   `json:"isTyping"`
}

// TypingNotice is broadcast to the room, excluding the typist
type TypingNotice struct {
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

// Outbound is a server to client push
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Result is the outcome of one socket event handler.
// ARCHITECTURAL DISCOVERY: every handler returns Ok or Err so failures are
// observable to the caller instead of disappearing in the read loop
type Result struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Ok wraps a successful payload
func Ok(data any) *Result { return &Result{OK: true, Data: data} }

// Err wraps a failure reason
func Err(err error) *Result { return &Result{OK: false, Error: err.Error()} }

// Ack is the direct reply to a client frame
type Ack struct {
	Event string `json:"event"`
	AckID string `json:"ack_id,omitempty"`
	*Result
}
