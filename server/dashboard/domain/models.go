package domain

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	TypeConversation       = "conversation"
	TypeImage              = "imageMessage"
	TypeAudio              = "audioMessage"
	TypeDocument           = "documentMessage"
	TypeSticker            = "stickerMessage"
	TypeVideo              = "videoMessage"
	TypeReaction           = "reactionMessage"
	TypeSystemTransfer     = "system_transfer"
	TypeSystemNotification = "system_notification"
)

// MaxContactTags bounds Contact.TagIDs.
const MaxContactTags = 5

type Reaction struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// Message is one row of either the received or the sent stream. IsOutbound is
// stored as the string flag "minha?" and only converted at the JSON boundary.
type Message struct {
	ID               string     `json:"id"`
	IDMessage        string     `json:"idmessage"`
	Numero           string     `json:"numero"`
	Sender           string     `json:"sender"`
	Body             string     `json:"message"`
	Type             string     `json:"tipomessage"`
	Caption          string     `json:"caption"`
	Base64           string     `json:"base64"`
	Mimetype         string     `json:"mimetype"`
	Timestamp        string     `json:"timestamp"`
	DateTime         string     `json:"date_time"`
	CreatedAt        string     `json:"created_at"`
	IsOutbound       bool       `json:"-"`
	DepartmentID     string     `json:"department_id"`
	SectorID         string     `json:"sector_id"`
	TagID            string     `json:"tag_id"`
	CompanyID        string     `json:"company_id"`
	Instancia        string     `json:"instancia"`
	ApiKeyInstancia  string     `json:"apikey_instancia"`
	ReactionTargetID string     `json:"reaction_target_id"`
	Reactions        []Reaction `json:"reactions"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	return json.Marshal(struct {
		plain
		Minha string `json:"minha?"`
	}{plain: plain(m), Minha: FormatOutboundFlag(m.IsOutbound)})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var raw struct {
		plain
		Minha any `json:"minha?"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.plain)
	switch v := raw.Minha.(type) {
	case string:
		m.IsOutbound = ParseOutboundFlag(v)
	case bool:
		m.IsOutbound = v
	}
	return nil
}

// ParseOutboundFlag converts the stored "minha?" column into a boolean.
func ParseOutboundFlag(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

func FormatOutboundFlag(outbound bool) string {
	if outbound {
		return "true"
	}
	return "false"
}

// Phone returns the raw phone the message is keyed by, numero first.
func (m Message) Phone() string {
	if strings.TrimSpace(m.Numero) != "" {
		return m.Numero
	}
	return m.Sender
}

func (m Message) IsSystem() bool {
	return strings.HasPrefix(m.Type, "system_")
}

func (m Message) IsReaction() bool {
	return m.Type == TypeReaction
}

// Key identifies a message inside the local store. The two streams assign ids
// independently, so the direction is part of the key.
func (m Message) Key() string {
	if m.IsOutbound {
		return "sent:" + m.ID
	}
	return "received:" + m.ID
}

type Contact struct {
	ID              string    `json:"id"`
	CompanyID       string    `json:"company_id"`
	PhoneNumber     string    `json:"phone_number"`
	Name            string    `json:"name"`
	DepartmentID    string    `json:"department_id"`
	SectorID        string    `json:"sector_id"`
	TagIDs          []string  `json:"tag_ids"`
	IAAtivada       bool      `json:"ia_ativada"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime string    `json:"last_message_time"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ContactView is the derived dashboard row for one contact. It is recomputed
// on every change of its inputs and never persisted.
type ContactView struct {
	PhoneNumber     string    `json:"phoneNumber"`
	Name            string    `json:"name"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime string    `json:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount"`
	Messages        []Message `json:"messages"`
	DepartmentID    string    `json:"department_id"`
	SectorID        string    `json:"sector_id"`
	TagIDs          []string  `json:"tag_ids"`
	ContactDBID     string    `json:"contact_db_id"`
}

// TransferRecord is an append-only history entry. An empty FromDepartmentID
// means the contact came from reception.
type TransferRecord struct {
	ID               string    `json:"id"`
	CompanyID        string    `json:"company_id"`
	ContactID        string    `json:"contact_id"`
	FromDepartmentID string    `json:"from_department_id"`
	ToDepartmentID   string    `json:"to_department_id"`
	CreatedAt        time.Time `json:"created_at"`
}

type Department struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
}

type Sector struct {
	ID           string `json:"id"`
	DepartmentID string `json:"department_id"`
	Name         string `json:"name"`
}

type Company struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	APIKey string `json:"-"`
}
