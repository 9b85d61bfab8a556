package domain

import (
	"strings"
	"time"
)

// Message direction values.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Message status values. Pending/sent/delivered/read advance forward only;
// failed and error are terminal.
const (
	MessagePending   = "pending"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
	MessageFailed    = "failed"
	MessageError     = "error"
)

// Message type values as reported by the agent.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeAudio    = "audio"
	TypeVoice    = "voice"
	TypeDocument = "document"
	TypeSticker  = "sticker"
	TypeLocation = "location"
	TypeContact  = "contact"
	TypePoll     = "poll"
	TypeReaction = "reaction"
	TypeSystem   = "system"
)

// IsMediaType reports whether the message type carries a media payload.
func IsMediaType(t string) bool {
	switch t {
	case TypeImage, TypeVideo, TypeAudio, TypeVoice, TypeDocument, TypeSticker:
		return true
	}
	return false
}

// WhatsAppMessage is the immutable record of one inbound or outbound unit.
// MessageId is the agent-assigned idempotency key; content never changes
// after creation, only status and downstream links are updated.
type WhatsAppMessage struct {
	ID          int64  `json:"id,string" gorm:"primaryKey"`
	MessageId   string `gorm:"uniqueIndex" json:"message_id"`
	WaMessageId string `gorm:"index" json:"wa_message_id"`

	AccountId int64 `gorm:"index;not null" json:"account_id,string"`
	ContactId int64 `gorm:"index" json:"contact_id,string"`
	GroupId   int64 `gorm:"index" json:"group_id,string"`

	Message     string `json:"message"`
	MessageType string `gorm:"default:text" json:"message_type"`
	Direction   string `gorm:"index" json:"direction"`
	Status      string `gorm:"index;default:pending" json:"status"`

	FromNumber string `gorm:"index" json:"from_number"`
	FromName   string `json:"from_name"`
	ToNumber   string `gorm:"index" json:"to_number"`
	ToName     string `json:"to_name"`

	Timestamp     time.Time  `gorm:"index" json:"timestamp"`
	SentDate      *time.Time `json:"sent_date"`
	DeliveredDate *time.Time `json:"delivered_date"`
	ReadDate      *time.Time `json:"read_date"`

	MediaUrl  string `json:"media_url"`
	MediaType string `json:"media_type"`
	MediaSize int64  `json:"media_size"`

	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	LocationName string  `json:"location_name"`

	// Back-references point only to earlier messages.
	ReplyToMessageId     int64  `json:"reply_to_message_id,string"`
	ForwardFromMessageId int64  `json:"forward_from_message_id,string"`
	ReactionToMessageId  int64  `json:"reaction_to_message_id,string"`
	ReactionEmoji        string `json:"reaction_emoji"`
	SystemMessageType    string `json:"system_message_type"`

	PartnerId  int64 `gorm:"index" json:"partner_id,string"`
	LeadId     int64 `gorm:"index" json:"lead_id,string"`
	TemplateId int64 `json:"template_id,string"`

	IsAutoReply  int    `json:"is_auto_reply"`
	ErrorMessage string `json:"error_message"`
	RawData      string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WhatsAppMessage) TableName() string {
	return "whatsapp_message"
}

// BulkJob status values.
const (
	BulkScheduled = "scheduled"
	BulkRunning   = "running"
	BulkCompleted = "completed"
)

// WhatsAppBulkJob is one invocation of the paced multi-recipient send loop.
// Per-recipient failures are logged, not modeled; the counters are the
// authoritative result.
type WhatsAppBulkJob struct {
	ID          int64  `json:"id,string" gorm:"primaryKey"`
	AccountId   int64  `gorm:"index" json:"account_id,string"`
	Message     string `json:"message"`
	MessageType string `gorm:"default:text" json:"message_type"`
	TemplateId  int64  `json:"template_id,string"`

	TotalRecipients int `json:"total_recipients"`
	SuccessCount    int `json:"success_count"`
	ErrorCount      int `json:"error_count"`

	DelaySeconds int    `json:"delay_seconds"`
	Personalize  int    `json:"personalize"`
	Status       string `gorm:"index;default:running" json:"status"`

	// RecipientData holds the resolved recipient list as JSON for
	// scheduled jobs executed later by the cron runner.
	RecipientData string     `json:"-"`
	ScheduleAt    *time.Time `gorm:"index" json:"schedule_at"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (WhatsAppBulkJob) TableName() string {
	return "whatsapp_bulk_job"
}

// WhatsAppTemplate is named message content with {{variable}} placeholders.
// Rendering is pure substitution, no control flow.
type WhatsAppTemplate struct {
	ID           int64     `json:"id,string" gorm:"primaryKey"`
	Name         string    `gorm:"index" json:"name" form:"name"`
	Code         string    `gorm:"uniqueIndex" json:"code" form:"code"`
	Content      string    `json:"content" form:"content"`
	TemplateType string    `gorm:"default:text" json:"template_type" form:"template_type"`
	Variables    string    `json:"variables" form:"variables"`
	Active       int       `gorm:"default:1" json:"active" form:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (WhatsAppTemplate) TableName() string {
	return "whatsapp_template"
}

// Render substitutes {{name}} placeholders with the given values.
// Unresolved placeholders are left verbatim.
func (t *WhatsAppTemplate) Render(vars map[string]string) string {
	return RenderPlaceholders(t.Content, vars)
}

// RenderPlaceholders is the shared substitution used by templates and
// bulk-send personalization.
func RenderPlaceholders(content string, vars map[string]string) string {
	for name, value := range vars {
		content = strings.ReplaceAll(content, "{{"+name+"}}", value)
	}
	return content
}
