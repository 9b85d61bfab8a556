package domain

import "time"

// Account connection status values.
const (
	AccountDisconnected  = "disconnected"
	AccountConnecting    = "connecting"
	AccountQRCode        = "qr_code"
	AccountAuthenticated = "authenticated"
	AccountReady         = "ready"
	AccountError         = "error"
	AccountMaintenance   = "maintenance"
)

// Agent process status values. Independent from the connection status: a
// running process is necessary but not sufficient for AccountReady.
const (
	ProcessStopped  = "stopped"
	ProcessStarting = "starting"
	ProcessRunning  = "running"
	ProcessStopping = "stopping"
	ProcessError    = "error"
)

// WhatsAppAccount owns one agent session. Created by an operator; mutated
// by the session manager and the message pipeline. Never deleted while
// referenced by messages, only deactivated.
type WhatsAppAccount struct {
	ID          int64  `json:"id,string" gorm:"primaryKey"`
	Name        string `gorm:"index" json:"name" form:"name"`
	PhoneNumber string `gorm:"uniqueIndex" json:"phone_number" form:"phone_number"`
	CountryCode string `json:"country_code" form:"country_code"`
	DisplayName string `json:"display_name" form:"display_name"`
	About       string `json:"about" form:"about"`

	Status      string `gorm:"index;default:disconnected" json:"status"`
	QrCode      string `json:"qr_code"`
	QrCodeImage []byte `json:"qr_code_image,omitempty"`
	SessionData string `json:"-"`
	SessionName string `gorm:"uniqueIndex" json:"session_name"`

	Active                int    `gorm:"default:1" json:"active" form:"active"`
	AutoReply             int    `json:"auto_reply" form:"auto_reply"`
	AutoReplyMessage      string `json:"auto_reply_message" form:"auto_reply_message"`
	CreateLeadFromMessage int    `json:"create_lead_from_message" form:"create_lead_from_message"`

	WebhookUrl    string `json:"webhook_url" form:"webhook_url"`
	WebhookSecret string `json:"-" form:"webhook_secret"`
	ApiEndpoint   string `json:"api_endpoint" form:"api_endpoint"`
	ApiKey        string `json:"-" form:"api_key"`

	MessagesSent     int64      `json:"messages_sent"`
	MessagesReceived int64      `json:"messages_received"`
	LastSeen         *time.Time `json:"last_seen"`

	ProcessId     int    `json:"process_id"`
	ProcessStatus string `gorm:"default:stopped" json:"process_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WhatsAppAccount) TableName() string {
	return "whatsapp_account"
}

// IsActive reports whether the account participates in health checks and
// webhook processing.
func (a *WhatsAppAccount) IsActive() bool {
	return a.Active == 1
}
