package domain

import "time"

// Contact status values.
const (
	ContactActive  = "active"
	ContactBlocked = "blocked"
	ContactDeleted = "deleted"
)

// WhatsAppContact is one roster entry, unique per (account, phone number).
// The phone number is canonicalized on every write.
type WhatsAppContact struct {
	ID          int64  `json:"id,string" gorm:"primaryKey"`
	AccountId   int64  `gorm:"uniqueIndex:idx_contact_account_phone" json:"account_id,string"`
	PhoneNumber string `gorm:"uniqueIndex:idx_contact_account_phone" json:"phone_number" form:"phone_number"`

	Name          string `gorm:"index" json:"name" form:"name"`
	DisplayName   string `json:"display_name" form:"display_name"`
	PushName      string `json:"push_name"`
	WaId          string `json:"wa_id"`
	ProfilePicUrl string `json:"profile_pic_url"`
	About         string `json:"about"`

	IsBusiness int    `json:"is_business"`
	IsContact  int    `gorm:"default:1" json:"is_contact"`
	IsBlocked  int    `json:"is_blocked"`
	Status     string `gorm:"default:active" json:"status"`

	PartnerId int64 `gorm:"index" json:"partner_id,string"`

	MessagesSent     int64      `json:"messages_sent"`
	MessagesReceived int64      `json:"messages_received"`
	LastSeen         *time.Time `json:"last_seen"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WhatsAppContact) TableName() string {
	return "whatsapp_contact"
}

// Group status values.
const (
	GroupActive = "active"
	GroupLeft   = "left"
)

// WhatsAppGroup is one group chat, unique per (account, group id). The
// member roster is a child collection fully replaced on each sync.
type WhatsAppGroup struct {
	ID        int64  `json:"id,string" gorm:"primaryKey"`
	AccountId int64  `gorm:"uniqueIndex:idx_group_account_gid" json:"account_id,string"`
	GroupId   string `gorm:"uniqueIndex:idx_group_account_gid" json:"group_id"`

	Name        string `gorm:"index" json:"name" form:"name"`
	Description string `json:"description" form:"description"`
	WaGroupId   string `json:"wa_group_id"`

	IsMember    int    `gorm:"default:1" json:"is_member"`
	IsAdmin     int    `json:"is_admin"`
	MemberCount int    `json:"member_count"`
	Status      string `gorm:"default:active" json:"status"`

	JoinedDate   *time.Time `json:"joined_date"`
	LeftDate     *time.Time `json:"left_date"`
	LastActivity *time.Time `json:"last_activity"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WhatsAppGroup) TableName() string {
	return "whatsapp_group"
}

// WhatsAppGroupMember is one roster row, unique per (group, phone number).
// Rows are not preserved across syncs; only the key survives.
type WhatsAppGroupMember struct {
	ID          int64  `json:"id,string" gorm:"primaryKey"`
	GroupId     int64  `gorm:"uniqueIndex:idx_member_group_phone" json:"group_id,string"`
	PhoneNumber string `gorm:"uniqueIndex:idx_member_group_phone" json:"phone_number"`

	Name      string     `json:"name"`
	ContactId int64      `gorm:"index" json:"contact_id,string"`
	IsAdmin   int        `json:"is_admin"`
	IsOwner   int        `json:"is_owner"`
	JoinedAt  *time.Time `json:"joined_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WhatsAppGroupMember) TableName() string {
	return "whatsapp_group_member"
}
