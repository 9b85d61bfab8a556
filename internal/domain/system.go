package domain

import (
	"time"
)

type SysConfig struct {
	ID        int64     `json:"id,string"   form:"id"`
	Sort      int       `json:"sort"  form:"sort"`
	Type      string    `gorm:"index" json:"type" form:"type"`
	Name      string    `gorm:"index" json:"name" form:"name"`
	Value     string    `json:"value" form:"value"`
	Remark    string    `json:"remark" form:"remark"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName Specify table name
func (SysConfig) TableName() string {
	return "sys_config"
}

// SysPartner represents a business contact/partner record. It is the glue
// entity read and written by the CRM side; the messaging core only links
// it from contacts and leads.
type SysPartner struct {
	ID        int64     `json:"id,string" form:"id"`
	Name      string    `gorm:"index" json:"name" form:"name"`
	Company   string    `json:"company" form:"company"`
	Email     string    `json:"email" form:"email"`
	Mobile    string    `gorm:"index" json:"mobile" form:"mobile"`
	Phone     string    `gorm:"index" json:"phone" form:"phone"`
	Address   string    `json:"address" form:"address"`
	City      string    `json:"city" form:"city"`
	Country   string    `json:"country" form:"country"`
	Remark    string    `json:"remark" form:"remark"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SysPartner) TableName() string {
	return "sys_partner"
}

// Lead stage values.
const (
	LeadOpen = "open"
	LeadWon  = "won"
	LeadLost = "lost"
)

// CrmLead is the minimal lead entity created by the message pipeline when
// lead-creation-on-message is enabled. The sales side owns everything else
// about it.
type CrmLead struct {
	ID          int64     `json:"id,string" gorm:"primaryKey"`
	Name        string    `json:"name" form:"name"`
	Phone       string    `gorm:"index" json:"phone" form:"phone"`
	Description string    `json:"description" form:"description"`
	Source      string    `gorm:"default:whatsapp" json:"source" form:"source"`
	Stage       string    `gorm:"index;default:open" json:"stage" form:"stage"`
	PartnerId   int64     `gorm:"index" json:"partner_id,string"`
	AccountId   int64     `gorm:"index" json:"account_id,string"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (CrmLead) TableName() string {
	return "crm_lead"
}
