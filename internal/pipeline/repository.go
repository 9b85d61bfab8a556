package pipeline

import (
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/pkg/common"
	"gorm.io/gorm"
)

// ErrDuplicateMessage marks an idempotency hit: the message id was already
// persisted, the delivery is a no-op.
var ErrDuplicateMessage = errors.New("duplicate message id")

// Repository is the persistence surface of the message pipeline.
type Repository interface {
	CreateMessage(msg *domain.WhatsAppMessage) error
	CreateOutboundMessage(account *domain.WhatsAppAccount, contact *domain.WhatsAppContact, msg *domain.WhatsAppMessage) error
	FindMessageByMessageId(accountId int64, messageId string) (*domain.WhatsAppMessage, error)
	AdvanceMessageStatus(accountId int64, messageId, status string, at time.Time) error

	FindOrCreateContact(accountId int64, phone, name string) (*domain.WhatsAppContact, error)
	FindGroup(accountId int64, groupId string) (*domain.WhatsAppGroup, error)

	BumpReceived(account *domain.WhatsAppAccount, contact *domain.WhatsAppContact, at time.Time) error

	RecentAutoReply(accountId int64, toNumber string, since time.Time) (bool, error)

	FindPartnerByPhone(phone string) (*domain.SysPartner, error)
	FindOpenLeadByPhone(phone string) (*domain.CrmLead, error)
	CreateLead(lead *domain.CrmLead) error
}

// GormRepository implements Repository on GORM.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// CreateMessage inserts a message row. A unique violation on the message
// id collapses into ErrDuplicateMessage.
func (r *GormRepository) CreateMessage(msg *domain.WhatsAppMessage) error {
	if msg.ID == 0 {
		msg.ID = common.UUIDint64()
	}
	err := r.db.Create(msg).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateMessage
	}
	return err
}

// CreateOutboundMessage stores a sent message and advances the sent
// counters in one transaction so the row and the counters never diverge.
func (r *GormRepository) CreateOutboundMessage(account *domain.WhatsAppAccount, contact *domain.WhatsAppContact, msg *domain.WhatsAppMessage) error {
	if msg.ID == 0 {
		msg.ID = common.UUIDint64()
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.WhatsAppAccount{}).Where("id = ?", account.ID).
			Updates(map[string]interface{}{
				"messages_sent": gorm.Expr("messages_sent + 1"),
				"last_seen":     msg.Timestamp,
			}).Error; err != nil {
			return err
		}
		if contact == nil {
			return nil
		}
		return tx.Model(&domain.WhatsAppContact{}).Where("id = ?", contact.ID).
			Updates(map[string]interface{}{
				"messages_sent": gorm.Expr("messages_sent + 1"),
			}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateMessage
	}
	return err
}

func (r *GormRepository) FindMessageByMessageId(accountId int64, messageId string) (*domain.WhatsAppMessage, error) {
	var msg domain.WhatsAppMessage
	err := r.db.Where("account_id = ? and message_id = ?", accountId, messageId).First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// AdvanceMessageStatus moves a message forward along
// pending -> sent -> delivered -> read. Backward transitions and unknown
// message ids are silent no-ops: acks arrive out of order and for messages
// we never stored.
func (r *GormRepository) AdvanceMessageStatus(accountId int64, messageId, status string, at time.Time) error {
	rank := statusRank(status)
	if rank == 0 {
		return nil
	}
	msg, err := r.FindMessageByMessageId(accountId, messageId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if statusRank(msg.Status) >= rank {
		return nil
	}
	values := map[string]interface{}{"status": status}
	switch status {
	case domain.MessageSent:
		values["sent_date"] = at
	case domain.MessageDelivered:
		values["delivered_date"] = at
	case domain.MessageRead:
		values["read_date"] = at
	}
	return r.db.Model(&domain.WhatsAppMessage{}).
		Where("id = ?", msg.ID).Updates(values).Error
}

func statusRank(status string) int {
	switch status {
	case domain.MessagePending:
		return 1
	case domain.MessageSent:
		return 2
	case domain.MessageDelivered:
		return 3
	case domain.MessageRead:
		return 4
	}
	return 0
}

// FindOrCreateContact resolves the roster entry for a canonical phone
// number, creating a minimal row on first contact. A lost create race
// falls back to re-reading the winner's row.
func (r *GormRepository) FindOrCreateContact(accountId int64, phone, name string) (*domain.WhatsAppContact, error) {
	phone = domain.CanonicalPhone(phone)
	if phone == "" {
		return nil, errors.New("contact phone is empty")
	}
	var contact domain.WhatsAppContact
	err := r.db.Where("account_id = ? and phone_number = ?", accountId, phone).First(&contact).Error
	if err == nil {
		return &contact, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if name == "" {
		name = phone
	}
	contact = domain.WhatsAppContact{
		ID:          common.UUIDint64(),
		AccountId:   accountId,
		PhoneNumber: phone,
		Name:        name,
		PushName:    name,
		WaId:        domain.ContactWaId(phone),
		IsContact:   0,
		Status:      domain.ContactActive,
	}
	err = r.db.Create(&contact).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		err = r.db.Where("account_id = ? and phone_number = ?", accountId, phone).First(&contact).Error
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *GormRepository) FindGroup(accountId int64, groupId string) (*domain.WhatsAppGroup, error) {
	var group domain.WhatsAppGroup
	err := r.db.Where("account_id = ? and group_id = ?", accountId, groupId).First(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// BumpReceived advances the received counters and last-seen marks for the
// account and contact in one transaction.
func (r *GormRepository) BumpReceived(account *domain.WhatsAppAccount, contact *domain.WhatsAppContact, at time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.WhatsAppAccount{}).Where("id = ?", account.ID).
			Updates(map[string]interface{}{
				"messages_received": gorm.Expr("messages_received + 1"),
				"last_seen":         at,
			}).Error; err != nil {
			return err
		}
		if contact == nil {
			return nil
		}
		return tx.Model(&domain.WhatsAppContact{}).Where("id = ?", contact.ID).
			Updates(map[string]interface{}{
				"messages_received": gorm.Expr("messages_received + 1"),
				"last_seen":         at,
			}).Error
	})
}

// RecentAutoReply reports whether an auto-reply was already sent to the
// number after the given time.
func (r *GormRepository) RecentAutoReply(accountId int64, toNumber string, since time.Time) (bool, error) {
	var count int64
	err := r.db.Model(&domain.WhatsAppMessage{}).
		Where("account_id = ? and to_number = ? and is_auto_reply = 1 and created_at > ?",
			accountId, toNumber, since).
		Count(&count).Error
	return count > 0, err
}

func (r *GormRepository) FindPartnerByPhone(phone string) (*domain.SysPartner, error) {
	var partner domain.SysPartner
	err := r.db.Where("mobile = ? or phone = ?", phone, phone).First(&partner).Error
	if err != nil {
		return nil, err
	}
	return &partner, nil
}

func (r *GormRepository) FindOpenLeadByPhone(phone string) (*domain.CrmLead, error) {
	var lead domain.CrmLead
	err := r.db.Where("phone = ? and stage = ?", phone, domain.LeadOpen).First(&lead).Error
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func (r *GormRepository) CreateLead(lead *domain.CrmLead) error {
	if lead.ID == 0 {
		lead.ID = common.UUIDint64()
	}
	return r.db.Create(lead).Error
}
