// Package roster mirrors the agent-side contact and group lists into the
// database and imports operator-provided contact CSV files.
package roster

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/agent"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/webhook"
	"github.com/talkincode/walink/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AgentRoster is the slice of the agent client used for syncing.
type AgentRoster interface {
	GetContacts(account *domain.WhatsAppAccount) ([]agent.Contact, error)
	GetGroups(account *domain.WhatsAppAccount) ([]agent.Group, error)
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Syncer reconciles roster state for one account at a time.
type Syncer struct {
	db  *gorm.DB
	api AgentRoster
}

func NewSyncer(db *gorm.DB, api AgentRoster) *Syncer {
	return &Syncer{db: db, api: api}
}

// SyncContacts pulls the agent contact list and upserts it. Entries
// without a usable phone number are skipped. Existing rows keep their
// partner link and counters, only profile fields are refreshed.
func (s *Syncer) SyncContacts(account *domain.WhatsAppAccount) (*SyncResult, error) {
	contacts, err := s.api.GetContacts(account)
	if err != nil {
		return nil, errors.Wrap(err, "fetch contacts")
	}

	res := &SyncResult{}
	for _, ac := range contacts {
		number := ac.Number
		if number == "" {
			number = domain.StripJIDSuffix(ac.Id)
		}
		phone := domain.CanonicalPhone(number)
		if phone == "" {
			res.Skipped++
			continue
		}

		name := ac.Name
		if name == "" {
			name = ac.PushName
		}
		if name == "" {
			name = phone
		}

		var existing domain.WhatsAppContact
		err := s.db.Where("account_id = ? and phone_number = ?", account.ID, phone).
			First(&existing).Error
		switch {
		case err == nil:
			values := map[string]interface{}{
				"name":            name,
				"push_name":       ac.PushName,
				"wa_id":           ac.Id,
				"is_business":     boolInt(ac.IsBusiness),
				"is_contact":      boolInt(ac.IsContact),
				"profile_pic_url": ac.ProfilePic,
			}
			if err := s.db.Model(&existing).Updates(values).Error; err != nil {
				zap.L().Warn("roster: contact update failed",
					zap.Int64("account_id", account.ID),
					zap.String("phone", phone), zap.Error(err))
				res.Skipped++
				continue
			}
			res.Updated++
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := domain.WhatsAppContact{
				ID:            common.UUIDint64(),
				AccountId:     account.ID,
				PhoneNumber:   phone,
				Name:          name,
				PushName:      ac.PushName,
				WaId:          ac.Id,
				IsBusiness:    boolInt(ac.IsBusiness),
				IsContact:     boolInt(ac.IsContact),
				ProfilePicUrl: ac.ProfilePic,
				Status:        domain.ContactActive,
			}
			if err := s.db.Create(&row).Error; err != nil {
				zap.L().Warn("roster: contact create failed",
					zap.Int64("account_id", account.ID),
					zap.String("phone", phone), zap.Error(err))
				res.Skipped++
				continue
			}
			res.Created++
		default:
			return res, err
		}
	}

	zap.L().Info("roster: contacts synced",
		zap.Int64("account_id", account.ID),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// SyncGroups pulls the group list with member rosters. Group rows are
// upserted; each member roster is fully replaced in one transaction so
// departures disappear.
func (s *Syncer) SyncGroups(account *domain.WhatsAppAccount) (*SyncResult, error) {
	groups, err := s.api.GetGroups(account)
	if err != nil {
		return nil, errors.Wrap(err, "fetch groups")
	}

	res := &SyncResult{}
	for _, ag := range groups {
		gid := domain.StripJIDSuffix(ag.Id)
		if gid == "" {
			res.Skipped++
			continue
		}
		if err := s.syncGroup(account, gid, &ag, res); err != nil {
			zap.L().Warn("roster: group sync failed",
				zap.Int64("account_id", account.ID),
				zap.String("group_id", gid), zap.Error(err))
			res.Skipped++
		}
	}

	zap.L().Info("roster: groups synced",
		zap.Int64("account_id", account.ID),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

func (s *Syncer) syncGroup(account *domain.WhatsAppAccount, gid string, ag *agent.Group, res *SyncResult) error {
	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		var group domain.WhatsAppGroup
		err := tx.Where("account_id = ? and group_id = ?", account.ID, gid).
			First(&group).Error
		switch {
		case err == nil:
			values := map[string]interface{}{
				"name":          ag.Name,
				"description":   ag.Description,
				"is_admin":      boolInt(ag.IsAdmin),
				"member_count":  len(ag.Participants),
				"last_activity": now,
			}
			if err := tx.Model(&group).Updates(values).Error; err != nil {
				return err
			}
			res.Updated++
		case errors.Is(err, gorm.ErrRecordNotFound):
			group = domain.WhatsAppGroup{
				ID:          common.UUIDint64(),
				AccountId:   account.ID,
				GroupId:     gid,
				WaGroupId:   ag.Id,
				Name:        ag.Name,
				Description: ag.Description,
				IsAdmin:     boolInt(ag.IsAdmin),
				MemberCount: len(ag.Participants),
				Status:      domain.GroupActive,
				JoinedDate:  &now,
			}
			if err := tx.Create(&group).Error; err != nil {
				return err
			}
			res.Created++
		default:
			return err
		}

		if err := tx.Where("group_id = ?", group.ID).
			Delete(&domain.WhatsAppGroupMember{}).Error; err != nil {
			return err
		}
		for _, part := range ag.Participants {
			phone := domain.CanonicalPhone(domain.StripJIDSuffix(part.Id))
			if phone == "" {
				continue
			}
			member := domain.WhatsAppGroupMember{
				ID:          common.UUIDint64(),
				GroupId:     group.ID,
				PhoneNumber: phone,
				Name:        part.Name,
				IsAdmin:     boolInt(part.IsAdmin),
				IsOwner:     boolInt(part.IsOwner),
			}
			var contact domain.WhatsAppContact
			if err := tx.Where("account_id = ? and phone_number = ?", account.ID, phone).
				First(&contact).Error; err == nil {
				member.ContactId = contact.ID
			}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyGroupJoin upserts the group row when the agent reports the session
// joining a group. A rejoin clears any previous left marker; the member
// roster itself is filled by the next SyncGroups run.
func (s *Syncer) ApplyGroupJoin(account *domain.WhatsAppAccount, ev *webhook.GroupEvent) error {
	gid := domain.StripJIDSuffix(ev.Id)
	if gid == "" {
		return errors.New("group join without group id")
	}
	name := ev.Name
	if name == "" {
		name = "Unknown Group"
	}
	now := time.Now()

	var group domain.WhatsAppGroup
	err := s.db.Where("account_id = ? and group_id = ?", account.ID, gid).
		First(&group).Error
	switch {
	case err == nil:
		values := map[string]interface{}{
			"name":          name,
			"description":   ev.Description,
			"is_member":     1,
			"left_date":     nil,
			"member_count":  ev.MemberCount(),
			"last_activity": now,
		}
		if err := s.db.Model(&group).Updates(values).Error; err != nil {
			return errors.Wrap(err, "update joined group")
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		group = domain.WhatsAppGroup{
			ID:          common.UUIDint64(),
			AccountId:   account.ID,
			GroupId:     gid,
			WaGroupId:   ev.Id,
			Name:        name,
			Description: ev.Description,
			IsMember:    1,
			MemberCount: ev.MemberCount(),
			Status:      domain.GroupActive,
			JoinedDate:  &now,
		}
		if err := s.db.Create(&group).Error; err != nil {
			return errors.Wrap(err, "create joined group")
		}
	default:
		return err
	}

	zap.L().Info("roster: group joined",
		zap.Int64("account_id", account.ID),
		zap.String("group_id", gid),
		zap.String("name", name))
	return nil
}

// ApplyGroupLeave marks the group as no longer joined. The row and its
// history stay; only the membership flag and left timestamp change. An
// unknown group is a no-op.
func (s *Syncer) ApplyGroupLeave(account *domain.WhatsAppAccount, ev *webhook.GroupEvent) error {
	gid := domain.StripJIDSuffix(ev.Id)
	if gid == "" {
		return errors.New("group leave without group id")
	}

	var group domain.WhatsAppGroup
	err := s.db.Where("account_id = ? and group_id = ?", account.ID, gid).
		First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := time.Now()
	values := map[string]interface{}{
		"is_member": 0,
		"left_date": now,
	}
	if err := s.db.Model(&group).Updates(values).Error; err != nil {
		return errors.Wrap(err, "mark group left")
	}
	zap.L().Info("roster: group left",
		zap.Int64("account_id", account.ID),
		zap.String("group_id", gid))
	return nil
}

// csvContact is one row of the operator import format.
type csvContact struct {
	Name    string `csv:"name"`
	Phone   string `csv:"phone"`
	Email   string `csv:"email"`
	Company string `csv:"company"`
}

// ImportCSV loads contacts from a csv file with name,phone,email,company
// columns. Rows without a usable phone are skipped; existing contacts are
// updated by name only.
func (s *Syncer) ImportCSV(account *domain.WhatsAppAccount, r io.Reader) (*SyncResult, error) {
	var rows []csvContact
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "parse csv")
	}

	res := &SyncResult{}
	for _, row := range rows {
		phone := domain.CanonicalPhone(row.Phone)
		if phone == "" {
			res.Skipped++
			continue
		}
		name := row.Name
		if name == "" {
			name = phone
		}

		var existing domain.WhatsAppContact
		err := s.db.Where("account_id = ? and phone_number = ?", account.ID, phone).
			First(&existing).Error
		switch {
		case err == nil:
			if err := s.db.Model(&existing).Update("name", name).Error; err != nil {
				res.Skipped++
				continue
			}
			res.Updated++
		case errors.Is(err, gorm.ErrRecordNotFound):
			contact := domain.WhatsAppContact{
				ID:          common.UUIDint64(),
				AccountId:   account.ID,
				PhoneNumber: phone,
				Name:        name,
				WaId:        domain.ContactWaId(phone),
				Status:      domain.ContactActive,
			}
			if err := s.db.Create(&contact).Error; err != nil {
				res.Skipped++
				continue
			}
			res.Created++
		default:
			return res, err
		}
	}
	return res, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
