package bulk

import (
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/domain"
)

// ResolveRecipients builds the final recipient list once, before the job
// is persisted: explicit entries plus referenced contacts, partners and
// leads. Entries without a usable phone are dropped; a phone seen twice
// keeps its first occurrence.
func (d *Dispatcher) ResolveRecipients(account *domain.WhatsAppAccount,
	manual []Recipient, contactIds, partnerIds, leadIds []int64) ([]Recipient, error) {

	seen := map[string]bool{}
	var out []Recipient
	add := func(r Recipient) {
		phone := domain.CanonicalPhone(r.Phone)
		if phone == "" || seen[phone] {
			return
		}
		seen[phone] = true
		r.Phone = phone
		out = append(out, r)
	}

	for _, r := range manual {
		add(r)
	}

	if len(contactIds) > 0 {
		var contacts []domain.WhatsAppContact
		err := d.db.Where("account_id = ? and id in ?", account.ID, contactIds).
			Find(&contacts).Error
		if err != nil {
			return nil, errors.Wrap(err, "resolve contacts")
		}
		for _, c := range contacts {
			add(Recipient{Phone: c.PhoneNumber, Name: c.Name})
		}
	}

	if len(partnerIds) > 0 {
		var partners []domain.SysPartner
		err := d.db.Where("id in ?", partnerIds).Find(&partners).Error
		if err != nil {
			return nil, errors.Wrap(err, "resolve partners")
		}
		for _, p := range partners {
			phone := p.Mobile
			if phone == "" {
				phone = p.Phone
			}
			add(Recipient{Phone: phone, Name: p.Name, Email: p.Email, Company: p.Company})
		}
	}

	if len(leadIds) > 0 {
		var leads []domain.CrmLead
		err := d.db.Where("id in ?", leadIds).Find(&leads).Error
		if err != nil {
			return nil, errors.Wrap(err, "resolve leads")
		}
		for _, l := range leads {
			add(Recipient{Phone: l.Phone, Name: l.Name})
		}
	}

	return out, nil
}
