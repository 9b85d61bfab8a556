// Package pipeline turns normalized webhook events and API send requests
// into persisted message rows with their side effects: counters,
// auto-replies and lead creation.
package pipeline

import (
	"time"

	evbus "github.com/asaskevich/EventBus"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/agent"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Bus topics published by the pipeline.
const (
	TopicMessageReceived = "walink:message:received"
	TopicMessageSent     = "walink:message:sent"
)

// AutoReplyWindow is the suppression interval: at most one auto-reply per
// sender per window.
const AutoReplyWindow = time.Hour

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sender delivers one outbound unit through the account's agent.
type Sender interface {
	Send(account *domain.WhatsAppAccount, req *agent.SendRequest) (string, error)
}

// Pipeline owns message ingestion and dispatch for all accounts.
type Pipeline struct {
	repo Repository
	send Sender
	bus  evbus.Bus
}

func NewPipeline(repo Repository, send Sender, bus evbus.Bus) *Pipeline {
	return &Pipeline{repo: repo, send: send, bus: bus}
}

// HandleInbound persists one inbound message event with all side effects.
// A duplicate message id is a clean no-op. Side effects that fail after
// the row is stored are logged, never propagated: the message is the
// record, the rest is best effort.
func (p *Pipeline) HandleInbound(account *domain.WhatsAppAccount, m *webhook.MessageEvent) error {
	direction := domain.DirectionIncoming
	if m.FromMe {
		direction = domain.DirectionOutgoing
	}

	fromId := m.From
	senderId := m.From
	var group *domain.WhatsAppGroup
	if m.IsGroup {
		if m.Author != "" {
			senderId = m.Author
		}
		gid := domain.StripJIDSuffix(fromId)
		g, err := p.repo.FindGroup(account.ID, gid)
		if err == nil {
			group = g
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Warn("pipeline: group lookup failed",
				zap.Int64("account_id", account.ID), zap.String("group_id", gid), zap.Error(err))
		}
	}

	fromNumber := domain.CanonicalPhone(domain.StripJIDSuffix(senderId))
	toNumber := domain.CanonicalPhone(domain.StripJIDSuffix(m.To))

	var contact *domain.WhatsAppContact
	if fromNumber != "" && !m.FromMe {
		c, err := p.repo.FindOrCreateContact(account.ID, fromNumber, m.NotifyName)
		if err != nil {
			zap.L().Warn("pipeline: contact resolve failed",
				zap.Int64("account_id", account.ID), zap.String("phone", fromNumber), zap.Error(err))
		} else {
			contact = c
		}
	}

	msg := &domain.WhatsAppMessage{
		MessageId:   m.Id,
		WaMessageId: m.Id,
		AccountId:   account.ID,
		Message:     m.Body,
		MessageType: messageType(m.Type),
		Direction:   direction,
		Status:      domain.MessageDelivered,
		FromNumber:  fromNumber,
		FromName:    m.NotifyName,
		ToNumber:    toNumber,
		Timestamp:   m.Time(),
		RawData:     rawDataOf(m),
	}
	if contact != nil {
		msg.ContactId = contact.ID
		msg.PartnerId = contact.PartnerId
	}
	if group != nil {
		msg.GroupId = group.ID
	}
	if domain.IsMediaType(msg.MessageType) {
		msg.MediaUrl = m.MediaUrl
		msg.MediaType = m.MediaType
		msg.MediaSize = m.MediaSize
	}
	if msg.MessageType == domain.TypeLocation {
		msg.Latitude = m.Latitude
		msg.Longitude = m.Longitude
		msg.LocationName = m.Location
	}
	if msg.MessageType == domain.TypeReaction {
		msg.ReactionEmoji = m.Emoji
		if ref := p.lookupRef(account.ID, m.ReactionId); ref != 0 {
			msg.ReactionToMessageId = ref
		}
	}
	if msg.MessageType == domain.TypeSystem {
		msg.SystemMessageType = m.SystemType
	}
	if ref := p.lookupRef(account.ID, m.QuotedId); ref != 0 {
		msg.ReplyToMessageId = ref
	}
	if ref := p.lookupRef(account.ID, m.ForwardId); ref != 0 {
		msg.ForwardFromMessageId = ref
	}
	if direction == domain.DirectionIncoming {
		p.maybeCreateLead(account, contact, msg)
	}

	err := p.repo.CreateMessage(msg)
	if errors.Is(err, ErrDuplicateMessage) {
		zap.L().Debug("pipeline: duplicate message ignored",
			zap.Int64("account_id", account.ID), zap.String("message_id", m.Id))
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "persist inbound message")
	}

	if direction == domain.DirectionIncoming {
		if err := p.repo.BumpReceived(account, contact, msg.Timestamp); err != nil {
			zap.L().Warn("pipeline: counter update failed",
				zap.Int64("account_id", account.ID), zap.Error(err))
		}
		p.maybeAutoReply(account, msg)
		// Echoes of our own sends are stored but not announced.
		p.bus.Publish(TopicMessageReceived, msg)
	}
	return nil
}

// HandleAck advances a message's delivery state from an ack event.
func (p *Pipeline) HandleAck(account *domain.WhatsAppAccount, a *webhook.AckEvent) error {
	status := a.Status()
	if status == "" {
		return nil
	}
	return p.repo.AdvanceMessageStatus(account.ID, a.MessageId, status, time.Now())
}

func (p *Pipeline) lookupRef(accountId int64, messageId string) int64 {
	if messageId == "" {
		return 0
	}
	ref, err := p.repo.FindMessageByMessageId(accountId, messageId)
	if err != nil {
		return 0
	}
	return ref.ID
}

// maybeAutoReply sends the configured auto-reply unless one already went
// to the sender within the suppression window. Only plain text messages
// qualify; group and media messages never get an auto-reply.
func (p *Pipeline) maybeAutoReply(account *domain.WhatsAppAccount, inbound *domain.WhatsAppMessage) {
	if account.AutoReply != 1 || account.AutoReplyMessage == "" {
		return
	}
	if inbound.MessageType != domain.TypeText {
		return
	}
	if inbound.GroupId != 0 || inbound.FromNumber == "" {
		return
	}
	recent, err := p.repo.RecentAutoReply(account.ID, inbound.FromNumber, time.Now().Add(-AutoReplyWindow))
	if err != nil {
		zap.L().Warn("pipeline: auto-reply window check failed",
			zap.Int64("account_id", account.ID), zap.Error(err))
		return
	}
	if recent {
		return
	}
	_, err = p.Send(account, &SendOptions{
		To:          inbound.FromNumber,
		Message:     account.AutoReplyMessage,
		MessageType: domain.TypeText,
		IsAutoReply: true,
	})
	if err != nil {
		zap.L().Warn("pipeline: auto-reply send failed",
			zap.Int64("account_id", account.ID),
			zap.String("to", inbound.FromNumber), zap.Error(err))
	}
}

// maybeCreateLead links the message to an open lead for the sender's
// phone, creating one when none exists.
func (p *Pipeline) maybeCreateLead(account *domain.WhatsAppAccount, contact *domain.WhatsAppContact, msg *domain.WhatsAppMessage) {
	if account.CreateLeadFromMessage != 1 || msg.FromNumber == "" {
		return
	}
	lead, err := p.repo.FindOpenLeadByPhone(msg.FromNumber)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		zap.L().Warn("pipeline: lead lookup failed",
			zap.Int64("account_id", account.ID), zap.Error(err))
		return
	}
	if lead == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		name := msg.FromName
		if name == "" && contact != nil {
			name = contact.Name
		}
		if name == "" {
			name = msg.FromNumber
		}
		lead = &domain.CrmLead{
			Name:        "WhatsApp: " + name,
			Phone:       msg.FromNumber,
			Description: msg.Message,
			Source:      "whatsapp",
			Stage:       domain.LeadOpen,
			AccountId:   account.ID,
		}
		if contact != nil {
			lead.PartnerId = contact.PartnerId
		}
		if err := p.repo.CreateLead(lead); err != nil {
			zap.L().Warn("pipeline: lead create failed",
				zap.Int64("account_id", account.ID), zap.Error(err))
			return
		}
	}
	msg.LeadId = lead.ID
}

func rawDataOf(m *webhook.MessageEvent) string {
	raw, err := json.MarshalToString(m)
	if err != nil {
		return ""
	}
	return raw
}

func messageType(t string) string {
	if t == "" {
		return domain.TypeText
	}
	switch t {
	case "chat":
		return domain.TypeText
	case "ptt":
		return domain.TypeVoice
	}
	return t
}
