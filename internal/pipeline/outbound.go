package pipeline

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/agent"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/pkg/common"
	"go.uber.org/zap"
)

// ErrAccountNotReady rejects sends on accounts without an authenticated
// session.
var ErrAccountNotReady = errors.New("account is not ready")

// SendOptions describes one outbound send request.
type SendOptions struct {
	To          string
	GroupId     string
	Message     string
	MessageType string
	MediaUrl    string
	TemplateId  int64
	ReplyTo     string
	IsAutoReply bool
}

// Send delivers one message through the account's agent and persists the
// result. The returned row reflects the agent-assigned message id on
// success; on agent failure an error row is stored and the send error
// returned.
func (p *Pipeline) Send(account *domain.WhatsAppAccount, opts *SendOptions) (*domain.WhatsAppMessage, error) {
	if account.Status != domain.AccountReady {
		return nil, ErrAccountNotReady
	}
	if opts.Message == "" && opts.MediaUrl == "" {
		return nil, errors.New("message content is empty")
	}

	msgType := opts.MessageType
	if msgType == "" {
		msgType = domain.TypeText
	}

	var contact *domain.WhatsAppContact
	var toNumber, dest string
	if opts.GroupId != "" {
		dest = domain.GroupWaId(domain.StripJIDSuffix(opts.GroupId))
	} else {
		toNumber = domain.CanonicalPhone(opts.To)
		if toNumber == "" {
			return nil, errors.New("recipient phone is empty")
		}
		dest = domain.ContactWaId(toNumber)
		c, err := p.repo.FindOrCreateContact(account.ID, toNumber, "")
		if err != nil {
			zap.L().Warn("pipeline: outbound contact resolve failed",
				zap.Int64("account_id", account.ID), zap.String("phone", toNumber), zap.Error(err))
		} else {
			contact = c
		}
	}

	now := time.Now()
	msg := &domain.WhatsAppMessage{
		AccountId:   account.ID,
		Message:     opts.Message,
		MessageType: msgType,
		Direction:   domain.DirectionOutgoing,
		FromNumber:  account.PhoneNumber,
		FromName:    account.DisplayName,
		ToNumber:    toNumber,
		Timestamp:   now,
		TemplateId:  opts.TemplateId,
	}
	if contact != nil {
		msg.ContactId = contact.ID
		msg.PartnerId = contact.PartnerId
		msg.ToName = contact.Name
	}
	if opts.GroupId != "" {
		gid := domain.StripJIDSuffix(opts.GroupId)
		if group, err := p.repo.FindGroup(account.ID, gid); err == nil {
			msg.GroupId = group.ID
			msg.ToName = group.Name
		}
	}
	if domain.IsMediaType(msgType) {
		msg.MediaUrl = opts.MediaUrl
	}
	if opts.IsAutoReply {
		msg.IsAutoReply = 1
	}
	if ref := p.lookupRef(account.ID, opts.ReplyTo); ref != 0 {
		msg.ReplyToMessageId = ref
	}

	agentId, sendErr := p.send.Send(account, &agent.SendRequest{
		To:          dest,
		Message:     opts.Message,
		MessageType: msgType,
		MediaUrl:    opts.MediaUrl,
		ReplyTo:     opts.ReplyTo,
	})

	if sendErr != nil {
		msg.MessageId = fmt.Sprintf("failed_%d", common.UUIDint64())
		msg.Status = domain.MessageFailed
		msg.ErrorMessage = sendErr.Error()
		if err := p.repo.CreateMessage(msg); err != nil {
			zap.L().Warn("pipeline: persist failed send",
				zap.Int64("account_id", account.ID), zap.Error(err))
		}
		return msg, sendErr
	}

	if agentId == "" {
		agentId = fmt.Sprintf("out_%d", common.UUIDint64())
	}
	msg.MessageId = agentId
	msg.WaMessageId = agentId
	msg.Status = domain.MessageSent
	msg.SentDate = &now

	if err := p.repo.CreateOutboundMessage(account, contact, msg); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			return msg, nil
		}
		return msg, errors.Wrap(err, "persist outbound message")
	}

	p.bus.Publish(TopicMessageSent, msg)
	return msg, nil
}
