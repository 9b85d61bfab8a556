package pipeline

import (
	"strings"
	"testing"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/agent"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/webhook"
	"gorm.io/gorm"
)

type fakeRepo struct {
	messages map[string]*domain.WhatsAppMessage
	contacts map[string]*domain.WhatsAppContact
	groups   map[string]*domain.WhatsAppGroup
	leads    []*domain.CrmLead

	receivedBumps int
	sentBumps     int
	nextID        int64
}

var _ Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		messages: map[string]*domain.WhatsAppMessage{},
		contacts: map[string]*domain.WhatsAppContact{},
		groups:   map[string]*domain.WhatsAppGroup{},
	}
}

func (f *fakeRepo) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeRepo) CreateMessage(msg *domain.WhatsAppMessage) error {
	if _, ok := f.messages[msg.MessageId]; ok {
		return ErrDuplicateMessage
	}
	if msg.ID == 0 {
		msg.ID = f.id()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	cp := *msg
	f.messages[msg.MessageId] = &cp
	return nil
}

func (f *fakeRepo) FindMessageByMessageId(accountId int64, messageId string) (*domain.WhatsAppMessage, error) {
	if msg, ok := f.messages[messageId]; ok && msg.AccountId == accountId {
		return msg, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) AdvanceMessageStatus(accountId int64, messageId, status string, at time.Time) error {
	msg, ok := f.messages[messageId]
	if !ok {
		return nil
	}
	if statusRank(status) > statusRank(msg.Status) {
		msg.Status = status
	}
	return nil
}

func (f *fakeRepo) FindOrCreateContact(accountId int64, phone, name string) (*domain.WhatsAppContact, error) {
	phone = domain.CanonicalPhone(phone)
	if c, ok := f.contacts[phone]; ok {
		return c, nil
	}
	c := &domain.WhatsAppContact{ID: f.id(), AccountId: accountId, PhoneNumber: phone, Name: name}
	f.contacts[phone] = c
	return c, nil
}

func (f *fakeRepo) FindGroup(accountId int64, groupId string) (*domain.WhatsAppGroup, error) {
	if g, ok := f.groups[groupId]; ok {
		return g, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) BumpReceived(account *domain.WhatsAppAccount, contact *domain.WhatsAppContact, at time.Time) error {
	f.receivedBumps++
	return nil
}

func (f *fakeRepo) CreateOutboundMessage(account *domain.WhatsAppAccount, contact *domain.WhatsAppContact, msg *domain.WhatsAppMessage) error {
	if err := f.CreateMessage(msg); err != nil {
		return err
	}
	f.sentBumps++
	return nil
}

func (f *fakeRepo) RecentAutoReply(accountId int64, toNumber string, since time.Time) (bool, error) {
	for _, msg := range f.messages {
		if msg.IsAutoReply == 1 && msg.ToNumber == toNumber && msg.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) FindPartnerByPhone(phone string) (*domain.SysPartner, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) FindOpenLeadByPhone(phone string) (*domain.CrmLead, error) {
	for _, lead := range f.leads {
		if lead.Phone == phone && lead.Stage == domain.LeadOpen {
			return lead, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) CreateLead(lead *domain.CrmLead) error {
	if lead.ID == 0 {
		lead.ID = f.id()
	}
	f.leads = append(f.leads, lead)
	return nil
}

type fakeSender struct {
	sent    []*agent.SendRequest
	failFor map[string]bool
	nextID  int
}

func (f *fakeSender) Send(account *domain.WhatsAppAccount, req *agent.SendRequest) (string, error) {
	if f.failFor[req.To] {
		return "", &agent.SendError{Code: "NOT_REGISTERED", Message: "number not on whatsapp"}
	}
	f.sent = append(f.sent, req)
	f.nextID++
	return "true_" + req.To + "_" + strings.Repeat("a", f.nextID), nil
}

func readyAccount() *domain.WhatsAppAccount {
	return &domain.WhatsAppAccount{
		ID:          100,
		PhoneNumber: "+628100000001",
		Status:      domain.AccountReady,
	}
}

func newTestPipeline() (*Pipeline, *fakeRepo, *fakeSender) {
	repo := newFakeRepo()
	sender := &fakeSender{failFor: map[string]bool{}}
	return NewPipeline(repo, sender, evbus.New()), repo, sender
}

func inboundEvent(id, from, body string) *webhook.MessageEvent {
	return &webhook.MessageEvent{
		Id:         id,
		From:       from,
		To:         "628100000001@c.us",
		Body:       body,
		Type:       "chat",
		NotifyName: "Budi",
		Timestamp:  float64(time.Now().Unix()),
	}
}

func TestHandleInboundPersists(t *testing.T) {
	p, repo, _ := newTestPipeline()
	account := readyAccount()

	err := p.HandleInbound(account, inboundEvent("msg-1", "628123456789@c.us", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	msg, ok := repo.messages["msg-1"]
	if !ok {
		t.Fatal("message not persisted")
	}
	if msg.FromNumber != "+628123456789" {
		t.Fatalf("from number not canonical: %q", msg.FromNumber)
	}
	if msg.Direction != domain.DirectionIncoming || msg.MessageType != domain.TypeText {
		t.Fatalf("unexpected row %+v", msg)
	}
	if msg.ContactId == 0 {
		t.Fatal("contact not linked")
	}
	if repo.receivedBumps != 1 {
		t.Fatalf("expected 1 counter bump, got %d", repo.receivedBumps)
	}
}

func TestHandleInboundDuplicate(t *testing.T) {
	p, repo, _ := newTestPipeline()
	account := readyAccount()

	if err := p.HandleInbound(account, inboundEvent("msg-dup", "628123456789@c.us", "hi")); err != nil {
		t.Fatal(err)
	}
	if err := p.HandleInbound(account, inboundEvent("msg-dup", "628123456789@c.us", "hi")); err != nil {
		t.Fatal(err)
	}
	if len(repo.messages) != 1 {
		t.Fatalf("expected 1 row, got %d", len(repo.messages))
	}
	if repo.receivedBumps != 1 {
		t.Fatalf("duplicate delivery bumped counters: %d", repo.receivedBumps)
	}
}

func TestAutoReplyOncePerWindow(t *testing.T) {
	p, repo, sender := newTestPipeline()
	account := readyAccount()
	account.AutoReply = 1
	account.AutoReplyMessage = "we are away"

	if err := p.HandleInbound(account, inboundEvent("msg-a1", "628123456789@c.us", "hello")); err != nil {
		t.Fatal(err)
	}
	if err := p.HandleInbound(account, inboundEvent("msg-a2", "628123456789@c.us", "anyone?")); err != nil {
		t.Fatal(err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one auto-reply send, got %d", len(sender.sent))
	}
	replies := 0
	for _, msg := range repo.messages {
		if msg.IsAutoReply == 1 {
			replies++
			if msg.Message != "we are away" {
				t.Fatalf("unexpected auto-reply body %q", msg.Message)
			}
		}
	}
	if replies != 1 {
		t.Fatalf("expected one auto-reply row, got %d", replies)
	}
}

func TestAutoReplySkippedForGroups(t *testing.T) {
	p, repo, sender := newTestPipeline()
	account := readyAccount()
	account.AutoReply = 1
	account.AutoReplyMessage = "we are away"
	repo.groups["1203630"] = &domain.WhatsAppGroup{ID: 7, AccountId: account.ID, GroupId: "1203630"}

	ev := inboundEvent("msg-g1", "1203630@g.us", "group chatter")
	ev.IsGroup = true
	ev.Author = "628123456789@c.us"
	if err := p.HandleInbound(account, ev); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("group message must not trigger auto-reply")
	}
	if repo.messages["msg-g1"].GroupId != 7 {
		t.Fatal("group not linked")
	}
	if repo.messages["msg-g1"].FromNumber != "+628123456789" {
		t.Fatalf("author not resolved: %q", repo.messages["msg-g1"].FromNumber)
	}
}

func TestAutoReplySkippedForMedia(t *testing.T) {
	p, repo, sender := newTestPipeline()
	account := readyAccount()
	account.AutoReply = 1
	account.AutoReplyMessage = "we are away"

	ev := inboundEvent("msg-m1", "628123456789@c.us", "")
	ev.Type = "image"
	ev.MediaUrl = "https://cdn.example.test/a.jpg"
	if err := p.HandleInbound(account, ev); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("media message must not trigger auto-reply")
	}
	for _, msg := range repo.messages {
		if msg.IsAutoReply == 1 {
			t.Fatal("auto-reply row persisted for media message")
		}
	}
	if repo.messages["msg-m1"].MessageType != domain.TypeImage {
		t.Fatalf("unexpected type %q", repo.messages["msg-m1"].MessageType)
	}

	// A plain text message from the same sender still replies.
	if err := p.HandleInbound(account, inboundEvent("msg-m2", "628123456789@c.us", "hello")); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one auto-reply after text message, got %d", len(sender.sent))
	}
}

func TestOutgoingEchoNotAnnounced(t *testing.T) {
	repo := newFakeRepo()
	sender := &fakeSender{failFor: map[string]bool{}}
	bus := evbus.New()
	p := NewPipeline(repo, sender, bus)
	var received int
	err := bus.Subscribe(TopicMessageReceived, func(msg *domain.WhatsAppMessage) {
		received++
	})
	if err != nil {
		t.Fatal(err)
	}
	account := readyAccount()

	echo := inboundEvent("msg-e1", "628100000001@c.us", "sent from my phone")
	echo.FromMe = true
	if err := p.HandleInbound(account, echo); err != nil {
		t.Fatal(err)
	}
	if received != 0 {
		t.Fatal("outgoing echo must not publish a received event")
	}
	if repo.messages["msg-e1"].Direction != domain.DirectionOutgoing {
		t.Fatal("echo not stored as outgoing")
	}

	if err := p.HandleInbound(account, inboundEvent("msg-e2", "628123456789@c.us", "hi")); err != nil {
		t.Fatal(err)
	}
	if received != 1 {
		t.Fatalf("expected one received event, got %d", received)
	}
}

func TestLeadCreatedAndReused(t *testing.T) {
	p, repo, _ := newTestPipeline()
	account := readyAccount()
	account.CreateLeadFromMessage = 1

	if err := p.HandleInbound(account, inboundEvent("msg-l1", "628123456789@c.us", "interested")); err != nil {
		t.Fatal(err)
	}
	if len(repo.leads) != 1 {
		t.Fatalf("expected lead created, got %d", len(repo.leads))
	}
	if repo.messages["msg-l1"].LeadId != repo.leads[0].ID {
		t.Fatal("message not linked to lead")
	}

	if err := p.HandleInbound(account, inboundEvent("msg-l2", "628123456789@c.us", "still interested")); err != nil {
		t.Fatal(err)
	}
	if len(repo.leads) != 1 {
		t.Fatalf("open lead must be reused, got %d leads", len(repo.leads))
	}
	if repo.messages["msg-l2"].LeadId != repo.leads[0].ID {
		t.Fatal("second message not linked to existing lead")
	}
}

func TestSendRejectsNotReady(t *testing.T) {
	p, _, _ := newTestPipeline()
	account := readyAccount()
	account.Status = domain.AccountConnecting

	_, err := p.Send(account, &SendOptions{To: "+628123456789", Message: "hi"})
	if !errors.Is(err, ErrAccountNotReady) {
		t.Fatalf("expected ErrAccountNotReady, got %v", err)
	}
}

func TestSendPersistsOutbound(t *testing.T) {
	p, repo, sender := newTestPipeline()
	account := readyAccount()

	msg, err := p.Send(account, &SendOptions{To: "0812-345-6789", Message: "promo"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != domain.MessageSent || msg.SentDate == nil {
		t.Fatalf("unexpected status %+v", msg)
	}
	if msg.ToNumber != "+08123456789" {
		t.Fatalf("to number not canonical: %q", msg.ToNumber)
	}
	if len(sender.sent) != 1 || sender.sent[0].To != "08123456789@c.us" {
		t.Fatalf("unexpected agent request %+v", sender.sent)
	}
	if repo.sentBumps != 1 {
		t.Fatalf("expected sent counter bump, got %d", repo.sentBumps)
	}
}

func TestSendFailureRecorded(t *testing.T) {
	p, repo, sender := newTestPipeline()
	sender.failFor["628199999999@c.us"] = true
	account := readyAccount()

	msg, err := p.Send(account, &SendOptions{To: "+628199999999", Message: "hi"})
	if err == nil {
		t.Fatal("expected send error")
	}
	var sendErr *agent.SendError
	if !errors.As(err, &sendErr) || sendErr.Code != "NOT_REGISTERED" {
		t.Fatalf("expected typed send error, got %v", err)
	}
	if msg.Status != domain.MessageFailed || msg.ErrorMessage == "" {
		t.Fatalf("failure not recorded: %+v", msg)
	}
	if repo.sentBumps != 0 {
		t.Fatal("failed send must not bump counters")
	}
}

func TestHandleAckAdvances(t *testing.T) {
	p, repo, _ := newTestPipeline()
	account := readyAccount()

	msg, err := p.Send(account, &SendOptions{To: "+628123456789", Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.HandleAck(account, &webhook.AckEvent{MessageId: msg.MessageId, Ack: 3}); err != nil {
		t.Fatal(err)
	}
	if repo.messages[msg.MessageId].Status != domain.MessageRead {
		t.Fatalf("ack not applied: %q", repo.messages[msg.MessageId].Status)
	}
	// Late lower ack never regresses the status.
	if err := p.HandleAck(account, &webhook.AckEvent{MessageId: msg.MessageId, Ack: 2}); err != nil {
		t.Fatal(err)
	}
	if repo.messages[msg.MessageId].Status != domain.MessageRead {
		t.Fatal("status regressed on stale ack")
	}
}

func TestHandleAckUnknownMessage(t *testing.T) {
	p, _, _ := newTestPipeline()
	if err := p.HandleAck(readyAccount(), &webhook.AckEvent{MessageId: "ghost", Ack: 2}); err != nil {
		t.Fatal(err)
	}
}
