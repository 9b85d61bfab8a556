package webapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	evbus "github.com/asaskevich/EventBus"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/walink/config"
	"github.com/talkincode/walink/internal/agent"
	"github.com/talkincode/walink/internal/bulk"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/pipeline"
	"github.com/talkincode/walink/internal/roster"
	"github.com/talkincode/walink/internal/session"
	"github.com/talkincode/walink/internal/signature"
	"github.com/talkincode/walink/internal/webserver"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeAgentAPI struct{}

func (fakeAgentAPI) GetStatus(*domain.WhatsAppAccount) (*agent.StatusResult, error) {
	return &agent.StatusResult{Status: "ready"}, nil
}
func (fakeAgentAPI) GetQR(*domain.WhatsAppAccount) (*agent.QRResult, error) {
	return &agent.QRResult{}, nil
}
func (fakeAgentAPI) Logout(*domain.WhatsAppAccount) error { return nil }

type fakeProc struct{}

func (fakeProc) Start(*domain.WhatsAppAccount, string) (int, error) { return 4321, nil }
func (fakeProc) Stop(int) error                                     { return nil }
func (fakeProc) IsRunning(int) bool                                 { return true }
func (fakeProc) CleanSession(*domain.WhatsAppAccount) error         { return nil }

type fakeSender struct {
	sent []agent.SendRequest
}

func (f *fakeSender) Send(account *domain.WhatsAppAccount, req *agent.SendRequest) (string, error) {
	f.sent = append(f.sent, *req)
	return "out-id-1", nil
}

func setupDeps(t *testing.T) (*gorm.DB, *fakeSender) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(domain.Tables...); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		for _, table := range []string{
			"whatsapp_account", "whatsapp_message", "whatsapp_contact",
			"whatsapp_group", "whatsapp_group_member", "whatsapp_bulk_job",
			"whatsapp_template", "sys_partner", "crm_lead", "sys_config",
		} {
			db.Exec("delete from " + table)
		}
	})

	bus := evbus.New()
	sender := &fakeSender{}
	p := pipeline.NewPipeline(pipeline.NewGormRepository(db), sender, bus)
	deps = &Deps{
		Config:   config.DefaultAppConfig,
		Sessions: session.NewManager(db, fakeAgentAPI{}, fakeProc{}, bus, "http://127.0.0.1:1816/whatsapp/webhook"),
		Pipeline: p,
		Bulk:     bulk.NewDispatcher(db, p),
		Roster:   roster.NewSyncer(db, nil),
	}
	return db, sender
}

func seedAccount(t *testing.T, db *gorm.DB, secret string) *domain.WhatsAppAccount {
	t.Helper()
	account := &domain.WhatsAppAccount{
		ID:            501,
		Name:          "support",
		PhoneNumber:   "+628100000005",
		Status:        domain.AccountReady,
		Active:        1,
		WebhookSecret: secret,
		ApiKey:        "pub-key-501",
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatal(err)
	}
	return account
}

func doWebhook(db *gorm.DB, id, body, sig string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook/"+id, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sig != "" {
		req.Header.Set("X-Hub-Signature-256", sig)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(webserver.ContextDBKey, db)
	c.SetParamNames("id")
	c.SetParamValues(id)
	_ = postWebhook(c)
	return rec
}

func TestWebhookUnknownAccount(t *testing.T) {
	db, _ := setupDeps(t)
	rec := doWebhook(db, "999", `{"event":"ready","data":{}}`, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Account not found") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWebhookSignatureRejected(t *testing.T) {
	db, _ := setupDeps(t)
	seedAccount(t, db, "hook-secret")

	body := `{"event":"ready","data":{}}`
	rec := doWebhook(db, "501", body, "sha256=deadbeef")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code = %d", rec.Code)
	}

	// Missing header with a configured secret is also rejected.
	rec = doWebhook(db, "501", body, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestWebhookMessageIngested(t *testing.T) {
	db, _ := setupDeps(t)
	seedAccount(t, db, "hook-secret")

	body := `{"event":"message","data":{"id":"wh-msg-1","from":"628123456789@c.us","to":"628100000005@c.us","body":"hello","type":"chat","timestamp":1700000000}}`
	sig := signature.Sign("hook-secret", []byte(body))

	rec := doWebhook(db, "501", body, sig)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}

	var msg domain.WhatsAppMessage
	if err := db.Where("message_id = ?", "wh-msg-1").First(&msg).Error; err != nil {
		t.Fatal(err)
	}
	if msg.FromNumber != "+628123456789" || msg.Direction != domain.DirectionIncoming {
		t.Fatalf("unexpected row %+v", msg)
	}

	// Redelivery of the same batch is acknowledged and stays single.
	rec = doWebhook(db, "501", body, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery code = %d", rec.Code)
	}
	var count int64
	db.Model(&domain.WhatsAppMessage{}).Where("message_id = ?", "wh-msg-1").Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 row after redelivery, got %d", count)
	}
}

func TestWebhookUnsignedAccountSkipsVerification(t *testing.T) {
	db, _ := setupDeps(t)
	seedAccount(t, db, "")

	body := `{"event":"qr","data":{"qr":"2@pairme"}}`
	rec := doWebhook(db, "501", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var account domain.WhatsAppAccount
	db.First(&account, 501)
	if account.Status != domain.AccountQRCode || account.QrCode != "2@pairme" {
		t.Fatalf("state event not applied: %+v", account)
	}
}

func TestWebhookGroupLifecycle(t *testing.T) {
	db, _ := setupDeps(t)
	seedAccount(t, db, "")

	body := `{"event":"group_join","data":{"id":"1203630@g.us","name":"Ops","participants":[{"id":"1@c.us"},{"id":"2@c.us"}]}}`
	rec := doWebhook(db, "501", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var group domain.WhatsAppGroup
	if err := db.Where("account_id = ? and group_id = ?", 501, "1203630").
		First(&group).Error; err != nil {
		t.Fatal(err)
	}
	if group.Name != "Ops" || group.IsMember != 1 || group.MemberCount != 2 {
		t.Fatalf("join not applied: %+v", group)
	}

	rec = doWebhook(db, "501", `{"event":"group_leave","data":{"id":"1203630@g.us"}}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	db.Where("group_id = ?", "1203630").First(&group)
	if group.IsMember != 0 || group.LeftDate == nil {
		t.Fatalf("leave not applied: %+v", group)
	}
}

func TestPublicSend(t *testing.T) {
	db, sender := setupDeps(t)
	seedAccount(t, db, "")

	e := echo.New()
	body := `{"to":"+628123456789","message":"hi from crm"}`

	// Missing key.
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/public/send", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(webserver.ContextDBKey, db)
	_ = publicSend(c)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d", rec.Code)
	}

	// Valid key.
	req = httptest.NewRequest(http.MethodPost, "/whatsapp/public/send", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer pub-key-501")
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.Set(webserver.ContextDBKey, db)
	_ = publicSend(c)
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
	if len(sender.sent) != 1 || sender.sent[0].To != "628123456789@c.us" {
		t.Fatalf("unexpected sends %+v", sender.sent)
	}
	var count int64
	db.Model(&domain.WhatsAppMessage{}).Where("direction = ?", domain.DirectionOutgoing).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 outbound row, got %d", count)
	}
}
