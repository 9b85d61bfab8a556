// Package session drives account lifecycle: agent process start/stop,
// connection state transitions and periodic health checks.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/talkincode/walink/internal/agent"
	"github.com/talkincode/walink/internal/domain"
	"github.com/talkincode/walink/internal/webhook"
	"github.com/talkincode/walink/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Bus topic published on every persisted status change.
const TopicAccountStatus = "walink:account:status"

var (
	// ErrAlreadyConnecting rejects a connect while another connect on the
	// same account is in flight.
	ErrAlreadyConnecting = errors.New("connect already in progress")
	// ErrInvalidTransition rejects a connect from a state that is already
	// connected or connecting.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// AgentAPI is the slice of the agent HTTP client used by the manager.
type AgentAPI interface {
	GetStatus(account *domain.WhatsAppAccount) (*agent.StatusResult, error)
	GetQR(account *domain.WhatsAppAccount) (*agent.QRResult, error)
	Logout(account *domain.WhatsAppAccount) error
}

// ProcessController is the slice of the process manager used here.
type ProcessController interface {
	Start(account *domain.WhatsAppAccount, webhookUrl string) (int, error)
	Stop(pid int) error
	IsRunning(pid int) bool
	CleanSession(account *domain.WhatsAppAccount) error
}

// Manager serializes lifecycle operations per account. Only one connect
// or disconnect runs at a time for a given account; concurrent attempts
// fail fast instead of queueing.
type Manager struct {
	db   *gorm.DB
	api  AgentAPI
	proc ProcessController
	bus  evbus.Bus

	// webhookBase is the externally reachable prefix the agent posts
	// events to, e.g. "http://host:1816/whatsapp/webhook".
	webhookBase string

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewManager(db *gorm.DB, api AgentAPI, proc ProcessController, bus evbus.Bus, webhookBase string) *Manager {
	return &Manager{
		db:          db,
		api:         api,
		proc:        proc,
		bus:         bus,
		webhookBase: strings.TrimRight(webhookBase, "/"),
		locks:       map[int64]*sync.Mutex{},
	}
}

func (m *Manager) lockFor(accountId int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[accountId]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[accountId] = lock
	}
	return lock
}

func (m *Manager) getAccount(accountId int64) (*domain.WhatsAppAccount, error) {
	var account domain.WhatsAppAccount
	if err := m.db.Where("id = ?", accountId).First(&account).Error; err != nil {
		return nil, errors.Wrap(err, "load account")
	}
	return &account, nil
}

// WebhookUrl returns the callback url the agent for this account posts to.
func (m *Manager) WebhookUrl(account *domain.WhatsAppAccount) string {
	if account.WebhookUrl != "" {
		return account.WebhookUrl
	}
	return fmt.Sprintf("%s/%d", m.webhookBase, account.ID)
}

// SessionName returns the account's stable session identifier, assigning
// one on first use.
func SessionName(account *domain.WhatsAppAccount) string {
	if account.SessionName != "" {
		return account.SessionName
	}
	digits := strings.TrimPrefix(domain.CanonicalPhone(account.PhoneNumber), "+")
	return fmt.Sprintf("whatsapp_session_%s_%s", digits, common.UUIDstr())
}

// Connect starts the agent process for the account. Connecting from
// connecting, authenticated or ready states is rejected; a concurrent
// connect on the same account fails fast with ErrAlreadyConnecting.
func (m *Manager) Connect(accountId int64) error {
	lock := m.lockFor(accountId)
	if !lock.TryLock() {
		return ErrAlreadyConnecting
	}
	defer lock.Unlock()

	account, err := m.getAccount(accountId)
	if err != nil {
		return err
	}
	switch account.Status {
	case domain.AccountConnecting, domain.AccountAuthenticated, domain.AccountReady:
		return errors.Wrap(ErrInvalidTransition, "connect from "+account.Status)
	}

	account.SessionName = SessionName(account)
	if err := m.update(account, map[string]interface{}{
		"session_name":   account.SessionName,
		"status":         domain.AccountConnecting,
		"process_status": domain.ProcessStarting,
		"qr_code":        "",
		"qr_code_image":  []byte(nil),
	}); err != nil {
		return err
	}

	// A stale process from a previous run blocks the session dir.
	if m.proc.IsRunning(account.ProcessId) {
		if err := m.proc.Stop(account.ProcessId); err != nil {
			zap.L().Warn("session: stop stale process failed",
				zap.Int64("account_id", account.ID),
				zap.Int("pid", account.ProcessId), zap.Error(err))
		}
	}

	pid, err := m.proc.Start(account, m.WebhookUrl(account))
	if err != nil {
		_ = m.update(account, map[string]interface{}{
			"status":         domain.AccountError,
			"process_status": domain.ProcessError,
		})
		return errors.Wrap(err, "start agent")
	}

	return m.update(account, map[string]interface{}{
		"process_id":     pid,
		"process_status": domain.ProcessRunning,
	})
}

// Disconnect stops the agent process and resets the account to the
// disconnected state. The pending QR payload is always cleared.
func (m *Manager) Disconnect(accountId int64) error {
	lock := m.lockFor(accountId)
	lock.Lock()
	defer lock.Unlock()

	account, err := m.getAccount(accountId)
	if err != nil {
		return err
	}

	if err := m.update(account, map[string]interface{}{
		"process_status": domain.ProcessStopping,
	}); err != nil {
		return err
	}

	if account.Status == domain.AccountReady || account.Status == domain.AccountAuthenticated {
		if err := m.api.Logout(account); err != nil {
			zap.L().Warn("session: agent logout failed",
				zap.Int64("account_id", account.ID), zap.Error(err))
		}
	}
	if account.ProcessId > 0 {
		if err := m.proc.Stop(account.ProcessId); err != nil {
			zap.L().Warn("session: stop process failed",
				zap.Int64("account_id", account.ID),
				zap.Int("pid", account.ProcessId), zap.Error(err))
		}
	}

	return m.update(account, map[string]interface{}{
		"status":         domain.AccountDisconnected,
		"process_id":     0,
		"process_status": domain.ProcessStopped,
		"qr_code":        "",
		"qr_code_image":  []byte(nil),
	})
}

// restartGrace gives the agent process time to release the session dir
// between the disconnect and the fresh connect.
const restartGrace = 2 * time.Second

// Restart is a disconnect, a fixed grace interval, then a fresh connect.
func (m *Manager) Restart(accountId int64) error {
	if err := m.Disconnect(accountId); err != nil {
		return err
	}
	time.Sleep(restartGrace)
	return m.Connect(accountId)
}

// Reset disconnects the account and wipes the persisted session state so
// the next connect pairs from scratch.
func (m *Manager) Reset(accountId int64) error {
	if err := m.Disconnect(accountId); err != nil {
		return err
	}
	account, err := m.getAccount(accountId)
	if err != nil {
		return err
	}
	if err := m.proc.CleanSession(account); err != nil {
		zap.L().Warn("session: clean session dir failed",
			zap.Int64("account_id", account.ID), zap.Error(err))
	}
	return m.update(account, map[string]interface{}{
		"session_name": "",
		"session_data": "",
	})
}

// ApplyStateEvent persists a webhook state change: qr, authenticated,
// ready, disconnected or change_state.
func (m *Manager) ApplyStateEvent(account *domain.WhatsAppAccount, evType string, ev *webhook.StateEvent) error {
	values := map[string]interface{}{"last_seen": time.Now()}

	switch evType {
	case webhook.EventQR:
		values["status"] = domain.AccountQRCode
		values["qr_code"] = ev.QrCode
		if png, err := qrcode.Encode(ev.QrCode, qrcode.Medium, 256); err == nil {
			values["qr_code_image"] = png
		} else {
			zap.L().Warn("session: qr render failed",
				zap.Int64("account_id", account.ID), zap.Error(err))
		}
	case webhook.EventAuthenticated:
		values["status"] = domain.AccountAuthenticated
		values["qr_code"] = ""
		values["qr_code_image"] = []byte(nil)
	case webhook.EventReady:
		values["status"] = domain.AccountReady
		values["qr_code"] = ""
		values["qr_code_image"] = []byte(nil)
	case webhook.EventDisconnected:
		values["status"] = domain.AccountDisconnected
		values["qr_code"] = ""
		values["qr_code_image"] = []byte(nil)
	case webhook.EventStateChange:
		values["status"] = webhook.MapAgentStatus(ev.Status)
	default:
		return nil
	}
	return m.update(account, values)
}

// CheckAccount reconciles one account against its agent: a dead process
// forces the error state, otherwise the agent-reported status wins.
func (m *Manager) CheckAccount(account *domain.WhatsAppAccount) {
	if !account.IsActive() || account.Status == domain.AccountDisconnected {
		return
	}

	if account.ProcessId > 0 && !m.proc.IsRunning(account.ProcessId) {
		zap.L().Warn("session: agent process is gone",
			zap.Int64("account_id", account.ID), zap.Int("pid", account.ProcessId))
		_ = m.update(account, map[string]interface{}{
			"status":         domain.AccountError,
			"process_id":     0,
			"process_status": domain.ProcessStopped,
		})
		return
	}

	res, err := m.api.GetStatus(account)
	if err != nil {
		zap.L().Warn("session: health check request failed",
			zap.Int64("account_id", account.ID), zap.Error(err))
		_ = m.update(account, map[string]interface{}{"status": domain.AccountError})
		return
	}
	status := webhook.MapAgentStatus(res.Status)
	if status == account.Status {
		return
	}
	values := map[string]interface{}{
		"status":    status,
		"last_seen": time.Now(),
	}
	if status == domain.AccountQRCode {
		if qr, err := m.api.GetQR(account); err == nil && qr.QrCode != "" {
			values["qr_code"] = qr.QrCode
			if png, err := qrcode.Encode(qr.QrCode, qrcode.Medium, 256); err == nil {
				values["qr_code_image"] = png
			}
		}
	}
	_ = m.update(account, values)
}

// CheckAll fans the health check over every active account through a
// bounded worker pool.
func (m *Manager) CheckAll(poolSize int) {
	var accounts []domain.WhatsAppAccount
	if err := m.db.Where("active = 1").Find(&accounts).Error; err != nil {
		zap.L().Error("session: list accounts failed", zap.Error(err))
		return
	}
	if len(accounts) == 0 {
		return
	}
	if poolSize <= 0 {
		poolSize = 8
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		zap.L().Error("session: health pool init failed", zap.Error(err))
		return
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range accounts {
		account := accounts[i]
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			m.CheckAccount(&account)
		}); err != nil {
			wg.Done()
		}
	}
	wg.Wait()
}

func (m *Manager) update(account *domain.WhatsAppAccount, values map[string]interface{}) error {
	err := m.db.Model(&domain.WhatsAppAccount{}).
		Where("id = ?", account.ID).Updates(values).Error
	if err != nil {
		return errors.Wrap(err, "update account")
	}
	if status, ok := values["status"].(string); ok && status != account.Status {
		zap.L().Info("account status changed",
			zap.Int64("account_id", account.ID),
			zap.String("from", account.Status),
			zap.String("to", status))
		account.Status = status
		if m.bus != nil {
			m.bus.Publish(TopicAccountStatus, account.ID, status)
		}
	}
	if pid, ok := values["process_id"].(int); ok {
		account.ProcessId = pid
	}
	if ps, ok := values["process_status"].(string); ok {
		account.ProcessStatus = ps
	}
	if sn, ok := values["session_name"].(string); ok {
		account.SessionName = sn
	}
	if qr, ok := values["qr_code"].(string); ok {
		account.QrCode = qr
	}
	return nil
}
