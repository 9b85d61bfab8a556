package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/talkincode/walink/internal/domain"
	"go.uber.org/zap"
)

// ProcessManager starts and stops the per-account agent OS process.
type ProcessManager struct {
	Script  string
	Workdir string
}

func NewProcessManager(script, workdir string) *ProcessManager {
	return &ProcessManager{Script: script, Workdir: workdir}
}

// sessionDir returns the per-account state directory created on demand.
func (m *ProcessManager) sessionDir(account *domain.WhatsAppAccount) string {
	return filepath.Join(m.Workdir, "sessions", account.SessionName)
}

// Start launches the agent process for the account and returns its pid.
// The process is detached from our lifecycle; supervision happens through
// the health check, not through Wait.
func (m *ProcessManager) Start(account *domain.WhatsAppAccount, webhookUrl string) (int, error) {
	if m.Script == "" {
		return 0, errors.New("agent script not configured")
	}
	dir := m.sessionDir(account)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Wrap(err, "create session dir")
	}

	args := []string{
		m.Script,
		"--session", account.SessionName,
		"--data-dir", dir,
		"--webhook", webhookUrl,
		"--phone", account.PhoneNumber,
	}
	if account.ApiKey != "" {
		args = append(args, "--api-key", account.ApiKey)
	}

	cmd := exec.Command("node", args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	logfile, err := os.OpenFile(filepath.Join(dir, "agent.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		cmd.Stdout = logfile
		cmd.Stderr = logfile
	}

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "start agent process")
	}
	pid := cmd.Process.Pid

	// Reap the child when it exits so it never lingers as a zombie.
	go func() {
		_ = cmd.Wait()
		if logfile != nil {
			_ = logfile.Close()
		}
		zap.L().Info("agent process exited",
			zap.Int64("account_id", account.ID), zap.Int("pid", pid))
	}()

	zap.L().Info("agent process started",
		zap.Int64("account_id", account.ID),
		zap.String("session", account.SessionName),
		zap.Int("pid", pid))
	return pid, nil
}

// IsRunning reports whether the recorded pid still maps to a live process.
// A zero pid is never running.
func (m *ProcessManager) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	return err == nil && running
}

// Stop terminates the agent process: SIGTERM first, then SIGKILL after a
// grace period if the process is still alive.
func (m *ProcessManager) Stop(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		// Already gone.
		return nil
	}
	if err := p.Terminate(); err != nil {
		zap.L().Warn("agent terminate failed, escalating",
			zap.Int("pid", pid), zap.Error(err))
	}
	time.Sleep(2 * time.Second)
	if running, _ := p.IsRunning(); running {
		if err := p.Kill(); err != nil {
			return errors.Wrap(err, fmt.Sprintf("kill agent pid %d", pid))
		}
	}
	zap.L().Info("agent process stopped", zap.Int("pid", pid))
	return nil
}

// CleanSession removes the on-disk session state, forcing a fresh pairing
// on the next start.
func (m *ProcessManager) CleanSession(account *domain.WhatsAppAccount) error {
	dir := m.sessionDir(account)
	if dir == "" || dir == "/" {
		return errors.New("refusing to remove session dir")
	}
	return os.RemoveAll(dir)
}
