// Package agent talks to the per-account WhatsApp bridge process: a node
// program exposing a small HTTP API and posting events back to our webhook.
package agent

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/guonaihong/gout"
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/domain"
)

// SendError is returned when the agent rejects or fails a send request.
// Code carries the agent-side error class when available.
type SendError struct {
	Code    string
	Message string
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agent send failed: %s: %s", e.Code, e.Message)
	}
	return "agent send failed: " + e.Message
}

// Client calls one account's agent HTTP API. Endpoint and key come from
// the account row so every account may point at a different bridge.
type Client struct {
	timeout time.Duration
}

func NewClient(timeoutSec int) *Client {
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &Client{timeout: time.Duration(timeoutSec) * time.Second}
}

func (c *Client) url(account *domain.WhatsAppAccount, path string) string {
	return strings.TrimRight(account.ApiEndpoint, "/") + path
}

func (c *Client) headers(account *domain.WhatsAppAccount) gout.H {
	h := gout.H{"X-Session-Name": account.SessionName}
	if account.ApiKey != "" {
		h["X-Api-Key"] = account.ApiKey
	}
	return h
}

// StatusResult is the agent's view of the session.
type StatusResult struct {
	Status    string `json:"status"`
	Phone     string `json:"phone"`
	PushName  string `json:"push_name"`
	Connected bool   `json:"connected"`
}

// GetStatus fetches the current session status from the agent.
func (c *Client) GetStatus(account *domain.WhatsAppAccount) (*StatusResult, error) {
	var res StatusResult
	var code int
	err := gout.GET(c.url(account, "/api/status")).
		SetHeader(c.headers(account)).
		SetTimeout(c.timeout).
		BindJSON(&res).
		Code(&code).
		Do()
	if err != nil {
		return nil, errors.Wrap(err, "agent status request")
	}
	if code != http.StatusOK {
		return nil, errors.Errorf("agent status request: http %d", code)
	}
	return &res, nil
}

// QRResult carries the pairing payload emitted while the session waits
// for a device scan.
type QRResult struct {
	QrCode string `json:"qr_code"`
	Status string `json:"status"`
}

// GetQR fetches the current pairing QR content, empty when none is pending.
func (c *Client) GetQR(account *domain.WhatsAppAccount) (*QRResult, error) {
	var res QRResult
	var code int
	err := gout.GET(c.url(account, "/api/qr")).
		SetHeader(c.headers(account)).
		SetTimeout(c.timeout).
		BindJSON(&res).
		Code(&code).
		Do()
	if err != nil {
		return nil, errors.Wrap(err, "agent qr request")
	}
	if code != http.StatusOK {
		return nil, errors.Errorf("agent qr request: http %d", code)
	}
	return &res, nil
}

// SendRequest is the outbound unit handed to the agent.
type SendRequest struct {
	To          string `json:"to"`
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
	MediaUrl    string `json:"media_url,omitempty"`
	ReplyTo     string `json:"reply_to,omitempty"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageId string `json:"message_id"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

// Send delivers one message through the agent, returning the agent-side
// message id. Failures are reported as *SendError.
func (c *Client) Send(account *domain.WhatsAppAccount, req *SendRequest) (string, error) {
	var res sendResponse
	var code int
	err := gout.POST(c.url(account, "/api/send")).
		SetHeader(c.headers(account)).
		SetTimeout(c.timeout).
		SetJSON(req).
		BindJSON(&res).
		Code(&code).
		Do()
	if err != nil {
		return "", &SendError{Message: err.Error()}
	}
	if code != http.StatusOK || !res.Success {
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("http %d", code)
		}
		return "", &SendError{Code: res.ErrorCode, Message: msg}
	}
	return res.MessageId, nil
}

// Contact is one entry from the agent's contact export.
type Contact struct {
	Id         string `json:"id"`
	Name       string `json:"name"`
	PushName   string `json:"push_name"`
	Number     string `json:"number"`
	IsBusiness bool   `json:"is_business"`
	IsContact  bool   `json:"is_my_contact"`
	ProfilePic string `json:"profile_pic_url"`
}

// GetContacts fetches the full contact roster from the agent.
func (c *Client) GetContacts(account *domain.WhatsAppAccount) ([]Contact, error) {
	var res struct {
		Contacts []Contact `json:"contacts"`
	}
	var code int
	err := gout.GET(c.url(account, "/api/contacts")).
		SetHeader(c.headers(account)).
		SetTimeout(c.timeout * 3).
		BindJSON(&res).
		Code(&code).
		Do()
	if err != nil {
		return nil, errors.Wrap(err, "agent contacts request")
	}
	if code != http.StatusOK {
		return nil, errors.Errorf("agent contacts request: http %d", code)
	}
	return res.Contacts, nil
}

// GroupParticipant is one member in a group info result.
type GroupParticipant struct {
	Id      string `json:"id"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
	IsOwner bool   `json:"is_super_admin"`
}

// Group is one entry from the agent's group export.
type Group struct {
	Id           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	IsAdmin      bool               `json:"is_admin"`
	Participants []GroupParticipant `json:"participants"`
}

// GetGroups fetches the groups the session participates in, including
// member rosters.
func (c *Client) GetGroups(account *domain.WhatsAppAccount) ([]Group, error) {
	var res struct {
		Groups []Group `json:"groups"`
	}
	var code int
	err := gout.GET(c.url(account, "/api/groups")).
		SetHeader(c.headers(account)).
		SetTimeout(c.timeout * 3).
		BindJSON(&res).
		Code(&code).
		Do()
	if err != nil {
		return nil, errors.Wrap(err, "agent groups request")
	}
	if code != http.StatusOK {
		return nil, errors.Errorf("agent groups request: http %d", code)
	}
	return res.Groups, nil
}

// Logout asks the agent to drop the current session credentials.
func (c *Client) Logout(account *domain.WhatsAppAccount) error {
	var code int
	err := gout.POST(c.url(account, "/api/logout")).
		SetHeader(c.headers(account)).
		SetTimeout(c.timeout).
		Code(&code).
		Do()
	if err != nil {
		return errors.Wrap(err, "agent logout request")
	}
	if code != http.StatusOK {
		return errors.Errorf("agent logout request: http %d", code)
	}
	return nil
}
