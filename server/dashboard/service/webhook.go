package service

import (
	"context"
	"errors"
	"time"

	"chatdesk/server/common/infra/webhook"
	commonlog "chatdesk/server/common/log"
	"chatdesk/server/common/metrics"
	"chatdesk/server/dashboard/domain"
)

// WebhookPayload is what the automation endpoint receives for every
// outbound message.
type WebhookPayload struct {
	Numero          string `json:"numero"`
	Message         string `json:"message"`
	TipoMessage     string `json:"tipomessage"`
	Base64          string `json:"base64"`
	Caption         string `json:"caption"`
	IDMessage       string `json:"idmessage"`
	PushName        string `json:"pushname"`
	Timestamp       string `json:"timestamp"`
	Instancia       string `json:"instancia"`
	ApiKeyInstancia string `json:"apikey_instancia"`
	DepartmentID    string `json:"department_id"`
	DepartmentName  string `json:"department_name"`
	SectorID        string `json:"sector_id"`
	SectorName      string `json:"sector_name"`
	CompanyID       string `json:"company_id"`
	CompanyName     string `json:"company_name"`
}

type webhookPoster interface {
	Enabled() bool
	Post(ctx context.Context, payload any) error
}

// WebhookNotifier delivers outbound messages to the automation endpoint at
// most once. Failures are logged and counted, never returned.
type WebhookNotifier struct {
	client  webhookPoster
	timeout time.Duration
}

func NewWebhookNotifier(client *webhook.Client, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{client: client, timeout: timeout}
}

func NewWebhookPayload(m domain.Message, contact domain.Contact, departmentName, sectorName string, company domain.Company) WebhookPayload {
	return WebhookPayload{
		Numero:          m.Numero,
		Message:         m.Body,
		TipoMessage:     m.Type,
		Base64:          m.Base64,
		Caption:         m.Caption,
		IDMessage:       m.IDMessage,
		PushName:        contact.Name,
		Timestamp:       m.Timestamp,
		Instancia:       m.Instancia,
		ApiKeyInstancia: m.ApiKeyInstancia,
		DepartmentID:    m.DepartmentID,
		DepartmentName:  departmentName,
		SectorID:        m.SectorID,
		SectorName:      sectorName,
		CompanyID:       m.CompanyID,
		CompanyName:     company.Name,
	}
}

// Fire posts payload on its own goroutine and returns immediately.
func (n *WebhookNotifier) Fire(payload WebhookPayload) {
	if n == nil || n.client == nil || !n.client.Enabled() {
		return
	}
	go n.deliver(payload)
}

func (n *WebhookNotifier) deliver(payload WebhookPayload) {
	timeout := n.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	startedAt := time.Now()
	err := n.client.Post(ctx, payload)
	switch {
	case err == nil:
		metrics.RecordWebhook("ok")
		commonlog.Debugf("event=webhook_deliver status=ok idmessage=%s latency_ms=%d", payload.IDMessage, time.Since(startedAt).Milliseconds())
	case errors.Is(err, webhook.ErrCoolingDown):
		metrics.RecordWebhook("skipped")
		commonlog.Warnf("event=webhook_deliver status=skipped idmessage=%s reason=cooldown", payload.IDMessage)
	default:
		metrics.RecordWebhook("failed")
		commonlog.Errorf("event=webhook_deliver status=failed idmessage=%s company_id=%s latency_ms=%d error=%v", payload.IDMessage, payload.CompanyID, time.Since(startedAt).Milliseconds(), err)
	}
}
