package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	commonlog "chatdesk/server/common/log"
	"chatdesk/server/common/metrics"
	"chatdesk/server/dashboard/conversation"
	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/repository"
)

const EventMessageSent = "message.sent"

type SendRequest struct {
	Phone    string `json:"phone"`
	Body     string `json:"message"`
	Type     string `json:"tipomessage"`
	Caption  string `json:"caption"`
	Base64   string `json:"base64"`
	Mimetype string `json:"mimetype"`
}

// Sender writes operator messages into the sent stream and fans them out.
type Sender struct {
	messages  MessageStore
	contacts  ContactStore
	directory Directory
	feed      Feed
	events    EventPublisher
	webhook   *WebhookNotifier
	now       func() time.Time
}

func NewSender(messages MessageStore, contacts ContactStore, directory Directory, feed Feed, events EventPublisher, webhook *WebhookNotifier) *Sender {
	return &Sender{
		messages:  messages,
		contacts:  contacts,
		directory: directory,
		feed:      feed,
		events:    events,
		webhook:   webhook,
		now:       time.Now,
	}
}

// Send validates and persists one outbound message. The returned row is the
// stored one, so callers can merge it by id before the change feed echoes it.
// Webhook delivery happens afterwards and never fails the send.
func (s *Sender) Send(ctx context.Context, op Operator, contact domain.Contact, names Snapshot, req SendRequest) (domain.Message, error) {
	if contact.ID == "" {
		return domain.Message{}, invalid("Selecione um contato")
	}
	if op.CompanyID == "" {
		return domain.Message{}, invalid("Empresa não identificada")
	}
	departmentID := contact.DepartmentID
	sectorID := contact.SectorID
	if departmentID == "" {
		departmentID = op.DepartmentID
		sectorID = op.SectorID
	}
	if departmentID == "" {
		return domain.Message{}, invalid("Selecione um departamento")
	}
	req.Body = strings.TrimSpace(req.Body)
	if req.Body == "" && req.Base64 == "" {
		return domain.Message{}, invalid("Digite uma mensagem ou anexe um arquivo")
	}
	if req.Type == "" {
		req.Type = domain.TypeConversation
	}

	now := s.now().UTC()
	m := domain.Message{
		IDMessage:    strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")),
		Numero:       contact.PhoneNumber,
		Body:         req.Body,
		Type:         req.Type,
		Caption:      req.Caption,
		Base64:       req.Base64,
		Mimetype:     req.Mimetype,
		Timestamp:    strconv.FormatInt(now.Unix(), 10),
		DateTime:     now.Format(time.RFC3339),
		IsOutbound:   true,
		DepartmentID: departmentID,
		SectorID:     sectorID,
		CompanyID:    op.CompanyID,
	}

	startedAt := time.Now()
	stored, err := s.messages.InsertMessage(ctx, domain.TableMessagesSent, m)
	if err != nil {
		commonlog.Errorf("event=message_send status=failed company_id=%s contact_id=%s latency_ms=%d error=%v", op.CompanyID, contact.ID, time.Since(startedAt).Milliseconds(), err)
		return domain.Message{}, &OperationError{Message: repository.ErrorText(err), Err: err}
	}
	stored.IsOutbound = true
	if stored.Reactions == nil {
		stored.Reactions = []domain.Reaction{}
	}
	metrics.MessagesSentTotal.WithLabelValues(op.CompanyID).Inc()
	commonlog.Infof("event=message_send status=ok company_id=%s contact_id=%s message_id=%s user_id=%s latency_ms=%d", op.CompanyID, contact.ID, stored.ID, op.UserID, time.Since(startedAt).Milliseconds())

	if err := s.contacts.TouchLastMessage(ctx, contact.ID, conversation.Preview(stored), stored.DateTime); err != nil {
		commonlog.Warnf("event=contact_touch status=failed contact_id=%s error=%v", contact.ID, err)
	}
	s.announce(ctx, stored)
	s.notifyWebhook(ctx, stored, contact, names)
	return stored, nil
}

func (s *Sender) announce(ctx context.Context, m domain.Message) {
	if s.feed != nil {
		if ev, err := domain.NewEvent(domain.TableMessagesSent, domain.EventInsert, m.CompanyID, m); err == nil {
			if err := s.feed.Publish(ctx, m.CompanyID, domain.TableMessagesSent, ev); err != nil {
				commonlog.Warnf("event=changefeed_publish status=failed table=%s message_id=%s error=%v", domain.TableMessagesSent, m.ID, err)
			}
		}
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, m.CompanyID, EventMessageSent, m); err != nil {
			commonlog.Warnf("event=mq_publish status=failed key=%s message_id=%s error=%v", EventMessageSent, m.ID, err)
		}
	}
}

func (s *Sender) notifyWebhook(ctx context.Context, m domain.Message, contact domain.Contact, names Snapshot) {
	if s.webhook == nil {
		return
	}
	company := domain.Company{ID: m.CompanyID}
	if s.directory != nil {
		if c, err := s.directory.Company(ctx, m.CompanyID); err == nil {
			company = c
		} else {
			commonlog.Warnf("event=webhook_company status=failed company_id=%s error=%v", m.CompanyID, err)
		}
	}
	s.webhook.Fire(NewWebhookPayload(m, contact, names.DepartmentName(m.DepartmentID), names.SectorName(m.SectorID), company))
}
