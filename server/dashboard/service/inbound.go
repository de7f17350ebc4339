package service

import (
	"context"
	"encoding/json"
	"time"

	commonlog "chatdesk/server/common/log"
	"chatdesk/server/dashboard/conversation"
	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/phone"
	"chatdesk/server/dashboard/repository"
)

// InboundMessage is one channel event as delivered by the messaging instance:
// a received-stream row plus the sender's display name.
type InboundMessage struct {
	Message  domain.Message
	PushName string
}

func (in *InboundMessage) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &in.Message); err != nil {
		return err
	}
	var extra struct {
		PushName string `json:"pushname"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	in.PushName = extra.PushName
	return nil
}

// Ingestor stores inbound channel events in the received stream.
type Ingestor struct {
	messages MessageStore
	contacts ContactStore
	feed     Feed
	phones   phone.Normalizer
}

func NewIngestor(messages MessageStore, contacts ContactStore, feed Feed, phones phone.Normalizer) *Ingestor {
	return &Ingestor{messages: messages, contacts: contacts, feed: feed, phones: phones}
}

// Ingest stores in for company. A contact is created in reception when the
// phone has none yet.
func (i *Ingestor) Ingest(ctx context.Context, company domain.Company, in InboundMessage) (domain.Message, error) {
	m := in.Message
	phoneKey := i.phones.NormalizeForStorage(m.Phone())
	if phoneKey == "" {
		return domain.Message{}, invalid("numero is required")
	}
	if m.Type == "" {
		m.Type = domain.TypeConversation
	}
	if !m.IsReaction() && m.Body == "" && m.Base64 == "" && m.Caption == "" {
		return domain.Message{}, invalid("message or media is required")
	}
	m.CompanyID = company.ID
	m.IsOutbound = false

	contact, created, err := i.contacts.EnsureContact(ctx, company.ID, phoneKey, in.PushName)
	if err != nil {
		return domain.Message{}, &OperationError{Message: repository.ErrorText(err), Err: err}
	}
	if m.DepartmentID == "" {
		m.DepartmentID = contact.DepartmentID
		m.SectorID = contact.SectorID
	}

	stored, err := i.messages.InsertMessage(ctx, domain.TableMessagesReceived, m)
	if err != nil {
		commonlog.Errorf("event=inbound_ingest status=failed company_id=%s phone=%s error=%v", company.ID, phoneKey, err)
		return domain.Message{}, &OperationError{Message: repository.ErrorText(err), Err: err}
	}
	stored.IsOutbound = false

	if !stored.IsReaction() {
		at := conversation.FormatISO(conversation.ResolveTimestamp(stored))
		if at == "" {
			at = time.Now().UTC().Format(time.RFC3339)
		}
		if err := i.contacts.TouchLastMessage(ctx, contact.ID, conversation.Preview(stored), at); err != nil {
			commonlog.Warnf("event=contact_touch status=failed contact_id=%s error=%v", contact.ID, err)
		} else {
			contact.LastMessage = conversation.Preview(stored)
			contact.LastMessageTime = at
		}
	}

	if created {
		i.publish(ctx, domain.TableContacts, domain.EventInsert, company.ID, contact)
	}
	i.publish(ctx, domain.TableMessagesReceived, domain.EventInsert, company.ID, stored)
	commonlog.Infof("event=inbound_ingest status=ok company_id=%s contact_id=%s message_id=%s contact_created=%t", company.ID, contact.ID, stored.ID, created)
	return stored, nil
}

func (i *Ingestor) publish(ctx context.Context, table string, eventType domain.EventType, companyID string, row any) {
	if i.feed == nil {
		return
	}
	ev, err := domain.NewEvent(table, eventType, companyID, row)
	if err != nil {
		return
	}
	if err := i.feed.Publish(ctx, companyID, table, ev); err != nil {
		commonlog.Warnf("event=changefeed_publish status=failed table=%s error=%v", table, err)
	}
}
