package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatdesk/server/dashboard/conversation"
	"chatdesk/server/dashboard/domain"
)

const receptionName = "Recepção"

// TransferBanner builds the UI-only message shown in a conversation after
// its contact changed department.
func TransferBanner(rec domain.TransferRecord, phoneKey, fromName, toName string) domain.Message {
	if fromName == "" {
		fromName = receptionName
	}
	if toName == "" {
		toName = "departamento desconhecido"
	}
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return domain.Message{
		ID:           uuid.NewString(),
		Numero:       phoneKey,
		Body:         fmt.Sprintf("Conversa transferida de %s para %s", fromName, toName),
		Type:         domain.TypeSystemTransfer,
		DateTime:     conversation.FormatISO(at.UnixMilli()),
		CompanyID:    rec.CompanyID,
		DepartmentID: rec.ToDepartmentID,
		Reactions:    []domain.Reaction{},
	}
}

// BannerKey is the dedupe key of a transfer banner: the transfer record id,
// or the contact and departments when the record has no id.
func BannerKey(rec domain.TransferRecord) string {
	if rec.ID != "" {
		return "transfer:" + rec.ID
	}
	return "transfer:" + rec.ContactID + "|" + rec.FromDepartmentID + "|" + rec.ToDepartmentID
}
