package service

import (
	"context"
	"errors"
	"time"

	commonlog "chatdesk/server/common/log"
	"chatdesk/server/common/metrics"
	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/repository"
)

const EventContactTransferred = "contact.transferred"

type TransferRequest struct {
	ToDepartmentID string `json:"to_department_id"`
	ToSectorID     string `json:"to_sector_id"`
}

type TransferResult struct {
	Record  domain.TransferRecord `json:"record"`
	Contact domain.Contact        `json:"contact"`
	Path    string                `json:"path"`
	// Warning is set when the department moved but the sector did not.
	Warning string                `json:"warning,omitempty"`
}

type TransferCoordinator struct {
	contacts  ContactStore
	transfers TransferStore
	directory Directory
	feed      Feed
	events    EventPublisher
}

func NewTransferCoordinator(contacts ContactStore, transfers TransferStore, directory Directory, feed Feed, events EventPublisher) *TransferCoordinator {
	return &TransferCoordinator{contacts: contacts, transfers: transfers, directory: directory, feed: feed, events: events}
}

// Transfer moves contact to another department. departments is the
// directory the operator already loaded; validation only reads it and the
// contact, so a rejected request never reaches the store.
//
// The atomic procedure is tried first. Only when it is not deployed does the
// coordinator fall back to updating the contact and then writing history
// itself.
func (t *TransferCoordinator) Transfer(ctx context.Context, contact domain.Contact, departments map[string]domain.Department, req TransferRequest) (TransferResult, error) {
	if err := validateTransfer(contact, departments, req); err != nil {
		metrics.RecordTransfer("none", string(KindValidation))
		return TransferResult{}, err
	}

	startedAt := time.Now()
	path := "rpc"
	sectorID := req.ToSectorID
	warning := ""
	rec, err := t.transfers.TransferContactRPC(ctx, contact.CompanyID, contact.ID, req.ToDepartmentID)
	switch {
	case err == nil:
		if req.ToSectorID != "" {
			if err := t.contacts.UpdateContactDepartment(ctx, contact.CompanyID, contact.ID, req.ToDepartmentID, req.ToSectorID); err != nil {
				commonlog.Warnf("event=transfer_sector status=failed contact_id=%s sector_id=%s error=%v", contact.ID, req.ToSectorID, err)
				sectorID = contact.SectorID
				warning = "Setor não atualizado: " + repository.ErrorText(err)
			}
		}
	case repository.IsUndefinedFunction(err):
		path = "fallback"
		commonlog.Infof("event=transfer_rpc status=absent contact_id=%s error=%v", contact.ID, err)
		rec, err = t.fallback(ctx, contact, req)
		if err != nil {
			metrics.RecordTransfer(path, string(kindOf(err)))
			return TransferResult{}, err
		}
	default:
		commonlog.Errorf("event=transfer_rpc status=failed contact_id=%s error=%v", contact.ID, err)
		metrics.RecordTransfer(path, string(KindPersistenceFailure))
		return TransferResult{}, &TransferError{Kind: KindPersistenceFailure, Message: repository.ErrorText(err), Err: err}
	}

	if rec.CompanyID == "" {
		rec.CompanyID = contact.CompanyID
	}
	if rec.ContactID == "" {
		rec.ContactID = contact.ID
	}
	if rec.FromDepartmentID == "" {
		rec.FromDepartmentID = contact.DepartmentID
	}
	if rec.ToDepartmentID == "" {
		rec.ToDepartmentID = req.ToDepartmentID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	moved := contact
	moved.DepartmentID = req.ToDepartmentID
	moved.SectorID = sectorID
	moved.UpdatedAt = rec.CreatedAt

	t.announce(ctx, moved, rec)
	metrics.RecordTransfer(path, "ok")
	commonlog.Infof("event=transfer status=ok path=%s company_id=%s contact_id=%s from=%s to=%s latency_ms=%d", path, contact.CompanyID, contact.ID, rec.FromDepartmentID, rec.ToDepartmentID, time.Since(startedAt).Milliseconds())
	return TransferResult{Record: rec, Contact: moved, Path: path, Warning: warning}, nil
}

func validateTransfer(contact domain.Contact, departments map[string]domain.Department, req TransferRequest) error {
	if contact.ID == "" {
		return &TransferError{Kind: KindValidation, Message: "Selecione um contato"}
	}
	if req.ToDepartmentID == "" {
		return &TransferError{Kind: KindValidation, Message: "Selecione um departamento de destino"}
	}
	dept, ok := departments[req.ToDepartmentID]
	if !ok {
		return &TransferError{Kind: KindValidation, Message: "Departamento de destino desconhecido"}
	}
	if dept.CompanyID != "" && contact.CompanyID != "" && dept.CompanyID != contact.CompanyID {
		return &TransferError{Kind: KindValidation, Message: "Departamento de destino pertence a outra empresa"}
	}
	if req.ToDepartmentID == contact.DepartmentID {
		return &TransferError{Kind: KindValidation, Message: "O contato já está neste departamento"}
	}
	return nil
}

// fallback is the two-phase client-side transfer: move the contact, then
// record history. The phases are not atomic; a failed second phase leaves the
// contact moved without history and is logged for manual repair.
func (t *TransferCoordinator) fallback(ctx context.Context, contact domain.Contact, req TransferRequest) (domain.TransferRecord, error) {
	if err := t.contacts.UpdateContactDepartment(ctx, contact.CompanyID, contact.ID, req.ToDepartmentID, req.ToSectorID); err != nil {
		commonlog.Errorf("event=transfer_fallback phase=contact status=failed contact_id=%s error=%v", contact.ID, err)
		return domain.TransferRecord{}, &TransferError{Kind: KindPersistenceFailure, Message: repository.ErrorText(err), Err: err}
	}

	rec, err := t.recordHistory(ctx, contact, req)
	if err != nil {
		commonlog.Exceptionf("event=transfer_fallback status=partial company_id=%s contact_id=%s from=%s to=%s compensate=\"restore department_id=%s or insert transfer history\" error=%v",
			contact.CompanyID, contact.ID, contact.DepartmentID, req.ToDepartmentID, contact.DepartmentID, err)
		return domain.TransferRecord{}, &TransferError{Kind: KindUnknown, Message: repository.ErrorText(err), Err: err}
	}
	return rec, nil
}

func (t *TransferCoordinator) recordHistory(ctx context.Context, contact domain.Contact, req TransferRequest) (domain.TransferRecord, error) {
	company, err := t.directory.Company(ctx, contact.CompanyID)
	if err == nil && company.APIKey != "" {
		rec, err := t.transfers.RecordTransferRPC(ctx, company.APIKey, contact.ID, contact.DepartmentID, req.ToDepartmentID)
		if err == nil {
			return rec, nil
		}
		if !repository.IsUndefinedFunction(err) {
			return domain.TransferRecord{}, err
		}
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return domain.TransferRecord{}, err
	}
	return t.transfers.InsertTransfer(ctx, domain.TransferRecord{
		CompanyID:        contact.CompanyID,
		ContactID:        contact.ID,
		FromDepartmentID: contact.DepartmentID,
		ToDepartmentID:   req.ToDepartmentID,
	})
}

// announce propagates a completed transfer. Delivery is best effort; the
// store write already succeeded.
func (t *TransferCoordinator) announce(ctx context.Context, moved domain.Contact, rec domain.TransferRecord) {
	if t.feed != nil {
		if ev, err := domain.NewEvent(domain.TableContacts, domain.EventUpdate, moved.CompanyID, moved); err == nil {
			if err := t.feed.Publish(ctx, moved.CompanyID, domain.TableContacts, ev); err != nil {
				commonlog.Warnf("event=changefeed_publish status=failed table=%s contact_id=%s error=%v", domain.TableContacts, moved.ID, err)
			}
		}
		if ev, err := domain.NewEvent(domain.TableTransfers, domain.EventInsert, rec.CompanyID, rec); err == nil {
			if err := t.feed.Publish(ctx, rec.CompanyID, domain.TableTransfers, ev); err != nil {
				commonlog.Warnf("event=changefeed_publish status=failed table=%s contact_id=%s error=%v", domain.TableTransfers, rec.ContactID, err)
			}
		}
	}
	if t.events != nil {
		if err := t.events.Publish(ctx, rec.CompanyID, EventContactTransferred, rec); err != nil {
			commonlog.Warnf("event=mq_publish status=failed key=%s contact_id=%s error=%v", EventContactTransferred, rec.ContactID, err)
		}
	}
}

// History lists the company's transfers, newest first.
func (t *TransferCoordinator) History(ctx context.Context, companyID string) ([]domain.TransferRecord, error) {
	company, err := t.directory.Company(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company.APIKey != "" {
		items, err := t.transfers.ListTransfersRPC(ctx, company.APIKey)
		if err == nil {
			return items, nil
		}
		if !repository.IsUndefinedFunction(err) {
			return nil, err
		}
		commonlog.Infof("event=transfer_history_rpc status=absent company_id=%s", companyID)
	}
	return t.transfers.ListTransfers(ctx, companyID)
}

func kindOf(err error) TransferErrorKind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}
