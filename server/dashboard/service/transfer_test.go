package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"chatdesk/server/common/infra/changefeed"
	"chatdesk/server/dashboard/domain"
)

var transferDepartments = map[string]domain.Department{
	"d1": {ID: "d1", CompanyID: "co", Name: "Vendas"},
	"d2": {ID: "d2", CompanyID: "co", Name: "Suporte"},
}

func transferFixture() (*TransferCoordinator, *fakeContacts, *fakeTransfers, *fakeDirectory, *fakeFeed, *fakeEvents, domain.Contact) {
	contact := domain.Contact{ID: "c1", CompanyID: "co", PhoneNumber: "5511999998888", DepartmentID: "d1"}
	contacts := newFakeContacts(contact)
	transfers := &fakeTransfers{}
	directory := &fakeDirectory{company: domain.Company{ID: "co", Name: "Acme", APIKey: "key"}}
	feed := &fakeFeed{}
	events := &fakeEvents{}
	return NewTransferCoordinator(contacts, transfers, directory, feed, events), contacts, transfers, directory, feed, events, contact
}

func TestTransferToSameDepartmentIsRejectedWithoutStoreCalls(t *testing.T) {
	coord, contacts, transfers, directory, feed, events, contact := transferFixture()

	_, err := coord.Transfer(context.Background(), contact, transferDepartments, TransferRequest{ToDepartmentID: "d1"})

	var te *TransferError
	if !errors.As(err, &te) || te.Kind != KindValidation {
		t.Fatalf("err = %v, want validation TransferError", err)
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("validation transfer errors should match ErrValidation")
	}
	if n := contacts.count() + transfers.count() + directory.count(); n != 0 {
		t.Errorf("store calls = %d, want 0", n)
	}
	if len(feed.published) != 0 || len(events.list()) != 0 {
		t.Error("nothing may be published for a rejected transfer")
	}
}

func TestTransferValidation(t *testing.T) {
	coord, _, transfers, _, _, _, contact := transferFixture()
	tests := []struct {
		name    string
		contact domain.Contact
		req     TransferRequest
	}{
		{"no contact", domain.Contact{}, TransferRequest{ToDepartmentID: "d2"}},
		{"no destination", contact, TransferRequest{}},
		{"unknown destination", contact, TransferRequest{ToDepartmentID: "d9"}},
		{"other company", contact, TransferRequest{ToDepartmentID: "dx"}},
	}
	depts := map[string]domain.Department{"d2": transferDepartments["d2"], "dx": {ID: "dx", CompanyID: "other"}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coord.Transfer(context.Background(), tt.contact, depts, tt.req)
			var te *TransferError
			if !errors.As(err, &te) || te.Kind != KindValidation {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
	if transfers.count() != 0 {
		t.Errorf("transfer store calls = %d, want 0", transfers.count())
	}
}

func TestTransferUsesAtomicProcedure(t *testing.T) {
	coord, contacts, transfers, _, feed, events, contact := transferFixture()

	res, err := coord.Transfer(context.Background(), contact, transferDepartments, TransferRequest{ToDepartmentID: "d2"})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if res.Path != "rpc" {
		t.Errorf("path = %q, want rpc", res.Path)
	}
	if got := transfers.calls; len(got) != 1 || got[0] != "transfer_rpc" {
		t.Errorf("transfer calls = %v", got)
	}
	if contacts.count() != 0 {
		t.Errorf("contact store calls = %d, want 0 without a sector", contacts.count())
	}
	if res.Record.FromDepartmentID != "d1" || res.Record.ToDepartmentID != "d2" {
		t.Errorf("record = %+v", res.Record)
	}
	if res.Contact.DepartmentID != "d2" {
		t.Errorf("moved contact department = %q", res.Contact.DepartmentID)
	}
	if feed.publishedTo(changefeed.Channel("co", domain.TableTransfers)) != 1 {
		t.Error("transfer insert not published on the change feed")
	}
	if feed.publishedTo(changefeed.Channel("co", domain.TableContacts)) != 1 {
		t.Error("contact update not published on the change feed")
	}
	if got := events.list(); len(got) != 1 || got[0] != "co."+EventContactTransferred {
		t.Errorf("events = %v", got)
	}
}

func TestTransferFallsBackWhenProcedureIsMissing(t *testing.T) {
	coord, contacts, transfers, _, _, _, contact := transferFixture()
	transfers.rpcErr = errors.New("function transfer_contact_department(uuid, uuid, uuid) does not exist")

	res, err := coord.Transfer(context.Background(), contact, transferDepartments, TransferRequest{ToDepartmentID: "d2", ToSectorID: "s2"})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if res.Path != "fallback" {
		t.Errorf("path = %q, want fallback", res.Path)
	}
	want := []string{"transfer_rpc", "record_rpc"}
	if len(transfers.calls) != len(want) || transfers.calls[0] != want[0] || transfers.calls[1] != want[1] {
		t.Errorf("transfer calls = %v, want %v", transfers.calls, want)
	}
	if got := contacts.contacts["c1"]; got.DepartmentID != "d2" || got.SectorID != "s2" {
		t.Errorf("contact after fallback = %+v", got)
	}
}

func TestTransferFallbackInsertsHistoryWhenRecordProcedureIsMissing(t *testing.T) {
	coord, _, transfers, _, _, _, contact := transferFixture()
	missing := &pgconn.PgError{Code: "42883", Message: "function does not exist"}
	transfers.rpcErr = missing
	transfers.recordErr = missing

	res, err := coord.Transfer(context.Background(), contact, transferDepartments, TransferRequest{ToDepartmentID: "d2"})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if last := transfers.calls[len(transfers.calls)-1]; last != "insert" {
		t.Errorf("last call = %q, want insert", last)
	}
	if res.Record.ID == "" || res.Record.FromDepartmentID != "d1" {
		t.Errorf("record = %+v", res.Record)
	}
}

func TestTransferProcedureFailureAbortsWithServerText(t *testing.T) {
	coord, contacts, transfers, _, feed, _, contact := transferFixture()
	transfers.rpcErr = &pgconn.PgError{Code: "P0001", Message: "Contato bloqueado para transferência"}

	_, err := coord.Transfer(context.Background(), contact, transferDepartments, TransferRequest{ToDepartmentID: "d2"})

	var te *TransferError
	if !errors.As(err, &te) || te.Kind != KindPersistenceFailure {
		t.Fatalf("err = %v, want persistence_failure", err)
	}
	if te.Message != "Contato bloqueado para transferência" {
		t.Errorf("message = %q", te.Message)
	}
	if len(transfers.calls) != 1 || contacts.count() != 0 {
		t.Errorf("no fallback expected, calls = %v contact calls = %d", transfers.calls, contacts.count())
	}
	if len(feed.published) != 0 {
		t.Error("failed transfer must not be published")
	}
}

func TestTransferFallbackContactUpdateFailure(t *testing.T) {
	coord, contacts, transfers, _, _, _, contact := transferFixture()
	transfers.rpcErr = errors.New("function transfer_contact_department does not exist")
	contacts.updErr = errors.New("permission denied for table contacts")

	_, err := coord.Transfer(context.Background(), contact, transferDepartments, TransferRequest{ToDepartmentID: "d2"})

	var te *TransferError
	if !errors.As(err, &te) || te.Kind != KindPersistenceFailure {
		t.Fatalf("err = %v, want persistence_failure", err)
	}
	if len(transfers.calls) != 1 {
		t.Errorf("history must not be written, calls = %v", transfers.calls)
	}
}

func TestTransferFallbackHistoryFailureIsUnknown(t *testing.T) {
	coord, _, transfers, _, feed, _, contact := transferFixture()
	transfers.rpcErr = errors.New("function transfer_contact_department does not exist")
	transfers.recordErr = errors.New("function registrar_transferencia_por_contact_id does not exist")
	transfers.insertErr = errors.New("insert or update on table transfers violates foreign key constraint")

	_, err := coord.Transfer(context.Background(), contact, transferDepartments, TransferRequest{ToDepartmentID: "d2"})

	var te *TransferError
	if !errors.As(err, &te) || te.Kind != KindUnknown {
		t.Fatalf("err = %v, want unknown", err)
	}
	if len(feed.published) != 0 {
		t.Error("partial transfer must not be announced")
	}
}

func TestTransferHistoryFallsBackToDirectSelect(t *testing.T) {
	coord, _, transfers, _, _, _, _ := transferFixture()

	items, err := coord.History(context.Background(), "co")
	if err != nil || len(items) != 1 || items[0].ID != "rpc" {
		t.Fatalf("History = %v, %v", items, err)
	}

	transfers.rpcErr = errors.New("function listar_transferencias(text) does not exist")
	items, err = coord.History(context.Background(), "co")
	if err != nil || len(items) != 1 || items[0].ID != "direct" {
		t.Fatalf("History fallback = %v, %v", items, err)
	}
}

func TestTransferSectorFailureKeepsOldSector(t *testing.T) {
	coord, contacts, _, _, _, _, contact := transferFixture()
	contact.SectorID = "s1"
	contacts.updErr = errors.New("sector fk violation")

	res, err := coord.Transfer(context.Background(), contact, transferDepartments, TransferRequest{ToDepartmentID: "d2", ToSectorID: "s2"})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if res.Contact.DepartmentID != "d2" {
		t.Errorf("department = %q, want d2", res.Contact.DepartmentID)
	}
	if res.Contact.SectorID != "s1" {
		t.Errorf("sector = %q, want the unchanged s1", res.Contact.SectorID)
	}
	if res.Warning == "" {
		t.Error("sector failure not reported")
	}
}

func TestTransferSectorSuccessHasNoWarning(t *testing.T) {
	coord, contacts, _, _, _, _, contact := transferFixture()

	res, err := coord.Transfer(context.Background(), contact, transferDepartments, TransferRequest{ToDepartmentID: "d2", ToSectorID: "s2"})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if res.Contact.SectorID != "s2" || res.Warning != "" {
		t.Errorf("result = %+v", res)
	}
	if contacts.count() != 1 {
		t.Errorf("contact store calls = %d, want 1", contacts.count())
	}
}
