package service

import (
	"context"

	"chatdesk/server/common/infra/changefeed"
	"chatdesk/server/dashboard/domain"
)

type ContactStore interface {
	ListContacts(ctx context.Context, companyID string) ([]domain.Contact, error)
	GetContact(ctx context.Context, companyID, contactID string) (domain.Contact, error)
	FindContactByPhone(ctx context.Context, companyID, phone string) (domain.Contact, error)
	EnsureContact(ctx context.Context, companyID, phone, name string) (domain.Contact, bool, error)
	UpdateContactDepartment(ctx context.Context, companyID, contactID, departmentID, sectorID string) error
	TouchLastMessage(ctx context.Context, contactID, preview, at string) error
}

type TagStore interface {
	UpdateContactTagsRPC(ctx context.Context, contactID string, tagIDs []string) error
	ReplaceContactTags(ctx context.Context, contactID string, tagIDs []string) error
}

type MessageStore interface {
	ListMessages(ctx context.Context, table, companyID string, phones ...string) ([]domain.Message, error)
	InsertMessage(ctx context.Context, table string, m domain.Message) (domain.Message, error)
}

type TransferStore interface {
	TransferContactRPC(ctx context.Context, companyID, contactID, toDepartmentID string) (domain.TransferRecord, error)
	RecordTransferRPC(ctx context.Context, apiKey, contactID, fromDepartmentID, toDepartmentID string) (domain.TransferRecord, error)
	InsertTransfer(ctx context.Context, t domain.TransferRecord) (domain.TransferRecord, error)
	ListTransfersRPC(ctx context.Context, apiKey string) ([]domain.TransferRecord, error)
	ListTransfers(ctx context.Context, companyID string) ([]domain.TransferRecord, error)
}

type Directory interface {
	Company(ctx context.Context, companyID string) (domain.Company, error)
	Departments(ctx context.Context, companyID string) ([]domain.Department, error)
	Sectors(ctx context.Context, companyID string) ([]domain.Sector, error)
}

// Subscription is a live change-feed subscription. After Close returns its
// handler is never invoked again.
type Subscription interface {
	Close()
}

type Feed interface {
	Publish(ctx context.Context, companyID, table string, payload any) error
	Subscribe(ctx context.Context, companyID, table string, filter changefeed.Filter, fn changefeed.Handler) (Subscription, error)
}

// EventPublisher emits domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, companyID, event string, payload any) error
}

type redisFeed struct {
	feed *changefeed.Feed
}

// NewRedisFeed adapts the redis change feed to Feed.
func NewRedisFeed(feed *changefeed.Feed) Feed {
	return redisFeed{feed: feed}
}

func (f redisFeed) Publish(ctx context.Context, companyID, table string, payload any) error {
	return f.feed.Publish(ctx, companyID, table, payload)
}

func (f redisFeed) Subscribe(ctx context.Context, companyID, table string, filter changefeed.Filter, fn changefeed.Handler) (Subscription, error) {
	sub, err := f.feed.Subscribe(ctx, companyID, table, filter, fn)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
