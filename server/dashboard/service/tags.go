package service

import (
	"context"
	"strings"

	commonlog "chatdesk/server/common/log"
	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/repository"
)

type TagService struct {
	tags TagStore
	feed Feed
}

func NewTagService(tags TagStore, feed Feed) *TagService {
	return &TagService{tags: tags, feed: feed}
}

// NormalizeTagIDs trims, drops blanks and duplicates, keeping first-seen order.
func NormalizeTagIDs(tagIDs []string) []string {
	seen := make(map[string]struct{}, len(tagIDs))
	out := make([]string, 0, len(tagIDs))
	for _, id := range tagIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// UpdateTags replaces the contact's tags and returns the updated contact.
func (s *TagService) UpdateTags(ctx context.Context, contact domain.Contact, tagIDs []string) (domain.Contact, error) {
	if contact.ID == "" {
		return domain.Contact{}, invalid("Selecione um contato")
	}
	tagIDs = NormalizeTagIDs(tagIDs)
	if len(tagIDs) > domain.MaxContactTags {
		return domain.Contact{}, invalid("Um contato pode ter no máximo %d etiquetas", domain.MaxContactTags)
	}

	err := s.tags.UpdateContactTagsRPC(ctx, contact.ID, tagIDs)
	if err != nil && repository.IsUndefinedFunction(err) {
		commonlog.Infof("event=contact_tags_rpc status=absent contact_id=%s", contact.ID)
		err = s.tags.ReplaceContactTags(ctx, contact.ID, tagIDs)
	}
	if err != nil {
		commonlog.Errorf("event=contact_tags status=failed contact_id=%s error=%v", contact.ID, err)
		return domain.Contact{}, &OperationError{Message: repository.ErrorText(err), Err: err}
	}

	contact.TagIDs = tagIDs
	if s.feed != nil {
		if ev, err := domain.NewEvent(domain.TableContacts, domain.EventUpdate, contact.CompanyID, contact); err == nil {
			if err := s.feed.Publish(ctx, contact.CompanyID, domain.TableContacts, ev); err != nil {
				commonlog.Warnf("event=changefeed_publish status=failed table=%s contact_id=%s error=%v", domain.TableContacts, contact.ID, err)
			}
		}
	}
	return contact, nil
}
