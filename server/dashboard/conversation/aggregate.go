package conversation

import (
	"sort"
	"strings"

	"chatdesk/server/dashboard/domain"
	"chatdesk/server/dashboard/phone"
)

// Aggregator joins the contacts table with the received and sent streams.
type Aggregator struct {
	Phones phone.Normalizer
}

// Aggregate uses the canonical phone normalization.
func Aggregate(contacts []domain.Contact, messages []domain.Message, lastViewed map[string]int64, scope domain.Scope) []domain.ContactView {
	return Aggregator{}.Aggregate(contacts, messages, lastViewed, scope)
}

// Aggregate builds one ContactView per contact in scope, newest conversation
// first. lastViewed is keyed by normalized phone. Contacts without a
// resolvable last message time sort last.
func (a Aggregator) Aggregate(contacts []domain.Contact, messages []domain.Message, lastViewed map[string]int64, scope domain.Scope) []domain.ContactView {
	byPhone := a.GroupByPhone(messages, scope.CompanyID)

	type row struct {
		view domain.ContactView
		at   int64
	}
	rows := make([]row, 0, len(contacts))
	for _, c := range contacts {
		if !scope.MatchesContact(c) {
			continue
		}
		key := a.Phones.NormalizeForStorage(c.PhoneNumber)
		msgs := FoldReactions(byPhone[key])
		SortByTimestamp(msgs)

		view := domain.ContactView{
			PhoneNumber:  key,
			Name:         c.Name,
			Messages:     msgs,
			DepartmentID: c.DepartmentID,
			SectorID:     c.SectorID,
			TagIDs:       append([]string(nil), c.TagIDs...),
			ContactDBID:  c.ID,
			UnreadCount:  UnreadCount(msgs, lastViewed[key]),
		}
		if view.Name == "" {
			view.Name = key
		}

		at := int64(0)
		if last, ok := lastVisible(msgs); ok {
			at = ResolveTimestamp(last)
			view.LastMessage = Preview(last)
		} else {
			view.LastMessage = c.LastMessage
			if ms, ok := ParseDate(c.LastMessageTime); ok {
				at = ms
			}
		}
		view.LastMessageTime = FormatISO(at)
		rows = append(rows, row{view: view, at: at})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].at > rows[j].at
	})
	out := make([]domain.ContactView, len(rows))
	for i := range rows {
		out[i] = rows[i].view
	}
	return out
}

// GroupByPhone indexes messages of companyID (or without a company) by the
// normalized form of both numero and sender.
func (a Aggregator) GroupByPhone(messages []domain.Message, companyID string) map[string][]domain.Message {
	byPhone := map[string][]domain.Message{}
	for _, m := range messages {
		if m.CompanyID != "" && m.CompanyID != companyID {
			continue
		}
		numero := a.Phones.NormalizeForStorage(m.Numero)
		sender := a.Phones.NormalizeForStorage(m.Sender)
		if numero != "" {
			byPhone[numero] = append(byPhone[numero], m)
		}
		if sender != "" && sender != numero {
			byPhone[sender] = append(byPhone[sender], m)
		}
	}
	return byPhone
}

func lastVisible(msgs []domain.Message) (domain.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].IsSystem() {
			return msgs[i], true
		}
	}
	return domain.Message{}, false
}

// Preview is the list-row text for m: its body, or a label for media.
func Preview(m domain.Message) string {
	if text := strings.TrimSpace(m.Body); text != "" {
		return m.Body
	}
	if m.Base64 == "" && m.Mimetype == "" && !isMediaType(m.Type) {
		return ""
	}
	switch m.Type {
	case domain.TypeImage:
		return "Imagem"
	case domain.TypeAudio:
		return "Áudio"
	case domain.TypeDocument:
		return "Documento"
	case domain.TypeVideo:
		return "Vídeo"
	default:
		return "Mensagem"
	}
}

func isMediaType(t string) bool {
	switch t {
	case domain.TypeImage, domain.TypeAudio, domain.TypeDocument, domain.TypeVideo, domain.TypeSticker:
		return true
	}
	return false
}
