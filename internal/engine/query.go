package engine

import (
	"sort"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

// Filter selects approval requests. Zero-valued fields do not constrain.
// Date ranges are inclusive.
type Filter struct {
	Statuses    []approval.Status `json:"statuses,omitempty"`
	ObjectType  string            `json:"object_type,omitempty"`
	ObjectID    string            `json:"object_id,omitempty"`
	RequesterID string            `json:"requester_id,omitempty"`
	ApproverID  string            `json:"approver_id,omitempty"`
	PendingFor  string            `json:"pending_for,omitempty"`
	CreatedFrom *time.Time        `json:"created_from,omitempty"`
	CreatedTo   *time.Time        `json:"created_to,omitempty"`
	ExpiresFrom *time.Time        `json:"expires_from,omitempty"`
	ExpiresTo   *time.Time        `json:"expires_to,omitempty"`
}

// Matches reports whether req satisfies every set constraint
func (f Filter) Matches(req *approval.Request) bool {
	if req == nil {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, req.Status) {
		return false
	}
	if f.ObjectType != "" && req.Object.Type != f.ObjectType {
		return false
	}
	if f.ObjectID != "" && req.Object.ID != f.ObjectID {
		return false
	}
	if f.RequesterID != "" && req.RequesterID != f.RequesterID {
		return false
	}
	if f.ApproverID != "" && !req.IsAssigned(f.ApproverID) {
		return false
	}
	if f.PendingFor != "" && !req.IsPendingFor(f.PendingFor) {
		return false
	}
	if !inRange(&req.CreatedAt, f.CreatedFrom, f.CreatedTo) {
		return false
	}
	if (f.ExpiresFrom != nil || f.ExpiresTo != nil) && !inRange(req.ExpiresAt, f.ExpiresFrom, f.ExpiresTo) {
		return false
	}
	return true
}

// SortField names a sortable request attribute
type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortUpdatedAt SortField = "updated_at"
	SortExpiresAt SortField = "expires_at"
	SortStatus    SortField = "status"
)

// ParseSortField validates a sort field name. Empty means created_at.
func ParseSortField(s string) (SortField, error) {
	switch SortField(s) {
	case "":
		return SortCreatedAt, nil
	case SortCreatedAt, SortUpdatedAt, SortExpiresAt, SortStatus:
		return SortField(s), nil
	}
	return "", approval.NewError(approval.KindValidation, "unknown sort field %q", s)
}

// Sort orders query results
type Sort struct {
	Field      SortField `json:"field"`
	Descending bool      `json:"descending"`
}

// Page bounds a result set. A zero Limit returns everything after Offset.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// FilterRequests returns the requests matching f, preserving input order
func FilterRequests(reqs []*approval.Request, f Filter) []*approval.Request {
	out := make([]*approval.Request, 0, len(reqs))
	for _, r := range reqs {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// SortRequests returns a stably sorted copy of reqs. Status sorts by
// severity. Requests without an expiry sort last in either direction.
func SortRequests(reqs []*approval.Request, s Sort) []*approval.Request {
	out := append([]*approval.Request(nil), reqs...)
	field := s.Field
	if field == "" {
		field = SortCreatedAt
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if field == SortExpiresAt {
			switch {
			case a.ExpiresAt == nil:
				return false
			case b.ExpiresAt == nil:
				return true
			}
		}
		c := compareRequests(a, b, field)
		if s.Descending {
			return c > 0
		}
		return c < 0
	})
	return out
}

// Paginate applies p to reqs
func Paginate(reqs []*approval.Request, p Page) []*approval.Request {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Offset >= len(reqs) {
		return []*approval.Request{}
	}
	end := len(reqs)
	if p.Limit > 0 && p.Offset+p.Limit < end {
		end = p.Offset + p.Limit
	}
	return reqs[p.Offset:end]
}

// Query filters, sorts and paginates reqs, returning the page and the total match count
func Query(reqs []*approval.Request, f Filter, s Sort, p Page) ([]*approval.Request, int) {
	matched := SortRequests(FilterRequests(reqs, f), s)
	return Paginate(matched, p), len(matched)
}

func compareRequests(a, b *approval.Request, field SortField) int {
	switch field {
	case SortUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case SortExpiresAt:
		return a.ExpiresAt.Compare(*b.ExpiresAt)
	case SortStatus:
		return a.Status.Severity() - b.Status.Severity()
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func inRange(t *time.Time, from, to *time.Time) bool {
	if from == nil && to == nil {
		return true
	}
	if t == nil {
		return false
	}
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func containsStatus(list []approval.Status, s approval.Status) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
