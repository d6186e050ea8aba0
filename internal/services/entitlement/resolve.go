// Package entitlement works out which courses and groups a user should have
// from their active memberships and creates the access rows that are missing.
package entitlement

import (
	"bytes"
	"sort"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/google/uuid"
)

// MembershipLinks summarises what one membership grants
type MembershipLinks struct {
	MembershipID  uuid.UUID `json:"membership_id"`
	Name          string    `json:"name"`
	LinkedCourses int       `json:"linked_courses"`
	LinkedGroups  int       `json:"linked_groups"`
}

// Entitlements is the access set a user is owed
type Entitlements struct {
	UserID      models.UserID     `json:"user_id"`
	CourseIDs   []uuid.UUID       `json:"course_ids"`
	GroupIDs    []uuid.UUID       `json:"group_ids"`
	Memberships []MembershipLinks `json:"memberships"`
	// Unconfigured lists memberships with no linked course and no linked
	// group. That is missing admin setup, not a failure.
	Unconfigured []uuid.UUID `json:"unconfigured"`
}

// ResolveEntitlements returns the union of courses and groups linked to the
// given memberships. Callers pass only active memberships bought through a
// MEMBERSHIP transaction; the Courses and Groups associations must be loaded.
func ResolveEntitlements(userID models.UserID, memberships []models.Membership) Entitlements {
	out := Entitlements{
		UserID:       userID,
		CourseIDs:    []uuid.UUID{},
		GroupIDs:     []uuid.UUID{},
		Memberships:  []MembershipLinks{},
		Unconfigured: []uuid.UUID{},
	}

	courses := make(map[uuid.UUID]struct{})
	groups := make(map[uuid.UUID]struct{})
	seen := make(map[uuid.UUID]struct{})

	for _, m := range memberships {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}

		for _, c := range m.Courses {
			courses[c.ID] = struct{}{}
		}
		for _, g := range m.Groups {
			groups[g.ID] = struct{}{}
		}

		out.Memberships = append(out.Memberships, MembershipLinks{
			MembershipID:  m.ID,
			Name:          m.Name,
			LinkedCourses: len(m.Courses),
			LinkedGroups:  len(m.Groups),
		})
		if len(m.Courses) == 0 && len(m.Groups) == 0 {
			out.Unconfigured = append(out.Unconfigured, m.ID)
		}
	}

	out.CourseIDs = sortedIDs(courses)
	out.GroupIDs = sortedIDs(groups)
	return out
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

// missing returns the ids in want that are absent from have, in want's order
func missing(want []uuid.UUID, have map[uuid.UUID]struct{}) []uuid.UUID {
	out := []uuid.UUID{}
	for _, id := range want {
		if _, ok := have[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
