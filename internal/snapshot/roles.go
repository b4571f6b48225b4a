package snapshot

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/cytomig/cytomig/internal/cytomine"
)

// Role tags why a user is part of the snapshot. A user accretes one tag
// per way the graph walk reached them; the import side turns the tags
// back into project memberships and impersonation targets.
type Role string

const (
	RoleProjectManager        Role = "project_manager"
	RoleProjectContributor    Role = "project_contributor"
	RoleOntologyCreator       Role = "ontology_creator"
	RoleImageCreator          Role = "image_creator"
	RoleImageReviewer         Role = "image_reviewer"
	RoleAnnotationCreator     Role = "userannotation_creator"
	RoleAnnotationTermCreator Role = "userannotationterm_creator"
)

// RoleSet is an unordered set of role tags. It marshals as a sorted
// JSON array so snapshot documents are byte-stable.
type RoleSet map[Role]struct{}

func (s RoleSet) Add(role Role) {
	s[role] = struct{}{}
}

func (s RoleSet) Has(role Role) bool {
	_, ok := s[role]
	return ok
}

func (s RoleSet) MarshalJSON() ([]byte, error) {
	roles := make([]string, 0, len(s))
	for role := range s {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)
	return json.Marshal(roles)
}

func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var roles []string
	if err := json.Unmarshal(data, &roles); err != nil {
		return err
	}
	set := make(RoleSet, len(roles))
	for _, role := range roles {
		set[Role(role)] = struct{}{}
	}
	*s = set
	return nil
}

// UserLedger accretes every user the export walk touches. The first
// sighting fixes the user's fields; later sightings only union in more
// roles.
type UserLedger struct {
	mu    sync.Mutex
	byID  map[int64]*User
	order []int64
}

func NewUserLedger() *UserLedger {
	return &UserLedger{byID: make(map[int64]*User)}
}

// Record notes a sighting of the user under the role.
func (l *UserLedger) Record(user cytomine.User, role Role) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.byID[user.ID]
	if !ok {
		entry = &User{User: user, Roles: make(RoleSet)}
		l.byID[user.ID] = entry
		l.order = append(l.order, user.ID)
	}
	entry.Roles.Add(role)
}

// Known reports whether the user was already recorded.
func (l *UserLedger) Known(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byID[id]
	return ok
}

// Users returns the recorded users in first-seen order.
func (l *UserLedger) Users() []User {
	l.mu.Lock()
	defer l.mu.Unlock()
	users := make([]User, 0, len(l.order))
	for _, id := range l.order {
		users = append(users, *l.byID[id])
	}
	return users
}
