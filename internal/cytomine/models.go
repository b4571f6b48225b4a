package cytomine

import "encoding/json"

// Entity structs mirror the JSON documents served by a Cytomine core
// server. Identifiers are opaque per-instance int64s and are never
// portable across instances. Timestamps are epoch milliseconds.
//
// Pointer fields are nullable on the wire (optional reviewer, optional
// term parent, dates cleared on re-creation).

// Project is the root of an exported entity graph.
type Project struct {
	ID         int64   `json:"id,omitempty"`
	Name       string  `json:"name"`
	Ontology   int64   `json:"ontology,omitempty"`
	Discipline *int64  `json:"discipline,omitempty"`
	Users      []int64 `json:"users,omitempty"`
	Admins     []int64 `json:"admins,omitempty"`
	Created    *int64  `json:"created,omitempty"`
	Updated    *int64  `json:"updated,omitempty"`
}

// Ontology is a named set of terms owned by its creator user.
type Ontology struct {
	ID      int64  `json:"id,omitempty"`
	Name    string `json:"name"`
	User    int64  `json:"user,omitempty"`
	Created *int64 `json:"created,omitempty"`
	Updated *int64 `json:"updated,omitempty"`
}

// Term is one ontology entry; Parent is nil for roots.
type Term struct {
	ID       int64  `json:"id,omitempty"`
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Ontology int64  `json:"ontology,omitempty"`
	Parent   *int64 `json:"parent,omitempty"`
	Created  *int64 `json:"created,omitempty"`
	Updated  *int64 `json:"updated,omitempty"`
}

// RelationTerm is a parent/child edge between two terms.
type RelationTerm struct {
	ID    int64 `json:"id,omitempty"`
	Term1 int64 `json:"term1"`
	Term2 int64 `json:"term2"`
}

// User is a principal. PublicKey/PrivateKey are only populated when the
// caller is an administrator; Keys fetches them otherwise.
type User struct {
	ID         int64  `json:"id,omitempty"`
	Username   string `json:"username"`
	Firstname  string `json:"firstname,omitempty"`
	Lastname   string `json:"lastname,omitempty"`
	Email      string `json:"email,omitempty"`
	Password   string `json:"password,omitempty"`
	PublicKey  string `json:"publicKey,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`
	Created    *int64 `json:"created,omitempty"`
	Updated    *int64 `json:"updated,omitempty"`
}

// ImageInstance is an image used inside one project, backed by an
// AbstractImage shared across projects.
type ImageInstance struct {
	ID               int64  `json:"id,omitempty"`
	BaseImage        int64  `json:"baseImage,omitempty"`
	Project          int64  `json:"project,omitempty"`
	User             int64  `json:"user,omitempty"`
	OriginalFilename string `json:"originalFilename,omitempty"`
	InstanceFilename string `json:"instanceFilename,omitempty"`
	Width            int64  `json:"width,omitempty"`
	Height           int64  `json:"height,omitempty"`
	Magnification    *int64 `json:"magnification,omitempty"`
	ReviewStart      *int64 `json:"reviewStart,omitempty"`
	ReviewStop       *int64 `json:"reviewStop,omitempty"`
	ReviewUser       *int64 `json:"reviewUser,omitempty"`
	Created          *int64 `json:"created,omitempty"`
	Updated          *int64 `json:"updated,omitempty"`
}

// AbstractImage is the underlying stored image an instance points at.
type AbstractImage struct {
	ID               int64  `json:"id,omitempty"`
	OriginalFilename string `json:"originalFilename,omitempty"`
	Width            int64  `json:"width,omitempty"`
	Height           int64  `json:"height,omitempty"`
	Magnification    *int64 `json:"magnification,omitempty"`
	Created          *int64 `json:"created,omitempty"`
	Updated          *int64 `json:"updated,omitempty"`
}

// TermUserLink records, per term of an annotation, which users associated
// that term. The User field is irregular on the wire (scalar or nested
// lists depending on the server response) and is kept raw; use
// FlattenTermCreators to interpret it.
type TermUserLink struct {
	Term int64           `json:"term"`
	User json.RawMessage `json:"user"`
}

// Annotation is a user-drawn region on an image, with optional terms.
type Annotation struct {
	ID         int64          `json:"id,omitempty"`
	Project    int64          `json:"project,omitempty"`
	Image      int64          `json:"image,omitempty"`
	Slice      *int64         `json:"slice,omitempty"`
	User       int64          `json:"user,omitempty"`
	Term       []int64        `json:"term,omitempty"`
	UserByTerm []TermUserLink `json:"userByTerm,omitempty"`
	Location   string         `json:"location,omitempty"`
	Created    *int64         `json:"created,omitempty"`
	Updated    *int64         `json:"updated,omitempty"`
}

// Property is a key-value pair attached to any domain object.
type Property struct {
	ID              int64  `json:"id,omitempty"`
	DomainIdent     int64  `json:"domainIdent,omitempty"`
	DomainClassName string `json:"domainClassName,omitempty"`
	Key             string `json:"key"`
	Value           string `json:"value"`
}

// AttachedFile is a binary file attached to any domain object.
type AttachedFile struct {
	ID              int64  `json:"id,omitempty"`
	DomainIdent     int64  `json:"domainIdent,omitempty"`
	DomainClassName string `json:"domainClassName,omitempty"`
	Filename        string `json:"filename,omitempty"`
	URL             string `json:"url,omitempty"`
}

// Description is the free-text description of any domain object.
type Description struct {
	ID              int64  `json:"id,omitempty"`
	DomainIdent     int64  `json:"domainIdent,omitempty"`
	DomainClassName string `json:"domainClassName,omitempty"`
	Data            string `json:"data,omitempty"`
}

// Storage is a per-user image storage on an instance.
type Storage struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	User int64  `json:"user,omitempty"`
}

// ImageGroup bundles image instances of one project.
type ImageGroup struct {
	ID      int64  `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Project int64  `json:"project,omitempty"`
}

// ImageGroupImageInstance links an image instance into a group.
type ImageGroupImageInstance struct {
	ID    int64 `json:"id,omitempty"`
	Group int64 `json:"group"`
	Image int64 `json:"image"`
}

// FlattenTermCreators folds the irregular userByTerm payloads into one
// set of user ids. Every user value, whether a bare id or a list (nested
// to any depth), contributes its ids; anything else is ignored.
func FlattenTermCreators(links []TermUserLink) map[int64]struct{} {
	ids := make(map[int64]struct{})
	for _, link := range links {
		if len(link.User) == 0 {
			continue
		}
		var raw interface{}
		if err := json.Unmarshal(link.User, &raw); err != nil {
			continue
		}
		collectUserIDs(raw, ids)
	}
	return ids
}

func collectUserIDs(raw interface{}, ids map[int64]struct{}) {
	switch v := raw.(type) {
	case float64:
		ids[int64(v)] = struct{}{}
	case []interface{}:
		for _, item := range v {
			collectUserIDs(item, ids)
		}
	}
}
