// Package snapshot defines the self-contained on-disk representation of
// an exported project graph and the code that writes, loads, verifies,
// and packages it.
//
// A snapshot is one directory: one pretty-printed JSON document per
// entity or collection, named deterministically by entity-type tag (and,
// for per-object metadata, the owning object's original id), plus fixed
// subdirectories for binary side files. Every identifier inside a
// snapshot is an origin-instance identifier; the import run rewrites
// them all.
package snapshot

import (
	"strings"
	"time"

	"github.com/cytomig/cytomig/internal/cytomine"
)

// Fixed names inside a snapshot directory.
const (
	ManifestFile     = "manifest.json"
	ImagesDir        = "images"
	ImageGroupsDir   = "imagegroups"
	AttachedFilesDir = "attached_files"
)

// Document name prefixes, mirrored by Load.
const (
	prefixProject        = "project-"
	prefixOntology       = "ontology-"
	fileTerms            = "term-collection.json"
	fileImages           = "imageinstance-collection.json"
	fileAnnotations      = "user-annotation-collection.json"
	fileUsers            = "user-collection.json"
	fileImageGroups      = "imagegroup-collection.json"
	fileImageGroupLinks  = "imagegroupimageinstance-collection.json"
	prefixProperties     = "properties-object-"
	prefixAttachedFiles  = "attached-files-object-"
	prefixDescription    = "description-object-"
	suffixCollectionJSON = "-collection.json"
)

// Manifest records where and when a snapshot was taken and which
// features it carries.
type Manifest struct {
	ID          string    `json:"id"`
	SourceHost  string    `json:"source_host"`
	ProjectID   int64     `json:"project_id"`
	ProjectName string    `json:"project_name"`
	GeneratedAt time.Time `json:"generated_at"`

	WithImages             bool `json:"with_images"`
	WithImageGroups        bool `json:"with_image_groups"`
	WithUserAnnotations    bool `json:"with_user_annotations"`
	WithMetadata           bool `json:"with_metadata"`
	WithAnnotationMetadata bool `json:"with_annotation_metadata"`
	Anonymized             bool `json:"anonymized"`
}

// User is a snapshot user document: the remote user plus the role tags
// accreted while walking the graph.
type User struct {
	cytomine.User
	Roles RoleSet `json:"roles,omitempty"`
}

// Snapshot is a loaded project graph, addressed by origin identifiers.
type Snapshot struct {
	Dir      string
	Manifest Manifest

	Project     *cytomine.Project
	Ontology    *cytomine.Ontology
	Terms       []cytomine.Term
	Images      []cytomine.ImageInstance
	Annotations []cytomine.Annotation
	Users       []User

	ImageGroups     []cytomine.ImageGroup
	ImageGroupLinks []cytomine.ImageGroupImageInstance

	// Per-object metadata, keyed by the owning object's origin id.
	Properties    map[int64][]cytomine.Property
	AttachedFiles map[int64][]cytomine.AttachedFile
	Descriptions  map[int64]*cytomine.Description
}

// UsersWithRole returns the snapshot users carrying the tag, in document
// order.
func (s *Snapshot) UsersWithRole(role Role) []User {
	var users []User
	for _, user := range s.Users {
		if user.Roles.Has(role) {
			users = append(users, user)
		}
	}
	return users
}

// ImagePath returns where an image's raw bytes live inside the snapshot.
func (s *Snapshot) ImagePath(originalFilename string) string {
	return join3(s.Dir, ImagesDir, SanitizeFilename(originalFilename))
}

// AttachedFilePath returns where an attached file's bytes live inside
// the snapshot.
func (s *Snapshot) AttachedFilePath(fileID int64, filename string) string {
	return join3(s.Dir, AttachedFilesDir, attachedFileName(fileID, filename))
}

// SanitizeFilename makes an original filename safe to use as a local
// file name: path separators become dashes and non-ASCII bytes are
// dropped (older servers emitted names a transport layer mangled).
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "-")
	var b strings.Builder
	for _, r := range name {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
