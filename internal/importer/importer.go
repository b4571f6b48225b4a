// Package importer replays a snapshot against a target instance. Every
// identifier is rewritten through an append-only remap table; users and
// ontologies dedup against what the target already holds; entity
// creation impersonates the original author where attribution matters;
// image ingestion is awaited through the convergence poller.
//
// Phases run in strict dependency order: users, ontology and terms,
// project, images, annotations, metadata.
package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/cytomig/cytomig/internal/converge"
	"github.com/cytomig/cytomig/internal/cytomine"
	"github.com/cytomig/cytomig/internal/journal"
	"github.com/cytomig/cytomig/internal/remap"
	"github.com/cytomig/cytomig/internal/snapshot"
)

// ErrSetup marks failures that abort the import outright.
var ErrSetup = errs.Class("import setup")

// Gateway is the slice of the remote API the importer consumes.
type Gateway interface {
	Host() string
	Credentials() cytomine.Credentials
	SetCredentials(creds cytomine.Credentials)
	OpenAdminSession(ctx context.Context) error
	CurrentUser(ctx context.Context) (*cytomine.User, error)

	Users(ctx context.Context) ([]cytomine.User, error)
	FetchUser(ctx context.Context, id int64) (*cytomine.User, error)
	UserKeys(ctx context.Context, id int64) (cytomine.Credentials, error)
	CreateUser(ctx context.Context, user *cytomine.User) (*cytomine.User, error)

	Ontologies(ctx context.Context) ([]cytomine.Ontology, error)
	Terms(ctx context.Context) ([]cytomine.Term, error)
	CreateOntology(ctx context.Context, ontology *cytomine.Ontology) (*cytomine.Ontology, error)
	CreateTerm(ctx context.Context, term *cytomine.Term) (*cytomine.Term, error)
	CreateRelationTerm(ctx context.Context, parent, child int64) (*cytomine.RelationTerm, error)

	Projects(ctx context.Context) ([]cytomine.Project, error)
	CreateProject(ctx context.Context, project *cytomine.Project) (*cytomine.Project, error)

	Storages(ctx context.Context) ([]cytomine.Storage, error)
	AbstractImages(ctx context.Context) ([]cytomine.AbstractImage, error)
	FetchAbstractImage(ctx context.Context, id int64) (*cytomine.AbstractImage, error)
	LinkImage(ctx context.Context, abstractImageID, projectID int64) (*cytomine.ImageInstance, error)
	UploadImage(ctx context.Context, uploadHost, path string, storageID, projectID int64) error
	ProjectImages(ctx context.Context, projectID int64) ([]cytomine.ImageInstance, error)
	UpdateImageInstance(ctx context.Context, image *cytomine.ImageInstance) error
	UpdateAbstractImage(ctx context.Context, image *cytomine.AbstractImage) error

	CreateAnnotation(ctx context.Context, annotation *cytomine.Annotation) (*cytomine.Annotation, error)

	CreateProperty(ctx context.Context, property *cytomine.Property) (*cytomine.Property, error)
	UploadAttachedFile(ctx context.Context, path, domainClassName string, domainIdent int64, filename string) (*cytomine.AttachedFile, error)
	CreateDescription(ctx context.Context, description *cytomine.Description) (*cytomine.Description, error)
}

// Options configures one import run.
type Options struct {
	// UploadHost receives image uploads; the core host drives
	// everything else.
	UploadHost string
	// WithOriginalDates preserves creation/update timestamps instead
	// of letting the target assign fresh ones.
	WithOriginalDates bool
	// Workers caps parallel per-annotation imports.
	Workers int
	// UploadPause spaces image upload submissions.
	UploadPause time.Duration
	// Poller awaits asynchronous image deployment.
	Poller converge.Poller
}

// Result summarizes a finished import.
type Result struct {
	ProjectID      int64
	ProjectName    string
	UsersReused    int
	UsersCreated   int
	OntologyReused bool
	Terms          int
	ImagesExpected int
	ImagesArrived  int
	Annotations    int
	Skipped        int
	Warnings       int
}

// Importer drives one import run.
type Importer struct {
	gw   Gateway
	log  *zap.Logger
	jr   *journal.Journal
	opts Options

	snap     *snapshot.Snapshot
	table    *remap.Table
	switcher *principalSwitcher
	result   Result
}

// New returns an importer for one snapshot.
func New(gw Gateway, snap *snapshot.Snapshot, jr *journal.Journal, log *zap.Logger, opts Options) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{
		gw:    gw,
		log:   log,
		jr:    jr,
		opts:  opts,
		snap:  snap,
		table: remap.New(),
	}
}

// Run imports the snapshot and returns the target project's identity
// and counts. The remap table lives and dies with this call.
func (i *Importer) Run(ctx context.Context) (*Result, error) {
	switcher, err := newPrincipalSwitcher(ctx, i.gw)
	if err != nil {
		return nil, ErrSetup.Wrap(err)
	}
	i.switcher = switcher

	admin, err := i.gw.CurrentUser(ctx)
	if err != nil {
		return nil, ErrSetup.Wrap(fmt.Errorf("current user: %w", err))
	}
	i.log.Info("connected",
		zap.String("host", i.gw.Host()),
		zap.String("username", admin.Username))

	i.log.Info("1/ import users")
	if err := i.importUsers(ctx); err != nil {
		return nil, err
	}

	i.log.Info("2/ import ontology and terms")
	if err := i.importOntology(ctx); err != nil {
		return nil, err
	}

	i.log.Info("3/ import project")
	if err := i.importProject(ctx); err != nil {
		return nil, err
	}

	i.log.Info("4/ import images")
	if err := i.importImages(ctx); err != nil {
		return nil, err
	}

	i.log.Info("5/ import user annotations")
	if err := i.importAnnotations(ctx); err != nil {
		return nil, err
	}

	i.log.Info("6/ import metadata")
	if err := i.importMetadata(ctx); err != nil {
		return nil, err
	}

	i.log.Info("import finished",
		zap.Int64("project", i.result.ProjectID),
		zap.String("name", i.result.ProjectName),
		zap.Int("warnings", i.result.Warnings))
	result := i.result
	return &result, nil
}

// importUsers maps every snapshot user onto the target: exact username
// matches are reused untouched, everyone else is cloned.
func (i *Importer) importUsers(ctx context.Context) error {
	existing, err := i.gw.Users(ctx)
	if err != nil {
		return ErrSetup.Wrap(fmt.Errorf("target users: %w", err))
	}
	byUsername := make(map[string]cytomine.User, len(existing))
	for _, user := range existing {
		byUsername[user.Username] = user
	}

	for _, remote := range i.snap.Users {
		if match, ok := byUsername[remote.Username]; ok {
			if err := i.mapID(remap.KindUser, remote.ID, match.ID); err != nil {
				return err
			}
			i.result.UsersReused++
			i.log.Debug("user reused",
				zap.String("username", remote.Username),
				zap.Int64("target", match.ID))
			continue
		}

		clone := remote.User
		clone.ID = 0
		if clone.Password == "" {
			clone.Password = uuid.NewString()
		}
		if !i.opts.WithOriginalDates {
			clone.Created = nil
			clone.Updated = nil
		}
		created, err := i.gw.CreateUser(ctx, &clone)
		if err != nil {
			return fmt.Errorf("create user %q: %w", remote.Username, err)
		}
		if err := i.mapID(remap.KindUser, remote.ID, created.ID); err != nil {
			return err
		}
		i.result.UsersCreated++
		i.log.Info("user created",
			zap.String("username", created.Username),
			zap.Int64("target", created.ID))
	}
	return nil
}

// importProject always creates a new project, suffixing " (n)" on name
// collision, and rewires ontology, contributors, and managers.
func (i *Importer) importProject(ctx context.Context) error {
	projects, err := i.gw.Projects(ctx)
	if err != nil {
		return ErrSetup.Wrap(fmt.Errorf("target projects: %w", err))
	}
	taken := make(map[string]struct{}, len(projects))
	for _, project := range projects {
		taken[project.Name] = struct{}{}
	}

	remote := i.snap.Project
	project := *remote
	project.ID = 0
	project.Name = availableName(strings.TrimSpace(remote.Name), taken)
	project.Discipline = nil
	if !i.opts.WithOriginalDates {
		project.Created = nil
		project.Updated = nil
	}

	ontologyID, err := i.table.Get(remap.KindOntology, remote.Ontology)
	if err != nil {
		return err
	}
	project.Ontology = ontologyID

	project.Users = nil
	for _, user := range i.snap.UsersWithRole(snapshot.RoleProjectContributor) {
		id, err := i.table.Get(remap.KindUser, user.ID)
		if err != nil {
			return err
		}
		project.Users = append(project.Users, id)
	}
	project.Admins = nil
	for _, user := range i.snap.UsersWithRole(snapshot.RoleProjectManager) {
		id, err := i.table.Get(remap.KindUser, user.ID)
		if err != nil {
			return err
		}
		project.Admins = append(project.Admins, id)
	}

	created, err := i.gw.CreateProject(ctx, &project)
	if err != nil {
		return fmt.Errorf("create project %q: %w", project.Name, err)
	}
	if err := i.mapID(remap.KindProject, remote.ID, created.ID); err != nil {
		return err
	}
	i.result.ProjectID = created.ID
	i.result.ProjectName = created.Name
	i.log.Info("project created",
		zap.String("name", created.Name),
		zap.Int64("target", created.ID))
	return nil
}

// mapID records a mapping in the remap table and mirrors it into the
// run journal.
func (i *Importer) mapID(kind remap.Kind, origin, target int64) error {
	if err := i.table.Put(kind, origin, target); err != nil {
		return err
	}
	if i.jr != nil {
		if err := i.jr.RecordMapping(string(kind), origin, target); err != nil {
			i.log.Warn("journal write failed", zap.Error(err))
		}
	}
	return nil
}

// warn records a non-fatal item failure and keeps going.
func (i *Importer) warn(phase, item string, cause error) {
	i.result.Warnings++
	i.log.Warn("item skipped",
		zap.String("phase", phase),
		zap.String("item", item),
		zap.Error(cause))
	if i.jr != nil {
		if err := i.jr.Warn(phase, item, cause); err != nil {
			i.log.Warn("journal write failed", zap.Error(err))
		}
	}
}

// availableName returns name, or name with the smallest " (n)" suffix
// that is not taken.
func availableName(name string, taken map[string]struct{}) string {
	if _, ok := taken[name]; !ok {
		return name
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", name, n)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
