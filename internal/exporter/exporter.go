// Package exporter walks a source project's entity graph in a fixed
// dependency order and serializes it into a snapshot directory.
//
// Mandatory entities (project, ontology, collections) fail the run;
// per-item side work (one image download, one object's metadata) is
// isolated and only journaled on failure.
package exporter

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/cytomig/cytomig/internal/cytomine"
	"github.com/cytomig/cytomig/internal/journal"
	"github.com/cytomig/cytomig/internal/parallel"
	"github.com/cytomig/cytomig/internal/snapshot"
)

// ErrSetup marks failures that abort the export outright.
var ErrSetup = errs.Class("export setup")

// Gateway is the slice of the remote API the exporter consumes.
type Gateway interface {
	Host() string
	FetchProject(ctx context.Context, id int64) (*cytomine.Project, error)
	FetchOntology(ctx context.Context, id int64) (*cytomine.Ontology, error)
	FetchUser(ctx context.Context, id int64) (*cytomine.User, error)
	ProjectUsers(ctx context.Context, projectID int64, adminOnly bool) ([]cytomine.User, error)
	ProjectTerms(ctx context.Context, projectID int64) ([]cytomine.Term, error)
	ProjectImages(ctx context.Context, projectID int64) ([]cytomine.ImageInstance, error)
	ProjectAnnotations(ctx context.Context, projectID int64) ([]cytomine.Annotation, error)
	ProjectImageGroups(ctx context.Context, projectID int64) ([]cytomine.ImageGroup, error)
	ImageGroupImages(ctx context.Context, groupID int64) ([]cytomine.ImageGroupImageInstance, error)
	DownloadImage(ctx context.Context, imageID int64, dest string) error
	DownloadImageGroup(ctx context.Context, groupID int64, dest string) error
	DownloadAttachedFile(ctx context.Context, fileID int64, dest string) error
	PropertiesOf(ctx context.Context, domain string, id int64) ([]cytomine.Property, error)
	AttachedFilesOf(ctx context.Context, domain string, id int64) ([]cytomine.AttachedFile, error)
	DescriptionOf(ctx context.Context, domain string, id int64) (*cytomine.Description, error)
}

// Options selects what the snapshot carries.
type Options struct {
	ProjectID   int64
	WorkingPath string

	WithImages             bool
	WithImageGroups        bool
	WithUserAnnotations    bool
	WithMetadata           bool
	WithAnnotationMetadata bool
	Anonymize              bool

	// Workers caps parallel downloads and metadata fetches.
	Workers int
}

// Result summarizes a finished export.
type Result struct {
	Dir         string
	Users       int
	Terms       int
	Images      int
	Annotations int
	Warnings    int
}

// Exporter drives one export run.
type Exporter struct {
	gw   Gateway
	log  *zap.Logger
	jr   *journal.Journal
	opts Options

	writer   *snapshot.Writer
	users    *snapshot.UserLedger
	warnings atomic.Int64
}

// New returns an exporter for one run.
func New(gw Gateway, jr *journal.Journal, log *zap.Logger, opts Options) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{
		gw:    gw,
		log:   log,
		jr:    jr,
		opts:  opts,
		users: snapshot.NewUserLedger(),
	}
}

// Run exports the project graph and returns where the snapshot was
// written.
func (e *Exporter) Run(ctx context.Context) (*Result, error) {
	project, err := e.gw.FetchProject(ctx, e.opts.ProjectID)
	if err != nil {
		return nil, ErrSetup.Wrap(fmt.Errorf("project %d: %w", e.opts.ProjectID, err))
	}

	dir := filepath.Join(e.opts.WorkingPath, snapshotDirName(e.gw.Host(), project))
	e.writer, err = snapshot.NewWriter(dir, e.log)
	if err != nil {
		return nil, ErrSetup.Wrap(err)
	}
	e.log.Info("export started",
		zap.Int64("project", project.ID),
		zap.String("dir", dir))

	e.log.Info("1/ export project")
	if err := e.exportProject(ctx, project); err != nil {
		return nil, err
	}

	e.log.Info("2/ export ontology", zap.Int64("ontology", project.Ontology))
	if err := e.exportOntology(ctx, project); err != nil {
		return nil, err
	}

	e.log.Info("3/ export terms")
	terms, err := e.exportTerms(ctx, project)
	if err != nil {
		return nil, err
	}

	e.log.Info("4/ export images")
	images, err := e.exportImages(ctx, project)
	if err != nil {
		return nil, err
	}

	var annotations []cytomine.Annotation
	if e.opts.WithUserAnnotations {
		e.log.Info("5/ export user annotations")
		annotations, err = e.exportAnnotations(ctx, project)
		if err != nil {
			return nil, err
		}
	}

	e.log.Info("6/ export users")
	users, err := e.exportUsers()
	if err != nil {
		return nil, err
	}

	if e.opts.WithImageGroups {
		e.log.Info("7/ export image groups")
		if err := e.exportImageGroups(ctx, project); err != nil {
			return nil, err
		}
	}

	manifest := snapshot.Manifest{
		ID:          uuid.NewString(),
		SourceHost:  e.gw.Host(),
		ProjectID:   project.ID,
		ProjectName: project.Name,
		GeneratedAt: time.Now().UTC(),

		WithImages:             e.opts.WithImages,
		WithImageGroups:        e.opts.WithImageGroups,
		WithUserAnnotations:    e.opts.WithUserAnnotations,
		WithMetadata:           e.opts.WithMetadata,
		WithAnnotationMetadata: e.opts.WithAnnotationMetadata,
		Anonymized:             e.opts.Anonymize,
	}
	if err := e.writer.WriteManifest(manifest); err != nil {
		return nil, err
	}

	result := &Result{
		Dir:         dir,
		Users:       len(users),
		Terms:       len(terms),
		Images:      len(images),
		Annotations: len(annotations),
		Warnings:    int(e.warnings.Load()),
	}
	e.log.Info("export finished",
		zap.Int("users", result.Users),
		zap.Int("terms", result.Terms),
		zap.Int("images", result.Images),
		zap.Int("annotations", result.Annotations),
		zap.Int("warnings", result.Warnings))
	return result, nil
}

func (e *Exporter) exportProject(ctx context.Context, project *cytomine.Project) error {
	if err := e.writer.WriteProject(project); err != nil {
		return err
	}

	managers, err := e.gw.ProjectUsers(ctx, project.ID, true)
	if err != nil {
		return fmt.Errorf("project managers: %w", err)
	}
	for _, manager := range managers {
		e.users.Record(manager, snapshot.RoleProjectManager)
	}

	contributors, err := e.gw.ProjectUsers(ctx, project.ID, false)
	if err != nil {
		return fmt.Errorf("project contributors: %w", err)
	}
	for _, contributor := range contributors {
		e.users.Record(contributor, snapshot.RoleProjectContributor)
	}

	if e.opts.WithMetadata {
		e.exportMetadata(ctx, "project metadata", []metaObject{{"project", project.ID}})
	}
	return nil
}

func (e *Exporter) exportOntology(ctx context.Context, project *cytomine.Project) error {
	ontology, err := e.gw.FetchOntology(ctx, project.Ontology)
	if err != nil {
		return ErrSetup.Wrap(fmt.Errorf("ontology %d: %w", project.Ontology, err))
	}
	if err := e.writer.WriteOntology(ontology); err != nil {
		return err
	}

	creator, err := e.gw.FetchUser(ctx, ontology.User)
	if err != nil {
		return fmt.Errorf("ontology creator %d: %w", ontology.User, err)
	}
	e.users.Record(*creator, snapshot.RoleOntologyCreator)

	if e.opts.WithMetadata {
		e.exportMetadata(ctx, "ontology metadata", []metaObject{{"ontology", ontology.ID}})
	}
	return nil
}

func (e *Exporter) exportTerms(ctx context.Context, project *cytomine.Project) ([]cytomine.Term, error) {
	terms, err := e.gw.ProjectTerms(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("terms: %w", err)
	}
	if err := e.writer.WriteTerms(terms); err != nil {
		return nil, err
	}

	if e.opts.WithMetadata {
		objects := make([]metaObject, 0, len(terms))
		for _, term := range terms {
			objects = append(objects, metaObject{"term", term.ID})
		}
		e.exportMetadata(ctx, "term metadata", objects)
	}
	return terms, nil
}

func (e *Exporter) exportImages(ctx context.Context, project *cytomine.Project) ([]cytomine.ImageInstance, error) {
	images, err := e.gw.ProjectImages(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("images: %w", err)
	}
	if err := e.writer.WriteImages(images); err != nil {
		return nil, err
	}

	if e.opts.WithImages {
		failures := parallel.ForEach(ctx, e.opts.Workers, images,
			func(image cytomine.ImageInstance) string {
				return fmt.Sprintf("image %d (%s)", image.ID, image.OriginalFilename)
			},
			func(ctx context.Context, image cytomine.ImageInstance) error {
				return e.gw.DownloadImage(ctx, image.ID, e.writer.ImagePath(image.OriginalFilename))
			})
		e.recordFailures("image download", failures)
	}

	// One fetch per distinct creator and reviewer id.
	creators := make(map[int64]struct{})
	reviewers := make(map[int64]struct{})
	for _, image := range images {
		creators[image.User] = struct{}{}
		if image.ReviewUser != nil {
			reviewers[*image.ReviewUser] = struct{}{}
		}
	}
	if err := e.recordUsers(ctx, creators, snapshot.RoleImageCreator); err != nil {
		return nil, err
	}
	if err := e.recordUsers(ctx, reviewers, snapshot.RoleImageReviewer); err != nil {
		return nil, err
	}

	if e.opts.WithMetadata {
		objects := make([]metaObject, 0, len(images))
		for _, image := range images {
			objects = append(objects, metaObject{"imageinstance", image.ID})
		}
		e.exportMetadata(ctx, "image metadata", objects)
	}
	return images, nil
}

func (e *Exporter) exportAnnotations(ctx context.Context, project *cytomine.Project) ([]cytomine.Annotation, error) {
	annotations, err := e.gw.ProjectAnnotations(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("annotations: %w", err)
	}
	if err := e.writer.WriteAnnotations(annotations); err != nil {
		return nil, err
	}

	creators := make(map[int64]struct{})
	termCreators := make(map[int64]struct{})
	for _, annotation := range annotations {
		creators[annotation.User] = struct{}{}
		for id := range cytomine.FlattenTermCreators(annotation.UserByTerm) {
			termCreators[id] = struct{}{}
		}
	}
	if err := e.recordUsers(ctx, creators, snapshot.RoleAnnotationCreator); err != nil {
		return nil, err
	}
	if err := e.recordUsers(ctx, termCreators, snapshot.RoleAnnotationTermCreator); err != nil {
		return nil, err
	}

	if e.opts.WithAnnotationMetadata {
		objects := make([]metaObject, 0, len(annotations))
		for _, annotation := range annotations {
			objects = append(objects, metaObject{"annotation", annotation.ID})
		}
		e.exportMetadata(ctx, "annotation metadata", objects)
	}
	return annotations, nil
}

func (e *Exporter) exportUsers() ([]snapshot.User, error) {
	users := e.users.Users()
	if e.opts.Anonymize {
		for i := range users {
			users[i].Username = fmt.Sprintf("anonymized_user%d", i+1)
			users[i].Firstname = "Anonymized"
			users[i].Lastname = fmt.Sprintf("User %d", i+1)
			users[i].Email = fmt.Sprintf("anonymous%d@unknown.com", i+1)
		}
	}
	if err := e.writer.WriteUsers(users); err != nil {
		return nil, err
	}
	return users, nil
}

func (e *Exporter) exportImageGroups(ctx context.Context, project *cytomine.Project) error {
	groups, err := e.gw.ProjectImageGroups(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("image groups: %w", err)
	}
	if err := e.writer.WriteImageGroups(groups); err != nil {
		return err
	}

	if e.opts.WithMetadata {
		objects := make([]metaObject, 0, len(groups))
		for _, group := range groups {
			objects = append(objects, metaObject{"imagegroup", group.ID})
		}
		e.exportMetadata(ctx, "image group metadata", objects)
	}

	if e.opts.WithImages {
		failures := parallel.ForEach(ctx, e.opts.Workers, groups,
			func(group cytomine.ImageGroup) string {
				return fmt.Sprintf("image group %d (%s)", group.ID, group.Name)
			},
			func(ctx context.Context, group cytomine.ImageGroup) error {
				return e.gw.DownloadImageGroup(ctx, group.ID, e.writer.ImageGroupPath(group.Name))
			})
		e.recordFailures("image group download", failures)
	}

	var links []cytomine.ImageGroupImageInstance
	for _, group := range groups {
		groupLinks, err := e.gw.ImageGroupImages(ctx, group.ID)
		if err != nil {
			return fmt.Errorf("image group %d links: %w", group.ID, err)
		}
		links = append(links, groupLinks...)
	}
	return e.writer.WriteImageGroupLinks(links)
}

// recordUsers fetches each distinct user id once and accretes the role.
func (e *Exporter) recordUsers(ctx context.Context, ids map[int64]struct{}, role snapshot.Role) error {
	for id := range ids {
		user, err := e.gw.FetchUser(ctx, id)
		if err != nil {
			return fmt.Errorf("user %d: %w", id, err)
		}
		e.users.Record(*user, role)
	}
	return nil
}

// metaObject addresses one domain object for metadata export.
type metaObject struct {
	domain string
	id     int64
}

// exportMetadata fans out per-object metadata retrieval. Failures are
// journaled and skipped; a metadata failure never aborts the export.
func (e *Exporter) exportMetadata(ctx context.Context, phase string, objects []metaObject) {
	failures := parallel.ForEach(ctx, e.opts.Workers, objects,
		func(obj metaObject) string { return fmt.Sprintf("%s %d", obj.domain, obj.id) },
		func(ctx context.Context, obj metaObject) error {
			return e.exportObjectMetadata(ctx, obj)
		})
	e.recordFailures(phase, failures)
}

func (e *Exporter) exportObjectMetadata(ctx context.Context, obj metaObject) error {
	properties, err := e.gw.PropertiesOf(ctx, obj.domain, obj.id)
	if err != nil {
		return fmt.Errorf("properties: %w", err)
	}
	if err := e.writer.WriteProperties(obj.id, properties); err != nil {
		return err
	}

	files, err := e.gw.AttachedFilesOf(ctx, obj.domain, obj.id)
	if err != nil {
		return fmt.Errorf("attached files: %w", err)
	}
	if err := e.writer.WriteAttachedFiles(obj.id, files); err != nil {
		return err
	}
	for _, file := range files {
		dest := e.writer.AttachedFilePath(file.ID, file.Filename)
		if err := e.gw.DownloadAttachedFile(ctx, file.ID, dest); err != nil {
			return fmt.Errorf("attached file %d: %w", file.ID, err)
		}
	}

	description, err := e.gw.DescriptionOf(ctx, obj.domain, obj.id)
	if err != nil {
		return fmt.Errorf("description: %w", err)
	}
	return e.writer.WriteDescription(obj.id, description)
}

func (e *Exporter) recordFailures(phase string, failures []parallel.Failure) {
	for _, failure := range failures {
		e.warnings.Add(1)
		e.log.Warn("item skipped",
			zap.String("phase", phase),
			zap.String("item", failure.Name),
			zap.Error(failure.Err))
		if e.jr != nil {
			if err := e.jr.Warn(phase, failure.Name, failure.Err); err != nil {
				e.log.Warn("journal write failed", zap.Error(err))
			}
		}
	}
}

// snapshotDirName builds the deterministic-but-dated directory name the
// snapshot is written under: host, project id, project name, timestamp,
// with spaces dashed.
func snapshotDirName(host string, project *cytomine.Project) string {
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	host = strings.ReplaceAll(host, "/", "-")
	name := fmt.Sprintf("%s-%d-%s-%s",
		host, project.ID, project.Name, time.Now().Format("2006-01-02T15:04:05"))
	return strings.ReplaceAll(name, " ", "-")
}
