package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cytomig/cytomig/internal/cytomine"
	"github.com/cytomig/cytomig/internal/snapshot"
)

// fakeGateway is an in-memory source instance holding one project
// graph.
type fakeGateway struct {
	mu sync.Mutex

	project  cytomine.Project
	ontology cytomine.Ontology
	users    map[int64]cytomine.User

	managers     []int64
	contributors []int64

	terms       []cytomine.Term
	images      []cytomine.ImageInstance
	annotations []cytomine.Annotation
	groups      []cytomine.ImageGroup
	groupLinks  map[int64][]cytomine.ImageGroupImageInstance

	properties map[string][]cytomine.Property

	failDownloads map[int64]error
	downloads     []int64
}

func (g *fakeGateway) Host() string { return "https://source.example.org" }

func (g *fakeGateway) FetchProject(ctx context.Context, id int64) (*cytomine.Project, error) {
	if id != g.project.ID {
		return nil, fmt.Errorf("project %d: HTTP 404", id)
	}
	p := g.project
	return &p, nil
}

func (g *fakeGateway) FetchOntology(ctx context.Context, id int64) (*cytomine.Ontology, error) {
	if id != g.ontology.ID {
		return nil, fmt.Errorf("ontology %d: HTTP 404", id)
	}
	o := g.ontology
	return &o, nil
}

func (g *fakeGateway) FetchUser(ctx context.Context, id int64) (*cytomine.User, error) {
	user, ok := g.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: HTTP 404", id)
	}
	return &user, nil
}

func (g *fakeGateway) ProjectUsers(ctx context.Context, projectID int64, adminOnly bool) ([]cytomine.User, error) {
	ids := g.contributors
	if adminOnly {
		ids = g.managers
	}
	users := make([]cytomine.User, 0, len(ids))
	for _, id := range ids {
		users = append(users, g.users[id])
	}
	return users, nil
}

func (g *fakeGateway) ProjectTerms(ctx context.Context, projectID int64) ([]cytomine.Term, error) {
	return g.terms, nil
}

func (g *fakeGateway) ProjectImages(ctx context.Context, projectID int64) ([]cytomine.ImageInstance, error) {
	return g.images, nil
}

func (g *fakeGateway) ProjectAnnotations(ctx context.Context, projectID int64) ([]cytomine.Annotation, error) {
	return g.annotations, nil
}

func (g *fakeGateway) ProjectImageGroups(ctx context.Context, projectID int64) ([]cytomine.ImageGroup, error) {
	return g.groups, nil
}

func (g *fakeGateway) ImageGroupImages(ctx context.Context, groupID int64) ([]cytomine.ImageGroupImageInstance, error) {
	return g.groupLinks[groupID], nil
}

func (g *fakeGateway) DownloadImage(ctx context.Context, imageID int64, dest string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failDownloads[imageID]; ok {
		return err
	}
	g.downloads = append(g.downloads, imageID)
	return writeDownload(dest, "pixels")
}

// writeDownload mimics the real client, which creates the destination
// directory on first use.
func writeDownload(dest, payload string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(payload), 0o644)
}

func (g *fakeGateway) DownloadImageGroup(ctx context.Context, groupID int64, dest string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.downloads = append(g.downloads, groupID)
	return writeDownload(dest, "stack")
}

func (g *fakeGateway) DownloadAttachedFile(ctx context.Context, fileID int64, dest string) error {
	return writeDownload(dest, "attachment")
}

func (g *fakeGateway) PropertiesOf(ctx context.Context, domain string, id int64) ([]cytomine.Property, error) {
	return g.properties[fmt.Sprintf("%s/%d", domain, id)], nil
}

func (g *fakeGateway) AttachedFilesOf(ctx context.Context, domain string, id int64) ([]cytomine.AttachedFile, error) {
	return nil, nil
}

func (g *fakeGateway) DescriptionOf(ctx context.Context, domain string, id int64) (*cytomine.Description, error) {
	return nil, nil
}

func testGateway() *fakeGateway {
	reviewUser := int64(30)
	return &fakeGateway{
		project:  cytomine.Project{ID: 10, Name: "Biopsies", Ontology: 20},
		ontology: cytomine.Ontology{ID: 20, Name: "Tissue", User: 30},
		users: map[int64]cytomine.User{
			30: {ID: 30, Username: "alice", Firstname: "Alice", Email: "alice@example.org"},
			31: {ID: 31, Username: "bob", Firstname: "Bob", Email: "bob@example.org"},
		},
		managers:     []int64{30},
		contributors: []int64{30, 31},
		terms: []cytomine.Term{
			{ID: 21, Name: "tumor", Color: "#ff0000", Ontology: 20},
		},
		images: []cytomine.ImageInstance{
			{ID: 40, BaseImage: 45, Project: 10, User: 31, OriginalFilename: "slide-a.tif", ReviewUser: &reviewUser},
			{ID: 41, BaseImage: 46, Project: 10, User: 31, OriginalFilename: "slide-b.tif"},
		},
		annotations: []cytomine.Annotation{
			{ID: 50, Project: 10, Image: 40, User: 31, Term: []int64{21},
				UserByTerm: []cytomine.TermUserLink{{Term: 21, User: json.RawMessage(`[30]`)}},
				Location:   "POINT(1 1)"},
		},
		properties: map[string][]cytomine.Property{
			"project/10": {{ID: 70, DomainIdent: 10, DomainClassName: "be.cytomine.project.Project", Key: "stain", Value: "H&E"}},
		},
		failDownloads: make(map[int64]error),
	}
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		ProjectID:           10,
		WorkingPath:         t.TempDir(),
		WithImages:          true,
		WithUserAnnotations: true,
		WithMetadata:        true,
		Workers:             2,
	}
}

func runExport(t *testing.T, gw *fakeGateway, opts Options) (*Result, *snapshot.Snapshot) {
	t.Helper()

	result, err := New(gw, nil, nil, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	snap, err := snapshot.Load(result.Dir)
	if err != nil {
		t.Fatalf("load snapshot back: %v", err)
	}
	return result, snap
}

func TestExportWritesClosedGraph(t *testing.T) {
	gw := testGateway()
	result, snap := runExport(t, gw, testOptions(t))

	if result.Terms != 1 || result.Images != 2 || result.Annotations != 1 {
		t.Errorf("counts = %d terms, %d images, %d annotations", result.Terms, result.Images, result.Annotations)
	}
	if result.Warnings != 0 {
		t.Errorf("warnings = %d, want 0", result.Warnings)
	}
	if err := snap.Verify(); err != nil {
		t.Errorf("snapshot does not verify: %v", err)
	}

	if snap.Project.Name != "Biopsies" || snap.Ontology.Name != "Tissue" {
		t.Errorf("project/ontology = %q/%q", snap.Project.Name, snap.Ontology.Name)
	}
	for _, image := range snap.Images {
		payload := snap.ImagePath(image.OriginalFilename)
		if _, err := os.Stat(payload); err != nil {
			t.Errorf("image payload missing: %v", err)
		}
	}
	if got := snap.Properties[10]; len(got) != 1 || got[0].Key != "stain" {
		t.Errorf("project properties = %+v", got)
	}
}

func TestExportAccretesRoles(t *testing.T) {
	gw := testGateway()
	_, snap := runExport(t, gw, testOptions(t))

	byName := make(map[string]snapshot.User)
	for _, user := range snap.Users {
		byName[user.Username] = user
	}
	alice, ok := byName["alice"]
	if !ok {
		t.Fatal("alice missing from snapshot")
	}
	for _, role := range []snapshot.Role{
		snapshot.RoleProjectManager,
		snapshot.RoleProjectContributor,
		snapshot.RoleOntologyCreator,
		snapshot.RoleImageReviewer,
		snapshot.RoleAnnotationTermCreator,
	} {
		if !alice.Roles.Has(role) {
			t.Errorf("alice misses role %q", role)
		}
	}
	bob, ok := byName["bob"]
	if !ok {
		t.Fatal("bob missing from snapshot")
	}
	for _, role := range []snapshot.Role{
		snapshot.RoleProjectContributor,
		snapshot.RoleImageCreator,
		snapshot.RoleAnnotationCreator,
	} {
		if !bob.Roles.Has(role) {
			t.Errorf("bob misses role %q", role)
		}
	}
	if bob.Roles.Has(snapshot.RoleProjectManager) {
		t.Error("bob must not be a manager")
	}
}

func TestExportAnonymizesByOrdinal(t *testing.T) {
	gw := testGateway()
	opts := testOptions(t)
	opts.Anonymize = true
	_, snap := runExport(t, gw, opts)

	if len(snap.Users) != 2 {
		t.Fatalf("got %d users, want 2", len(snap.Users))
	}
	for i, user := range snap.Users {
		wantUsername := fmt.Sprintf("anonymized_user%d", i+1)
		if user.Username != wantUsername {
			t.Errorf("user %d username = %q, want %q", i, user.Username, wantUsername)
		}
		if user.Firstname != "Anonymized" || user.Lastname != fmt.Sprintf("User %d", i+1) {
			t.Errorf("user %d name = %q %q", i, user.Firstname, user.Lastname)
		}
		if user.Email != fmt.Sprintf("anonymous%d@unknown.com", i+1) {
			t.Errorf("user %d email = %q", i, user.Email)
		}
		// Roles survive anonymization so the import can still wire
		// memberships.
		if len(user.Roles) == 0 {
			t.Errorf("user %d lost roles", i)
		}
	}
}

func TestExportIsolatesDownloadFailures(t *testing.T) {
	gw := testGateway()
	gw.failDownloads[40] = fmt.Errorf("connection reset")
	result, snap := runExport(t, gw, testOptions(t))

	if result.Warnings != 1 {
		t.Errorf("warnings = %d, want 1", result.Warnings)
	}
	if len(snap.Images) != 2 {
		t.Errorf("image documents = %d, both must be listed", len(snap.Images))
	}
	if _, err := os.Stat(snap.ImagePath("slide-b.tif")); err != nil {
		t.Errorf("surviving image payload missing: %v", err)
	}
	if _, err := os.Stat(snap.ImagePath("slide-a.tif")); err == nil {
		t.Error("failed download unexpectedly produced a payload")
	}
}

func TestSnapshotDirName(t *testing.T) {
	project := &cytomine.Project{ID: 10, Name: "My Project"}
	name := snapshotDirName("https://source.example.org", project)
	if !strings.HasPrefix(name, "source.example.org-10-My-Project-") {
		t.Errorf("dir name = %q", name)
	}
	if strings.Contains(name, " ") || strings.Contains(name, "/") {
		t.Errorf("dir name not filesystem safe: %q", name)
	}
}
