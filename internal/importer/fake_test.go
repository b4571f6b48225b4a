package importer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cytomig/cytomig/internal/cytomine"
)

// fakeGateway is an in-memory target instance. Created entities get
// sequential ids starting at 1000 so tests can tell origin ids (small)
// from target ids at a glance.
type fakeGateway struct {
	mu     sync.Mutex
	nextID int64

	creds      cytomine.Credentials
	adminOpens int

	users     []cytomine.User
	keys      map[int64]cytomine.Credentials
	userByKey map[string]int64

	ontologies []cytomine.Ontology
	terms      []cytomine.Term
	relations  []cytomine.RelationTerm
	projects   []cytomine.Project
	storages   []cytomine.Storage
	abstracts  []cytomine.AbstractImage
	instances  map[int64][]cytomine.ImageInstance

	annotations   []cytomine.Annotation
	properties    []cytomine.Property
	attachedFiles []cytomine.AttachedFile
	descriptions  []cytomine.Description

	// public key that signed each create, keyed by created entity id
	createdBy map[int64]string

	failUploads map[string]error
	uploads     []string
}

const (
	adminUserID = 900
	adminPub    = "admin-pub"
)

func newFakeGateway() *fakeGateway {
	gw := &fakeGateway{
		nextID:      1000,
		creds:       cytomine.Credentials{PublicKey: adminPub, PrivateKey: "admin-priv"},
		keys:        make(map[int64]cytomine.Credentials),
		userByKey:   make(map[string]int64),
		instances:   make(map[int64][]cytomine.ImageInstance),
		createdBy:   make(map[int64]string),
		failUploads: make(map[string]error),
	}
	gw.addUser(cytomine.User{ID: adminUserID, Username: "admin"})
	gw.storages = append(gw.storages, cytomine.Storage{ID: 950, Name: "admin storage", User: adminUserID})
	return gw
}

// addUser seeds a target user with derived keys and a personal storage.
func (g *fakeGateway) addUser(user cytomine.User) cytomine.User {
	if user.ID == 0 {
		user.ID = g.allocate()
	}
	g.users = append(g.users, user)
	pub := fmt.Sprintf("pub-%d", user.ID)
	g.keys[user.ID] = cytomine.Credentials{PublicKey: pub, PrivateKey: fmt.Sprintf("priv-%d", user.ID)}
	g.userByKey[pub] = user.ID
	g.storages = append(g.storages, cytomine.Storage{ID: user.ID + 10000, Name: user.Username, User: user.ID})
	return user
}

func (g *fakeGateway) allocate() int64 {
	g.nextID++
	return g.nextID
}

func (g *fakeGateway) callerID() int64 {
	if id, ok := g.userByKey[g.creds.PublicKey]; ok {
		return id
	}
	return adminUserID
}

func (g *fakeGateway) Host() string { return "target.example.org" }

func (g *fakeGateway) Credentials() cytomine.Credentials {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creds
}

func (g *fakeGateway) SetCredentials(creds cytomine.Credentials) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creds = creds
}

func (g *fakeGateway) OpenAdminSession(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adminOpens++
	return nil
}

func (g *fakeGateway) CurrentUser(ctx context.Context) (*cytomine.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.callerID()
	for _, user := range g.users {
		if user.ID == id {
			u := user
			return &u, nil
		}
	}
	return nil, fmt.Errorf("no user for key %q", g.creds.PublicKey)
}

func (g *fakeGateway) Users(ctx context.Context) ([]cytomine.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cytomine.User(nil), g.users...), nil
}

func (g *fakeGateway) FetchUser(ctx context.Context, id int64) (*cytomine.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, user := range g.users {
		if user.ID == id {
			u := user
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %d: HTTP 404", id)
}

func (g *fakeGateway) UserKeys(ctx context.Context, id int64) (cytomine.Credentials, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys, ok := g.keys[id]
	if !ok {
		return cytomine.Credentials{}, fmt.Errorf("keys of user %d: HTTP 404", id)
	}
	return keys, nil
}

func (g *fakeGateway) CreateUser(ctx context.Context, user *cytomine.User) (*cytomine.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if user.Password == "" {
		return nil, fmt.Errorf("user %q: password required", user.Username)
	}
	created := *user
	created = g.addUser(created)
	g.createdBy[created.ID] = g.creds.PublicKey
	return &created, nil
}

func (g *fakeGateway) Ontologies(ctx context.Context) ([]cytomine.Ontology, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cytomine.Ontology(nil), g.ontologies...), nil
}

func (g *fakeGateway) Terms(ctx context.Context) ([]cytomine.Term, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cytomine.Term(nil), g.terms...), nil
}

func (g *fakeGateway) CreateOntology(ctx context.Context, ontology *cytomine.Ontology) (*cytomine.Ontology, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	created := *ontology
	created.ID = g.allocate()
	created.User = g.callerID()
	g.ontologies = append(g.ontologies, created)
	g.createdBy[created.ID] = g.creds.PublicKey
	return &created, nil
}

func (g *fakeGateway) CreateTerm(ctx context.Context, term *cytomine.Term) (*cytomine.Term, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	created := *term
	created.ID = g.allocate()
	g.terms = append(g.terms, created)
	g.createdBy[created.ID] = g.creds.PublicKey
	return &created, nil
}

func (g *fakeGateway) CreateRelationTerm(ctx context.Context, parent, child int64) (*cytomine.RelationTerm, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	created := cytomine.RelationTerm{ID: g.allocate(), Term1: parent, Term2: child}
	g.relations = append(g.relations, created)
	return &created, nil
}

func (g *fakeGateway) Projects(ctx context.Context) ([]cytomine.Project, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cytomine.Project(nil), g.projects...), nil
}

func (g *fakeGateway) CreateProject(ctx context.Context, project *cytomine.Project) (*cytomine.Project, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	created := *project
	created.ID = g.allocate()
	g.projects = append(g.projects, created)
	g.createdBy[created.ID] = g.creds.PublicKey
	return &created, nil
}

func (g *fakeGateway) Storages(ctx context.Context) ([]cytomine.Storage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cytomine.Storage(nil), g.storages...), nil
}

func (g *fakeGateway) AbstractImages(ctx context.Context) ([]cytomine.AbstractImage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cytomine.AbstractImage(nil), g.abstracts...), nil
}

func (g *fakeGateway) FetchAbstractImage(ctx context.Context, id int64) (*cytomine.AbstractImage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, abstract := range g.abstracts {
		if abstract.ID == id {
			a := abstract
			return &a, nil
		}
	}
	return nil, fmt.Errorf("abstract image %d: HTTP 404", id)
}

func (g *fakeGateway) LinkImage(ctx context.Context, abstractImageID, projectID int64) (*cytomine.ImageInstance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, abstract := range g.abstracts {
		if abstract.ID != abstractImageID {
			continue
		}
		instance := cytomine.ImageInstance{
			ID:               g.allocate(),
			BaseImage:        abstract.ID,
			Project:          projectID,
			User:             g.callerID(),
			OriginalFilename: abstract.OriginalFilename,
			Width:            abstract.Width,
			Height:           abstract.Height,
			Magnification:    abstract.Magnification,
		}
		g.instances[projectID] = append(g.instances[projectID], instance)
		g.createdBy[instance.ID] = g.creds.PublicKey
		return &instance, nil
	}
	return nil, fmt.Errorf("abstract image %d: HTTP 404", abstractImageID)
}

// UploadImage deploys immediately: one new abstract image plus one
// instance in the project, named after the uploaded file.
func (g *fakeGateway) UploadImage(ctx context.Context, uploadHost, path string, storageID, projectID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := filepath.Base(path)
	if err, ok := g.failUploads[name]; ok {
		return err
	}
	g.uploads = append(g.uploads, path)
	abstract := cytomine.AbstractImage{ID: g.allocate(), OriginalFilename: name}
	g.abstracts = append(g.abstracts, abstract)
	instance := cytomine.ImageInstance{
		ID:               g.allocate(),
		BaseImage:        abstract.ID,
		Project:          projectID,
		User:             g.callerID(),
		OriginalFilename: name,
	}
	g.instances[projectID] = append(g.instances[projectID], instance)
	g.createdBy[instance.ID] = g.creds.PublicKey
	return nil
}

func (g *fakeGateway) ProjectImages(ctx context.Context, projectID int64) ([]cytomine.ImageInstance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cytomine.ImageInstance(nil), g.instances[projectID]...), nil
}

func (g *fakeGateway) UpdateImageInstance(ctx context.Context, image *cytomine.ImageInstance) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for projectID, instances := range g.instances {
		for idx, instance := range instances {
			if instance.ID == image.ID {
				g.instances[projectID][idx] = *image
				return nil
			}
		}
	}
	return fmt.Errorf("image instance %d: HTTP 404", image.ID)
}

func (g *fakeGateway) UpdateAbstractImage(ctx context.Context, image *cytomine.AbstractImage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for idx, abstract := range g.abstracts {
		if abstract.ID == image.ID {
			g.abstracts[idx] = *image
			return nil
		}
	}
	return fmt.Errorf("abstract image %d: HTTP 404", image.ID)
}

func (g *fakeGateway) CreateAnnotation(ctx context.Context, annotation *cytomine.Annotation) (*cytomine.Annotation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	created := *annotation
	created.ID = g.allocate()
	created.User = g.callerID()
	g.annotations = append(g.annotations, created)
	g.createdBy[created.ID] = g.creds.PublicKey
	return &created, nil
}

func (g *fakeGateway) CreateProperty(ctx context.Context, property *cytomine.Property) (*cytomine.Property, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	created := *property
	created.ID = g.allocate()
	g.properties = append(g.properties, created)
	return &created, nil
}

func (g *fakeGateway) UploadAttachedFile(ctx context.Context, path, domainClassName string, domainIdent int64, filename string) (*cytomine.AttachedFile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	created := cytomine.AttachedFile{
		ID:              g.allocate(),
		DomainIdent:     domainIdent,
		DomainClassName: domainClassName,
		Filename:        filename,
	}
	g.attachedFiles = append(g.attachedFiles, created)
	return &created, nil
}

func (g *fakeGateway) CreateDescription(ctx context.Context, description *cytomine.Description) (*cytomine.Description, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	created := *description
	created.ID = g.allocate()
	g.descriptions = append(g.descriptions, created)
	return &created, nil
}
