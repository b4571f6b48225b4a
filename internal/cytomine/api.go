package cytomine

import (
	"context"
	"fmt"
	"net/url"
)

// FetchProject fetches one project by id.
func (c *Client) FetchProject(ctx context.Context, id int64) (*Project, error) {
	var project Project
	if err := c.getJSON(ctx, fmt.Sprintf("/api/project/%d.json", id), nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// FetchOntology fetches one ontology by id.
func (c *Client) FetchOntology(ctx context.Context, id int64) (*Ontology, error) {
	var ontology Ontology
	if err := c.getJSON(ctx, fmt.Sprintf("/api/ontology/%d.json", id), nil, &ontology); err != nil {
		return nil, err
	}
	return &ontology, nil
}

// FetchUser fetches one user by id.
func (c *Client) FetchUser(ctx context.Context, id int64) (*User, error) {
	var user User
	if err := c.getJSON(ctx, fmt.Sprintf("/api/user/%d.json", id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// FetchAbstractImage fetches one abstract image by id.
func (c *Client) FetchAbstractImage(ctx context.Context, id int64) (*AbstractImage, error) {
	var image AbstractImage
	if err := c.getJSON(ctx, fmt.Sprintf("/api/abstractimage/%d.json", id), nil, &image); err != nil {
		return nil, err
	}
	return &image, nil
}

// UserKeys fetches a user's API key pair. Requires admin.
func (c *Client) UserKeys(ctx context.Context, id int64) (Credentials, error) {
	var keys struct {
		PublicKey  string `json:"publicKey"`
		PrivateKey string `json:"privateKey"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/user/%d/keys.json", id), nil, &keys); err != nil {
		return Credentials{}, err
	}
	return Credentials{PublicKey: keys.PublicKey, PrivateKey: keys.PrivateKey}, nil
}

// ProjectUsers lists the members of a project; adminOnly restricts to
// project managers.
func (c *Client) ProjectUsers(ctx context.Context, projectID int64, adminOnly bool) ([]User, error) {
	path := fmt.Sprintf("/api/project/%d/user.json", projectID)
	if adminOnly {
		path = fmt.Sprintf("/api/project/%d/admin.json", projectID)
	}
	var users []User
	if err := c.getCollection(ctx, path, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ProjectTerms lists all ontology terms visible in a project.
func (c *Client) ProjectTerms(ctx context.Context, projectID int64) ([]Term, error) {
	var terms []Term
	if err := c.getCollection(ctx, fmt.Sprintf("/api/project/%d/term.json", projectID), nil, &terms); err != nil {
		return nil, err
	}
	return terms, nil
}

// ProjectImages lists the image instances of a project.
func (c *Client) ProjectImages(ctx context.Context, projectID int64) ([]ImageInstance, error) {
	var images []ImageInstance
	if err := c.getCollection(ctx, fmt.Sprintf("/api/project/%d/imageinstance.json", projectID), nil, &images); err != nil {
		return nil, err
	}
	return images, nil
}

// ProjectAnnotations lists the user annotations of a project with
// geometry and term associations included.
func (c *Client) ProjectAnnotations(ctx context.Context, projectID int64) ([]Annotation, error) {
	query := url.Values{}
	query.Set("project", fmt.Sprint(projectID))
	query.Set("showWKT", "true")
	query.Set("showTerm", "true")
	var annotations []Annotation
	if err := c.getCollection(ctx, "/api/annotation.json", query, &annotations); err != nil {
		return nil, err
	}
	return annotations, nil
}

// ProjectImageGroups lists the image groups of a project.
func (c *Client) ProjectImageGroups(ctx context.Context, projectID int64) ([]ImageGroup, error) {
	var groups []ImageGroup
	if err := c.getCollection(ctx, fmt.Sprintf("/api/project/%d/imagegroup.json", projectID), nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// ImageGroupImages lists the image-instance links of one image group.
func (c *Client) ImageGroupImages(ctx context.Context, groupID int64) ([]ImageGroupImageInstance, error) {
	var links []ImageGroupImageInstance
	if err := c.getCollection(ctx, fmt.Sprintf("/api/imagegroup/%d/imagegroupimageinstance.json", groupID), nil, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// Projects lists every project on the instance.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.getCollection(ctx, "/api/project.json", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Ontologies lists every ontology on the instance.
func (c *Client) Ontologies(ctx context.Context) ([]Ontology, error) {
	var ontologies []Ontology
	if err := c.getCollection(ctx, "/api/ontology.json", nil, &ontologies); err != nil {
		return nil, err
	}
	return ontologies, nil
}

// Terms lists every term on the instance.
func (c *Client) Terms(ctx context.Context) ([]Term, error) {
	var terms []Term
	if err := c.getCollection(ctx, "/api/term.json", nil, &terms); err != nil {
		return nil, err
	}
	return terms, nil
}

// Users lists every user on the instance.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.getCollection(ctx, "/api/user.json", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Storages lists every storage on the instance.
func (c *Client) Storages(ctx context.Context) ([]Storage, error) {
	var storages []Storage
	if err := c.getCollection(ctx, "/api/storage.json", nil, &storages); err != nil {
		return nil, err
	}
	return storages, nil
}

// AbstractImages lists every abstract image visible to the principal.
func (c *Client) AbstractImages(ctx context.Context) ([]AbstractImage, error) {
	var images []AbstractImage
	if err := c.getCollection(ctx, "/api/abstractimage.json", nil, &images); err != nil {
		return nil, err
	}
	return images, nil
}

// PropertiesOf lists the key-value properties of one domain object.
func (c *Client) PropertiesOf(ctx context.Context, domain string, id int64) ([]Property, error) {
	var properties []Property
	if err := c.getCollection(ctx, fmt.Sprintf("/api/domain/%s/%d/property.json", domain, id), nil, &properties); err != nil {
		return nil, err
	}
	return properties, nil
}

// AttachedFilesOf lists the attached files of one domain object.
func (c *Client) AttachedFilesOf(ctx context.Context, domain string, id int64) ([]AttachedFile, error) {
	var files []AttachedFile
	if err := c.getCollection(ctx, fmt.Sprintf("/api/domain/%s/%d/attachedfile.json", domain, id), nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// DescriptionOf fetches the description of one domain object, or nil if
// the object has none.
func (c *Client) DescriptionOf(ctx context.Context, domain string, id int64) (*Description, error) {
	var description Description
	err := c.getJSON(ctx, fmt.Sprintf("/api/domain/%s/%d/description.json", domain, id), nil, &description)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if description.ID == 0 {
		return nil, nil
	}
	return &description, nil
}

// CreateUser creates a user and returns it with its assigned id.
func (c *Client) CreateUser(ctx context.Context, user *User) (*User, error) {
	var created User
	if err := c.postJSON(ctx, "/api/user.json", user, "user", &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateOntology creates an ontology as the active principal.
func (c *Client) CreateOntology(ctx context.Context, ontology *Ontology) (*Ontology, error) {
	var created Ontology
	if err := c.postJSON(ctx, "/api/ontology.json", ontology, "ontology", &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateTerm creates a term inside an existing ontology.
func (c *Client) CreateTerm(ctx context.Context, term *Term) (*Term, error) {
	var created Term
	if err := c.postJSON(ctx, "/api/term.json", term, "term", &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateRelationTerm records a parent/child relation between two terms.
func (c *Client) CreateRelationTerm(ctx context.Context, parent, child int64) (*RelationTerm, error) {
	relation := RelationTerm{Term1: parent, Term2: child}
	var created RelationTerm
	if err := c.postJSON(ctx, "/api/relation/parent/term.json", &relation, "relationterm", &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, project *Project) (*Project, error) {
	var created Project
	if err := c.postJSON(ctx, "/api/project.json", project, "project", &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// LinkImage links an existing abstract image into a project as a new
// image instance (the cheap path when the bytes are already on the
// target).
func (c *Client) LinkImage(ctx context.Context, abstractImageID, projectID int64) (*ImageInstance, error) {
	instance := ImageInstance{BaseImage: abstractImageID, Project: projectID}
	var created ImageInstance
	if err := c.postJSON(ctx, "/api/imageinstance.json", &instance, "imageinstance", &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateImageInstance persists modified fields of an image instance.
func (c *Client) UpdateImageInstance(ctx context.Context, image *ImageInstance) error {
	return c.putJSON(ctx, fmt.Sprintf("/api/imageinstance/%d.json", image.ID), image, "imageinstance", image)
}

// UpdateAbstractImage persists modified fields of an abstract image.
func (c *Client) UpdateAbstractImage(ctx context.Context, image *AbstractImage) error {
	return c.putJSON(ctx, fmt.Sprintf("/api/abstractimage/%d.json", image.ID), image, "abstractimage", image)
}

// CreateAnnotation creates a user annotation.
func (c *Client) CreateAnnotation(ctx context.Context, annotation *Annotation) (*Annotation, error) {
	var created Annotation
	if err := c.postJSON(ctx, "/api/annotation.json", annotation, "annotation", &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateProperty attaches a key-value property to a domain object.
func (c *Client) CreateProperty(ctx context.Context, property *Property) (*Property, error) {
	var created Property
	if err := c.postJSON(ctx, "/api/property.json", property, "property", &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateDescription attaches a description to a domain object.
func (c *Client) CreateDescription(ctx context.Context, description *Description) (*Description, error) {
	var created Description
	path := fmt.Sprintf("/api/domain/%s/%d/description.json", description.DomainClassName, description.DomainIdent)
	if err := c.postJSON(ctx, path, description, "description", &created); err != nil {
		return nil, err
	}
	return &created, nil
}
