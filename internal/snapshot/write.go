package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/cytomig/cytomig/internal/cytomine"
)

// Writer materializes a snapshot directory document by document as the
// export walks the graph. Empty collections and missing descriptions
// produce no file: absence on disk means absence in the data.
type Writer struct {
	dir string
	log *zap.Logger
}

// NewWriter creates the snapshot directory and returns a writer rooted
// there.
func NewWriter(dir string, log *zap.Logger) (*Writer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create directory: %w", err)
	}
	return &Writer{dir: dir, log: log}, nil
}

// Dir returns the snapshot root.
func (w *Writer) Dir() string { return w.dir }

// ImagePath returns the destination for an image's raw bytes.
func (w *Writer) ImagePath(originalFilename string) string {
	return join3(w.dir, ImagesDir, SanitizeFilename(originalFilename))
}

// ImageGroupPath returns the destination for an image group download.
func (w *Writer) ImageGroupPath(name string) string {
	return join3(w.dir, ImageGroupsDir, SanitizeFilename(name))
}

// AttachedFilePath returns the destination for an attached file's bytes.
func (w *Writer) AttachedFilePath(fileID int64, filename string) string {
	return join3(w.dir, AttachedFilesDir, attachedFileName(fileID, filename))
}

// WriteManifest writes manifest.json.
func (w *Writer) WriteManifest(manifest Manifest) error {
	return w.save(ManifestFile, manifest)
}

// WriteProject writes the project document, named by its origin id.
func (w *Writer) WriteProject(project *cytomine.Project) error {
	return w.save(fmt.Sprintf("%s%d.json", prefixProject, project.ID), project)
}

// WriteOntology writes the ontology document, named by its origin id.
func (w *Writer) WriteOntology(ontology *cytomine.Ontology) error {
	return w.save(fmt.Sprintf("%s%d.json", prefixOntology, ontology.ID), ontology)
}

// WriteTerms writes the term collection.
func (w *Writer) WriteTerms(terms []cytomine.Term) error {
	return w.save(fileTerms, terms)
}

// WriteImages writes the image instance collection.
func (w *Writer) WriteImages(images []cytomine.ImageInstance) error {
	return w.save(fileImages, images)
}

// WriteAnnotations writes the user annotation collection.
func (w *Writer) WriteAnnotations(annotations []cytomine.Annotation) error {
	return w.save(fileAnnotations, annotations)
}

// WriteUsers writes the user collection with accreted roles.
func (w *Writer) WriteUsers(users []User) error {
	return w.save(fileUsers, users)
}

// WriteImageGroups writes the image group collection.
func (w *Writer) WriteImageGroups(groups []cytomine.ImageGroup) error {
	return w.save(fileImageGroups, groups)
}

// WriteImageGroupLinks writes the group/image link collection.
func (w *Writer) WriteImageGroupLinks(links []cytomine.ImageGroupImageInstance) error {
	return w.save(fileImageGroupLinks, links)
}

// WriteProperties writes one object's property collection, named by the
// owning object's origin id. Empty collections write nothing.
func (w *Writer) WriteProperties(objectID int64, properties []cytomine.Property) error {
	if len(properties) == 0 {
		return nil
	}
	return w.save(fmt.Sprintf("%s%d%s", prefixProperties, objectID, suffixCollectionJSON), properties)
}

// WriteAttachedFiles writes one object's attached file collection, named
// by the owning object's origin id. Empty collections write nothing.
func (w *Writer) WriteAttachedFiles(objectID int64, files []cytomine.AttachedFile) error {
	if len(files) == 0 {
		return nil
	}
	return w.save(fmt.Sprintf("%s%d%s", prefixAttachedFiles, objectID, suffixCollectionJSON), files)
}

// WriteDescription writes one object's description, named by the owning
// object's origin id. A nil description writes nothing.
func (w *Writer) WriteDescription(objectID int64, description *cytomine.Description) error {
	if description == nil {
		return nil
	}
	return w.save(fmt.Sprintf("%s%d.json", prefixDescription, objectID), description)
}

func (w *Writer) save(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", name, err)
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", name, err)
	}
	w.log.Debug("document saved", zap.String("file", name))
	return nil
}

func join3(dir, sub, name string) string {
	return filepath.Join(dir, sub, name)
}

// attachedFileName keys an attached file by id so files with the same
// name on different objects never collide.
func attachedFileName(fileID int64, filename string) string {
	return fmt.Sprintf("%d-%s", fileID, SanitizeFilename(filename))
}
