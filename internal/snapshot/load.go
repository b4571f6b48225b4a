package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cytomig/cytomig/internal/cytomine"
)

// Load reads a snapshot directory back into memory. Documents are
// recognized by their deterministic names; per-object metadata documents
// recover the owning object's origin id from the filename. The project,
// ontology, and user collection are mandatory; everything else defaults
// to empty.
func Load(dir string) (*Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read directory: %w", err)
	}

	snap := &Snapshot{
		Dir:           dir,
		Properties:    make(map[int64][]cytomine.Property),
		AttachedFiles: make(map[int64][]cytomine.AttachedFile),
		Descriptions:  make(map[int64]*cytomine.Description),
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)

		var loadErr error
		switch {
		case name == ManifestFile:
			loadErr = readJSON(path, &snap.Manifest)
		case name == fileTerms:
			loadErr = readJSON(path, &snap.Terms)
		case name == fileImages:
			loadErr = readJSON(path, &snap.Images)
		case name == fileAnnotations:
			loadErr = readJSON(path, &snap.Annotations)
		case name == fileUsers:
			loadErr = readJSON(path, &snap.Users)
		case name == fileImageGroups:
			loadErr = readJSON(path, &snap.ImageGroups)
		case name == fileImageGroupLinks:
			loadErr = readJSON(path, &snap.ImageGroupLinks)
		case strings.HasPrefix(name, prefixProperties):
			objectID, ok := metadataObjectID(name, prefixProperties, suffixCollectionJSON)
			if !ok {
				continue
			}
			var properties []cytomine.Property
			if loadErr = readJSON(path, &properties); loadErr == nil {
				snap.Properties[objectID] = properties
			}
		case strings.HasPrefix(name, prefixAttachedFiles):
			objectID, ok := metadataObjectID(name, prefixAttachedFiles, suffixCollectionJSON)
			if !ok {
				continue
			}
			var files []cytomine.AttachedFile
			if loadErr = readJSON(path, &files); loadErr == nil {
				snap.AttachedFiles[objectID] = files
			}
		case strings.HasPrefix(name, prefixDescription):
			objectID, ok := metadataObjectID(name, prefixDescription, ".json")
			if !ok {
				continue
			}
			var description cytomine.Description
			if loadErr = readJSON(path, &description); loadErr == nil {
				snap.Descriptions[objectID] = &description
			}
		case strings.HasPrefix(name, prefixProject):
			var project cytomine.Project
			if loadErr = readJSON(path, &project); loadErr == nil {
				snap.Project = &project
			}
		case strings.HasPrefix(name, prefixOntology):
			var ontology cytomine.Ontology
			if loadErr = readJSON(path, &ontology); loadErr == nil {
				snap.Ontology = &ontology
			}
		}
		if loadErr != nil {
			return nil, loadErr
		}
	}

	if snap.Project == nil {
		return nil, fmt.Errorf("snapshot: no project document in %s", dir)
	}
	if snap.Ontology == nil {
		return nil, fmt.Errorf("snapshot: no ontology document in %s", dir)
	}
	if len(snap.Users) == 0 {
		return nil, fmt.Errorf("snapshot: no user collection in %s", dir)
	}
	return snap, nil
}

func readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("snapshot: read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("snapshot: parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// metadataObjectID extracts the origin id from a per-object metadata
// document name such as "properties-object-42-collection.json".
func metadataObjectID(name, prefix, suffix string) (int64, bool) {
	raw := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
