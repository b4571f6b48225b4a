package importer

import (
	"context"
	"fmt"
	"sort"

	"github.com/cytomig/cytomig/internal/remap"
)

// importMetadata replays properties, attached files, and descriptions
// onto the mapped owners. An owner the snapshot never declared is a
// corrupt snapshot and aborts; an owner that simply failed to
// materialize (an image that never arrived) has its metadata skipped
// and journaled.
func (i *Importer) importMetadata(ctx context.Context) error {
	owners := i.metadataOwners()
	if len(owners) == 0 {
		return nil
	}
	kinds := i.objectKinds()

	for _, ownerID := range owners {
		kind, ok := kinds[ownerID]
		if !ok {
			return fmt.Errorf("metadata references unknown object %d", ownerID)
		}
		targetID, err := i.table.Get(kind, ownerID)
		if err != nil {
			i.warn("metadata", fmt.Sprintf("%s %d", kind, ownerID), err)
			continue
		}

		for _, property := range i.snap.Properties[ownerID] {
			clone := property
			clone.ID = 0
			clone.DomainIdent = targetID
			if _, err := i.gw.CreateProperty(ctx, &clone); err != nil {
				i.warn("metadata", fmt.Sprintf("property %q of %s %d", property.Key, kind, ownerID), err)
			}
		}

		for _, file := range i.snap.AttachedFiles[ownerID] {
			path := i.snap.AttachedFilePath(file.ID, file.Filename)
			if _, err := i.gw.UploadAttachedFile(ctx, path, file.DomainClassName, targetID, file.Filename); err != nil {
				i.warn("metadata", fmt.Sprintf("attached file %d (%s)", file.ID, file.Filename), err)
			}
		}

		if description := i.snap.Descriptions[ownerID]; description != nil {
			clone := *description
			clone.ID = 0
			clone.DomainIdent = targetID
			if _, err := i.gw.CreateDescription(ctx, &clone); err != nil {
				i.warn("metadata", fmt.Sprintf("description of %s %d", kind, ownerID), err)
			}
		}
	}
	return nil
}

// metadataOwners returns the sorted union of object ids that carry any
// metadata in the snapshot.
func (i *Importer) metadataOwners() []int64 {
	seen := make(map[int64]struct{})
	for id := range i.snap.Properties {
		seen[id] = struct{}{}
	}
	for id := range i.snap.AttachedFiles {
		seen[id] = struct{}{}
	}
	for id := range i.snap.Descriptions {
		seen[id] = struct{}{}
	}
	owners := make([]int64, 0, len(seen))
	for id := range seen {
		owners = append(owners, id)
	}
	sort.Slice(owners, func(a, b int) bool { return owners[a] < owners[b] })
	return owners
}

// objectKinds indexes every snapshot object id by its entity kind, so a
// bare metadata owner id can be resolved through the remap table.
func (i *Importer) objectKinds() map[int64]remap.Kind {
	kinds := make(map[int64]remap.Kind)
	kinds[i.snap.Project.ID] = remap.KindProject
	kinds[i.snap.Ontology.ID] = remap.KindOntology
	for _, term := range i.snap.Terms {
		kinds[term.ID] = remap.KindTerm
	}
	for _, user := range i.snap.Users {
		kinds[user.ID] = remap.KindUser
	}
	for _, image := range i.snap.Images {
		kinds[image.ID] = remap.KindImage
	}
	for _, annotation := range i.snap.Annotations {
		kinds[annotation.ID] = remap.KindAnnotation
	}
	return kinds
}
