package snapshot

import "fmt"

// Verify checks that the snapshot is closed under its own references:
// every reference field points at an identifier that is also present in
// the snapshot, or is explicitly nullable. The first violation found is
// returned.
func (s *Snapshot) Verify() error {
	users := make(map[int64]struct{}, len(s.Users))
	for _, user := range s.Users {
		users[user.ID] = struct{}{}
	}
	terms := make(map[int64]struct{}, len(s.Terms))
	for _, term := range s.Terms {
		terms[term.ID] = struct{}{}
	}
	images := make(map[int64]struct{}, len(s.Images))
	for _, image := range s.Images {
		images[image.ID] = struct{}{}
	}

	if s.Project.Ontology != s.Ontology.ID {
		return fmt.Errorf("snapshot: project %d references ontology %d, snapshot holds %d",
			s.Project.ID, s.Project.Ontology, s.Ontology.ID)
	}
	if _, ok := users[s.Ontology.User]; !ok && s.Ontology.User != 0 {
		return fmt.Errorf("snapshot: ontology creator %d not in user collection", s.Ontology.User)
	}

	for _, term := range s.Terms {
		if term.Ontology != s.Ontology.ID {
			return fmt.Errorf("snapshot: term %d references ontology %d, snapshot holds %d",
				term.ID, term.Ontology, s.Ontology.ID)
		}
		if term.Parent != nil {
			if _, ok := terms[*term.Parent]; !ok {
				return fmt.Errorf("snapshot: term %d references missing parent %d", term.ID, *term.Parent)
			}
		}
	}

	for _, image := range s.Images {
		if image.Project != s.Project.ID {
			return fmt.Errorf("snapshot: image %d references project %d, snapshot holds %d",
				image.ID, image.Project, s.Project.ID)
		}
		if _, ok := users[image.User]; !ok {
			return fmt.Errorf("snapshot: image %d creator %d not in user collection", image.ID, image.User)
		}
		if image.ReviewUser != nil {
			if _, ok := users[*image.ReviewUser]; !ok {
				return fmt.Errorf("snapshot: image %d reviewer %d not in user collection", image.ID, *image.ReviewUser)
			}
		}
	}

	for _, annotation := range s.Annotations {
		if annotation.Project != s.Project.ID {
			return fmt.Errorf("snapshot: annotation %d references project %d, snapshot holds %d",
				annotation.ID, annotation.Project, s.Project.ID)
		}
		if _, ok := images[annotation.Image]; !ok {
			return fmt.Errorf("snapshot: annotation %d references missing image %d", annotation.ID, annotation.Image)
		}
		if _, ok := users[annotation.User]; !ok {
			return fmt.Errorf("snapshot: annotation %d creator %d not in user collection", annotation.ID, annotation.User)
		}
		for _, termID := range annotation.Term {
			if _, ok := terms[termID]; !ok {
				return fmt.Errorf("snapshot: annotation %d references missing term %d", annotation.ID, termID)
			}
		}
	}

	known := s.knownObjectIDs(users, terms, images)
	for objectID := range s.Properties {
		if _, ok := known[objectID]; !ok {
			return fmt.Errorf("snapshot: properties describe unknown object %d", objectID)
		}
	}
	for objectID := range s.AttachedFiles {
		if _, ok := known[objectID]; !ok {
			return fmt.Errorf("snapshot: attached files describe unknown object %d", objectID)
		}
	}
	for objectID := range s.Descriptions {
		if _, ok := known[objectID]; !ok {
			return fmt.Errorf("snapshot: description describes unknown object %d", objectID)
		}
	}
	return nil
}

func (s *Snapshot) knownObjectIDs(users, terms, images map[int64]struct{}) map[int64]struct{} {
	known := make(map[int64]struct{})
	for id := range users {
		known[id] = struct{}{}
	}
	for id := range terms {
		known[id] = struct{}{}
	}
	for id := range images {
		known[id] = struct{}{}
	}
	known[s.Project.ID] = struct{}{}
	known[s.Ontology.ID] = struct{}{}
	for _, annotation := range s.Annotations {
		known[annotation.ID] = struct{}{}
	}
	for _, group := range s.ImageGroups {
		known[group.ID] = struct{}{}
	}
	return known
}
