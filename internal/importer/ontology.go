package importer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cytomig/cytomig/internal/cytomine"
	"github.com/cytomig/cytomig/internal/remap"
)

// importOntology reuses a target ontology when one with the same name
// carries exactly the same terms, and creates a fresh one otherwise.
// Equality is the (name, color) set of the terms; hierarchy and term
// order are ignored on purpose, matching how ontologies drift between
// instances that already exchanged projects before.
func (i *Importer) importOntology(ctx context.Context) error {
	remote := i.snap.Ontology

	existing, err := i.gw.Ontologies(ctx)
	if err != nil {
		return ErrSetup.Wrap(fmt.Errorf("target ontologies: %w", err))
	}
	allTerms, err := i.gw.Terms(ctx)
	if err != nil {
		return ErrSetup.Wrap(fmt.Errorf("target terms: %w", err))
	}
	termsByOntology := make(map[int64][]cytomine.Term)
	for _, term := range allTerms {
		termsByOntology[term.Ontology] = append(termsByOntology[term.Ontology], term)
	}

	want := termSignature(i.snap.Terms)
	taken := make(map[string]struct{}, len(existing))
	for _, ontology := range existing {
		taken[ontology.Name] = struct{}{}
	}

	for _, candidate := range existing {
		if candidate.Name != remote.Name {
			continue
		}
		candidateTerms := termsByOntology[candidate.ID]
		if !signaturesEqual(want, termSignature(candidateTerms)) {
			continue
		}
		if err := i.reuseOntology(candidate, candidateTerms); err != nil {
			return err
		}
		return nil
	}

	return i.createOntology(ctx, taken)
}

// reuseOntology maps the snapshot ontology and terms onto an existing
// target ontology whose term set matched.
func (i *Importer) reuseOntology(target cytomine.Ontology, targetTerms []cytomine.Term) error {
	if err := i.mapID(remap.KindOntology, i.snap.Ontology.ID, target.ID); err != nil {
		return err
	}
	byName := make(map[string]int64, len(targetTerms))
	for _, term := range targetTerms {
		byName[term.Name] = term.ID
	}
	for _, term := range i.snap.Terms {
		targetID, ok := byName[term.Name]
		if !ok {
			return fmt.Errorf("matched ontology %d misses term %q", target.ID, term.Name)
		}
		if err := i.mapID(remap.KindTerm, term.ID, targetID); err != nil {
			return err
		}
	}
	i.result.OntologyReused = true
	i.result.Terms = len(i.snap.Terms)
	i.log.Info("ontology reused",
		zap.String("name", target.Name),
		zap.Int64("target", target.ID),
		zap.Int("terms", len(i.snap.Terms)))
	return nil
}

// createOntology creates the ontology, its terms, and the parent/child
// relations on the target, acting as the original creator.
func (i *Importer) createOntology(ctx context.Context, taken map[string]struct{}) error {
	remote := i.snap.Ontology
	creatorID, err := i.table.Get(remap.KindUser, remote.User)
	if err != nil {
		return err
	}

	return i.switcher.As(ctx, creatorID, func(ctx context.Context) error {
		clone := *remote
		clone.ID = 0
		clone.User = 0
		clone.Name = availableName(remote.Name, taken)
		if !i.opts.WithOriginalDates {
			clone.Created = nil
			clone.Updated = nil
		}
		created, err := i.gw.CreateOntology(ctx, &clone)
		if err != nil {
			return fmt.Errorf("create ontology %q: %w", clone.Name, err)
		}
		if err := i.mapID(remap.KindOntology, remote.ID, created.ID); err != nil {
			return err
		}
		i.log.Info("ontology created",
			zap.String("name", created.Name),
			zap.Int64("target", created.ID))

		for _, term := range i.snap.Terms {
			termClone := term
			termClone.ID = 0
			termClone.Ontology = created.ID
			termClone.Parent = nil
			if !i.opts.WithOriginalDates {
				termClone.Created = nil
				termClone.Updated = nil
			}
			createdTerm, err := i.gw.CreateTerm(ctx, &termClone)
			if err != nil {
				return fmt.Errorf("create term %q: %w", term.Name, err)
			}
			if err := i.mapID(remap.KindTerm, term.ID, createdTerm.ID); err != nil {
				return err
			}
			i.result.Terms++
		}

		// The hierarchy is replayed as explicit relations once every
		// term exists, so a child can precede its parent in the
		// snapshot document.
		for _, term := range i.snap.Terms {
			if term.Parent == nil {
				continue
			}
			parentID, err := i.table.Get(remap.KindTerm, *term.Parent)
			if err != nil {
				return err
			}
			childID, err := i.table.Get(remap.KindTerm, term.ID)
			if err != nil {
				return err
			}
			if _, err := i.gw.CreateRelationTerm(ctx, parentID, childID); err != nil {
				return fmt.Errorf("relate term %q to its parent: %w", term.Name, err)
			}
		}
		return nil
	})
}

// termSignature folds terms into their comparable (name, color) set.
func termSignature(terms []cytomine.Term) map[string]struct{} {
	sig := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		sig[term.Name+"\x00"+term.Color] = struct{}{}
	}
	return sig
}

func signaturesEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for key := range a {
		if _, ok := b[key]; !ok {
			return false
		}
	}
	return true
}
