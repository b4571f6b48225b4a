package importer

import (
	"context"
	"fmt"

	"github.com/cytomig/cytomig/internal/cytomine"
	"github.com/cytomig/cytomig/internal/parallel"
	"github.com/cytomig/cytomig/internal/remap"
)

// importAnnotations replays user annotations grouped by creator: one
// impersonation per creator, bounded parallelism inside each batch. An
// annotation whose image or term never materialized on the target is
// skipped and journaled, never retried.
func (i *Importer) importAnnotations(ctx context.Context) error {
	if len(i.snap.Annotations) == 0 {
		return nil
	}
	projectID, err := i.table.Get(remap.KindProject, i.snap.Project.ID)
	if err != nil {
		return err
	}

	byCreator := make(map[int64][]cytomine.Annotation)
	var order []int64
	for _, annotation := range i.snap.Annotations {
		if _, ok := byCreator[annotation.User]; !ok {
			order = append(order, annotation.User)
		}
		byCreator[annotation.User] = append(byCreator[annotation.User], annotation)
	}

	workers := i.opts.Workers
	if workers <= 0 {
		workers = parallel.DefaultWorkers
	}

	for _, originUser := range order {
		batch := byCreator[originUser]
		creatorID, err := i.table.Get(remap.KindUser, originUser)
		if err != nil {
			for _, annotation := range batch {
				i.warn("annotations", annotationLabel(annotation), err)
				i.result.Skipped++
			}
			continue
		}
		err = i.switcher.As(ctx, creatorID, func(ctx context.Context) error {
			failures := parallel.ForEach(ctx, workers, batch,
				func(a cytomine.Annotation) string { return annotationLabel(a) },
				func(ctx context.Context, a cytomine.Annotation) error {
					return i.importAnnotation(ctx, a, projectID, creatorID)
				})
			for _, failure := range failures {
				i.warn("annotations", failure.Name, failure.Err)
				i.result.Skipped++
			}
			i.result.Annotations += len(batch) - len(failures)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (i *Importer) importAnnotation(ctx context.Context, origin cytomine.Annotation, projectID, creatorID int64) error {
	imageID, err := i.table.Get(remap.KindImage, origin.Image)
	if err != nil {
		return err
	}

	clone := origin
	clone.ID = 0
	clone.Project = projectID
	clone.Image = imageID
	clone.User = creatorID
	// The slice belongs to the origin image stack; the target assigns
	// its own when the annotation lands.
	clone.Slice = nil
	clone.UserByTerm = nil
	clone.Term = nil
	for _, term := range origin.Term {
		termID, err := i.table.Get(remap.KindTerm, term)
		if err != nil {
			return err
		}
		clone.Term = append(clone.Term, termID)
	}
	if !i.opts.WithOriginalDates {
		clone.Created = nil
		clone.Updated = nil
	}

	created, err := i.gw.CreateAnnotation(ctx, &clone)
	if err != nil {
		return fmt.Errorf("create annotation: %w", err)
	}
	return i.mapID(remap.KindAnnotation, origin.ID, created.ID)
}

func annotationLabel(annotation cytomine.Annotation) string {
	return fmt.Sprintf("annotation %d", annotation.ID)
}
