package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cytomig/cytomig/internal/cytomine"
	"github.com/cytomig/cytomig/internal/remap"
)

// importImages submits every snapshot image to the target and adopts
// whatever the target materializes. Submission is either a link to an
// abstract image the target already stores, or an upload of the
// snapshot's raw bytes; both run as the image's original creator.
// Image processing is asynchronous server-side, so after submission the
// poller watches the project until the instances appear, then arrived
// instances are matched back to snapshot images by filename.
func (i *Importer) importImages(ctx context.Context) error {
	if len(i.snap.Images) == 0 {
		return nil
	}
	projectID, err := i.table.Get(remap.KindProject, i.snap.Project.ID)
	if err != nil {
		return err
	}
	abstracts, err := i.gw.AbstractImages(ctx)
	if err != nil {
		return ErrSetup.Wrap(fmt.Errorf("target abstract images: %w", err))
	}

	submitted := 0
	for _, image := range i.snap.Images {
		if err := i.submitImage(ctx, image, projectID, abstracts); err != nil {
			i.warn("images", imageLabel(image), err)
			continue
		}
		submitted++
	}
	i.result.ImagesExpected = submitted

	poller := i.opts.Poller
	if poller.Log == nil {
		poller.Log = i.log
	}
	arrived, attempts := poller.AwaitImages(ctx, i.gw, projectID, submitted)
	i.result.ImagesArrived = len(arrived)
	i.log.Info("images converged",
		zap.Int("expected", submitted),
		zap.Int("arrived", len(arrived)),
		zap.Int("polls", attempts))
	if len(arrived) < submitted {
		i.warn("images", "convergence",
			fmt.Errorf("%d of %d images arrived after %d polls", len(arrived), submitted, attempts))
	}

	return i.adoptImages(ctx, arrived)
}

// submitImage links or uploads one snapshot image as its creator.
func (i *Importer) submitImage(ctx context.Context, image cytomine.ImageInstance, projectID int64, abstracts []cytomine.AbstractImage) error {
	creatorID, err := i.table.Get(remap.KindUser, image.User)
	if err != nil {
		return err
	}
	return i.switcher.As(ctx, creatorID, func(ctx context.Context) error {
		for _, abstract := range abstracts {
			if abstract.OriginalFilename != image.OriginalFilename {
				continue
			}
			if abstract.Width != image.Width || abstract.Height != image.Height {
				continue
			}
			if _, err := i.gw.LinkImage(ctx, abstract.ID, projectID); err != nil {
				return fmt.Errorf("link abstract image %d: %w", abstract.ID, err)
			}
			i.log.Debug("image linked",
				zap.String("filename", image.OriginalFilename),
				zap.Int64("abstract", abstract.ID))
			return nil
		}

		path := i.snap.ImagePath(image.OriginalFilename)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("image file missing: %w", err)
		}
		storageID, err := i.ownedStorage(ctx, creatorID)
		if err != nil {
			return err
		}
		if err := i.gw.UploadImage(ctx, i.opts.UploadHost, path, storageID, projectID); err != nil {
			return fmt.Errorf("upload %s: %w", image.OriginalFilename, err)
		}
		i.log.Debug("image uploaded", zap.String("filename", image.OriginalFilename))
		// The upload endpoint misbehaves under back-to-back
		// submissions; space them out.
		if i.opts.UploadPause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(i.opts.UploadPause):
			}
		}
		return nil
	})
}

// ownedStorage picks the impersonated user's storage, falling back to
// the first one visible.
func (i *Importer) ownedStorage(ctx context.Context, userID int64) (int64, error) {
	storages, err := i.gw.Storages(ctx)
	if err != nil {
		return 0, fmt.Errorf("list storages: %w", err)
	}
	if len(storages) == 0 {
		return 0, errors.New("no storage available on target")
	}
	for _, storage := range storages {
		if storage.User == userID {
			return storage.ID, nil
		}
	}
	return storages[0].ID, nil
}

// adoptImages matches arrived instances back to snapshot images by
// original filename (duplicates pair off in document order), records
// the mappings, and patches instance fields the upload path loses.
func (i *Importer) adoptImages(ctx context.Context, arrived []cytomine.ImageInstance) error {
	queues := make(map[string][]cytomine.ImageInstance)
	for _, image := range i.snap.Images {
		queues[image.OriginalFilename] = append(queues[image.OriginalFilename], image)
	}

	for _, target := range arrived {
		queue := queues[target.OriginalFilename]
		if len(queue) == 0 {
			continue
		}
		origin := queue[0]
		queues[target.OriginalFilename] = queue[1:]
		if err := i.adoptImage(ctx, origin, target); err != nil {
			i.warn("images", imageLabel(origin), err)
		}
	}

	for _, queue := range queues {
		for _, origin := range queue {
			i.warn("images", imageLabel(origin), errors.New("no matching image arrived on target"))
		}
	}
	return nil
}

func (i *Importer) adoptImage(ctx context.Context, origin, target cytomine.ImageInstance) error {
	if err := i.mapID(remap.KindImage, origin.ID, target.ID); err != nil {
		return err
	}
	if origin.BaseImage != 0 && target.BaseImage != 0 {
		// Two snapshot instances backed by the same origin abstract can
		// surface as distinct target abstracts when one was linked and
		// one uploaded; keep the first mapping and journal the rest.
		if err := i.mapID(remap.KindAbstractImage, origin.BaseImage, target.BaseImage); err != nil {
			if !remap.ErrConflict.Has(err) {
				return err
			}
			i.warn("images", imageLabel(origin), err)
		}
	}

	patch := target
	changed := false
	if origin.InstanceFilename != "" && origin.InstanceFilename != target.InstanceFilename {
		patch.InstanceFilename = origin.InstanceFilename
		changed = true
	}
	if origin.Magnification != nil && target.Magnification == nil {
		patch.Magnification = origin.Magnification
		changed = true
	}
	if origin.ReviewUser != nil {
		reviewerID, err := i.table.Get(remap.KindUser, *origin.ReviewUser)
		if err != nil {
			return err
		}
		patch.ReviewUser = &reviewerID
		patch.ReviewStart = origin.ReviewStart
		patch.ReviewStop = origin.ReviewStop
		changed = true
	}
	if i.opts.WithOriginalDates && origin.Created != nil {
		patch.Created = origin.Created
		patch.Updated = origin.Updated
		changed = true
	}
	if changed {
		if err := i.gw.UpdateImageInstance(ctx, &patch); err != nil {
			return fmt.Errorf("patch image instance %d: %w", target.ID, err)
		}
	}

	// Uploads through older IMS builds drop the magnification on the
	// abstract image; backfill it from the snapshot when the target has
	// none.
	if origin.Magnification != nil && target.BaseImage != 0 {
		abstract, err := i.gw.FetchAbstractImage(ctx, target.BaseImage)
		if err != nil {
			return fmt.Errorf("fetch abstract image %d: %w", target.BaseImage, err)
		}
		if abstract.Magnification == nil {
			abstract.Magnification = origin.Magnification
			if err := i.gw.UpdateAbstractImage(ctx, abstract); err != nil {
				return fmt.Errorf("patch abstract image %d: %w", abstract.ID, err)
			}
		}
	}
	return nil
}

func imageLabel(image cytomine.ImageInstance) string {
	return fmt.Sprintf("image %d (%s)", image.ID, image.OriginalFilename)
}
