package submission

import (
	"context"
	"fmt"
	"time"

	"pubformatter/internal/utils"

	"github.com/sirupsen/logrus"
)

// SweepExpired deletes the content of every recorded handle that expired
// before now and was never released. Handles whose owning process went away
// are only reclaimed here.
func SweepExpired(ctx context.Context, lister ExpiredHandleLister, storage Storage, now time.Time, logger *logrus.Logger) (int, error) {
	expired, err := lister.ExpiredHandles(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired handles: %w", err)
	}

	var released int
	for _, submission := range expired {
		handleID := utils.PtrString(submission.HandleID)
		key := utils.PtrString(submission.StorageKey)
		if handleID == "" {
			continue
		}

		entry := logger.WithFields(logrus.Fields{
			"submission_id": submission.ID,
			"handle_id":     handleID,
			"expired_at":    utils.PtrTime(submission.HandleExpiresAt),
		})

		if key != "" {
			if err := storage.Delete(ctx, key); err != nil {
				entry.WithError(err).Error("failed to delete expired handle content")
				continue
			}
		}

		if err := lister.MarkHandleReleased(ctx, handleID); err != nil {
			entry.WithError(err).Error("failed to mark expired handle released")
			continue
		}

		released++
	}

	return released, nil
}
