package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/logger"
	"github.com/premiumcollect/premiumcollect/internal/metrics"
	"github.com/premiumcollect/premiumcollect/internal/models"
)

var errBatchRejected = errors.New("batch rejected")

// BulkUpdate applies up to maxBatch items atomically. Item-level business
// failures are collected with their index and the loop keeps going so the
// caller sees every bad row; any failure rolls the whole batch back. A
// database error aborts at once.
//
// On rollback the returned result is non-nil alongside a BATCH_ROLLED_BACK
// error.
func (s *CollectionUpdateService) BulkUpdate(ctx context.Context, captiveID uuid.UUID, items []models.CollectionUpdateRequest, meta models.RequestMeta) (*models.BulkResult, error) {
	if len(items) == 0 {
		return nil, apperr.BadRequest(apperr.CodeInvalidCollections, "collections must be a non-empty array")
	}
	if len(items) > s.maxBatch {
		return nil, apperr.BadRequest(apperr.CodeBatchSizeExceeded,
			fmt.Sprintf("A batch may contain at most %d collections", s.maxBatch))
	}

	var (
		applied  []*appliedUpdate
		itemErrs []models.BulkItemError
	)
	err := s.store.WithTx(ctx, func(q Querier) error {
		for i, item := range items {
			a, err := s.applyItem(ctx, q, captiveID, item)
			if err != nil {
				ae, ok := apperr.As(err)
				if !ok || ae.Status >= 500 {
					return err
				}
				itemErrs = append(itemErrs, models.BulkItemError{
					Index:      i,
					Identifier: item.Identifier(),
					Code:       ae.Code,
					Message:    ae.Message,
				})
				continue
			}
			applied = append(applied, a)
		}
		if len(itemErrs) > 0 {
			return errBatchRejected
		}
		return nil
	})

	log := logger.FromContext(ctx)
	switch {
	case errors.Is(err, errBatchRejected):
		metrics.BulkBatches.WithLabelValues("rolled_back").Inc()
		log.Warn("bulk update rolled back",
			zap.Int("items", len(items)), zap.Int("failed", len(itemErrs)))
		res := &models.BulkResult{
			Committed: false,
			Processed: 0,
			Failed:    len(itemErrs),
			Results:   []*models.UpdateResult{},
			Errors:    itemErrs,
		}
		return res, apperr.Unprocessable(apperr.CodeBatchRolledBack,
			fmt.Sprintf("%d of %d collections failed; no changes were applied", len(itemErrs), len(items)))
	case err != nil:
		metrics.BulkBatches.WithLabelValues("failed").Inc()
		log.Error("bulk update failed", zap.Int("items", len(items)), zap.Error(err))
		return nil, apperr.Internal(apperr.CodeBulkUpdateFailed, err)
	}

	metrics.BulkBatches.WithLabelValues("committed").Inc()
	res := &models.BulkResult{
		Committed: true,
		Processed: len(applied),
		Failed:    0,
		Results:   make([]*models.UpdateResult, 0, len(applied)),
		Errors:    []models.BulkItemError{},
	}
	for _, a := range applied {
		s.committed(ctx, a, meta, SourceWebhook)
		res.Results = append(res.Results, a.result)
	}
	return res, nil
}

func (s *CollectionUpdateService) applyItem(ctx context.Context, q Querier, captiveID uuid.UUID, item models.CollectionUpdateRequest) (*appliedUpdate, error) {
	v, err := validateUpdate(item)
	if err != nil {
		return nil, err
	}
	return s.applyOne(ctx, q, captiveID, v)
}

// AnnounceBulk broadcasts the batch outcome as counts only.
func (s *CollectionUpdateService) AnnounceBulk(captiveID uuid.UUID, res *models.BulkResult) {
	if res == nil {
		return
	}
	s.publisher.Publish(EventCollectionsBulkUpdated, map[string]interface{}{
		"cell_captive_id": captiveID,
		"committed":       res.Committed,
		"processed":       res.Processed,
		"failed":          res.Failed,
	}, ChannelCollections)
}
