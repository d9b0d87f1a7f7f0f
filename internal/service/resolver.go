package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/repository"
)

// CollectionResolver maps webhook identifiers onto a collection row.
type CollectionResolver struct {
	now func() time.Time
}

func NewCollectionResolver() *CollectionResolver {
	return &CollectionResolver{now: time.Now}
}

// ResolveExisting finds a collection by reference within one tenant.
func (r *CollectionResolver) ResolveExisting(ctx context.Context, q Querier, captiveID uuid.UUID, reference string) (*models.Collection, error) {
	c, err := q.GetCollectionByReference(ctx, captiveID, reference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodeCollectionNotFound,
				fmt.Sprintf("Collection %s not found", reference))
		}
		return nil, err
	}
	return c, nil
}

// ResolveOrCreate finds the collection on a tenant's policy for date
// (today, UTC, when nil). When none exists an adhoc collection is inserted
// carrying initial. The bool reports whether a row was created.
//
// q must be transactional: the policy row stays locked until commit, so two
// concurrent calls for the same policy and date yield one collection.
func (r *CollectionResolver) ResolveOrCreate(ctx context.Context, q Querier, captiveID uuid.UUID, policyNumber string, date *time.Time, initial models.CollectionPatch) (*models.Collection, bool, error) {
	policy, err := lockTenantPolicy(ctx, q, captiveID, policyNumber)
	if err != nil {
		return nil, false, err
	}

	day := r.today()
	if date != nil {
		day = *date
	}

	c, err := q.GetCollectionForPolicyDate(ctx, policy.ID, day)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	c, err = r.newAdhoc(policy, day, initial)
	if err != nil {
		return nil, false, err
	}
	if err := q.CreateCollection(ctx, c); err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (r *CollectionResolver) newAdhoc(policy *models.Policy, day time.Time, initial models.CollectionPatch) (*models.Collection, error) {
	ref, err := newCollectionReference(r.now())
	if err != nil {
		return nil, err
	}
	c := &models.Collection{
		CollectionReference: ref,
		PolicyID:            policy.ID,
		CellCaptiveID:       policy.CellCaptiveID,
		CollectionType:      models.CollectionAdhoc,
		Amount:              policy.PremiumAmount,
		CollectionDate:      day,
		Status:              models.StatusPending,
	}
	initial.Apply(c, r.now())
	return c, nil
}

func (r *CollectionResolver) today() time.Time {
	y, m, d := r.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// lockTenantPolicy fetches and locks a tenant's policy. Policies of other
// tenants hide behind the same 404.
func lockTenantPolicy(ctx context.Context, q Querier, captiveID uuid.UUID, number string) (*models.Policy, error) {
	p, err := q.LockTenantPolicy(ctx, captiveID, number)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodePolicyNotFound, fmt.Sprintf("Policy %s not found", number))
		}
		return nil, err
	}
	return p, nil
}

// newCollectionReference returns COL_<unix-ms>_<8 hex>.
func newCollectionReference(now time.Time) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate collection reference: %w", err)
	}
	return fmt.Sprintf("COL_%d_%s", now.UnixMilli(), hex.EncodeToString(b)), nil
}
