package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/repository"
)

// fakeStore is an in-memory Store. WithTx snapshots every table and
// restores it when fn fails, mirroring a database rollback.
type fakeStore struct {
	captives    map[uuid.UUID]models.CellCaptive
	keys        map[uuid.UUID]models.APIKey
	policies    map[uuid.UUID]models.Policy
	collections map[uuid.UUID]models.Collection
	recons      map[uuid.UUID]models.Reconciliation
	audits      []models.AuditEntry
	webhookLogs []models.WebhookLog

	policyLocks []string

	auditErr      error
	updateErr     error
	txCount       int
	rollbackCount int
	writes        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		captives:    map[uuid.UUID]models.CellCaptive{},
		keys:        map[uuid.UUID]models.APIKey{},
		policies:    map[uuid.UUID]models.Policy{},
		collections: map[uuid.UUID]models.Collection{},
		recons:      map[uuid.UUID]models.Reconciliation{},
	}
}

type fakeSnapshot struct {
	captives    map[uuid.UUID]models.CellCaptive
	keys        map[uuid.UUID]models.APIKey
	policies    map[uuid.UUID]models.Policy
	collections map[uuid.UUID]models.Collection
	recons      map[uuid.UUID]models.Reconciliation
}

func cloneMap[V any](m map[uuid.UUID]V) map[uuid.UUID]V {
	out := make(map[uuid.UUID]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(q Querier) error) error {
	f.txCount++
	snap := fakeSnapshot{
		captives:    cloneMap(f.captives),
		keys:        cloneMap(f.keys),
		policies:    cloneMap(f.policies),
		collections: cloneMap(f.collections),
		recons:      cloneMap(f.recons),
	}
	if err := fn(f); err != nil {
		f.rollbackCount++
		f.captives, f.keys, f.policies = snap.captives, snap.keys, snap.policies
		f.collections, f.recons = snap.collections, snap.recons
		return err
	}
	return nil
}

// seed helpers

func (f *fakeStore) addCaptive(code string) models.CellCaptive {
	cc := models.CellCaptive{ID: uuid.New(), Name: code + " Cell", Code: code, IsActive: true}
	f.captives[cc.ID] = cc
	return cc
}

func (f *fakeStore) addPolicy(captiveID uuid.UUID, number, premium string) models.Policy {
	amount, err := models.ParseAmount(premium)
	if err != nil {
		panic(err)
	}
	p := models.Policy{
		ID:            uuid.New(),
		PolicyNumber:  number,
		CellCaptiveID: captiveID,
		ClientName:    "Client " + number,
		PremiumAmount: amount,
		Frequency:     models.FrequencyMonthly,
		Status:        models.PolicyActive,
	}
	f.policies[p.ID] = p
	return p
}

func (f *fakeStore) addCollection(p models.Policy, ref string, status models.CollectionStatus, date time.Time) models.Collection {
	c := models.Collection{
		ID:                  uuid.New(),
		CollectionReference: ref,
		PolicyID:            p.ID,
		CellCaptiveID:       p.CellCaptiveID,
		CollectionType:      models.CollectionRecurring,
		Amount:              p.PremiumAmount,
		CollectionDate:      date,
		Status:              status,
		MaxRetries:          2,
	}
	f.collections[c.ID] = c
	return c
}

func (f *fakeStore) collectionByRef(ref string) (models.Collection, bool) {
	for _, c := range f.collections {
		if c.CollectionReference == ref {
			return c, true
		}
	}
	return models.Collection{}, false
}

// captives

func (f *fakeStore) GetCaptive(_ context.Context, id uuid.UUID) (*models.CellCaptive, error) {
	cc, ok := f.captives[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &cc, nil
}

func (f *fakeStore) GetCaptiveByCode(_ context.Context, code string) (*models.CellCaptive, error) {
	for _, cc := range f.captives {
		if cc.Code == code {
			cc := cc
			return &cc, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) GetCaptiveSummary(ctx context.Context, id uuid.UUID) (*models.CaptiveSummary, error) {
	cc, err := f.GetCaptive(ctx, id)
	if err != nil {
		return nil, err
	}
	s := &models.CaptiveSummary{CellCaptive: *cc}
	for _, p := range f.policies {
		if p.CellCaptiveID == id {
			s.PolicyCount++
		}
	}
	return s, nil
}

func (f *fakeStore) ListCaptives(_ context.Context, _ models.CaptiveFilter) ([]*models.CaptiveSummary, int, error) {
	var out []*models.CaptiveSummary
	for _, cc := range f.captives {
		out = append(out, &models.CaptiveSummary{CellCaptive: cc})
	}
	return out, len(out), nil
}

func (f *fakeStore) CreateCaptive(_ context.Context, cc *models.CellCaptive) error {
	for _, existing := range f.captives {
		if existing.Code == cc.Code {
			return repository.ErrConflict
		}
	}
	f.writes++
	cc.ID = uuid.New()
	f.captives[cc.ID] = *cc
	return nil
}

func (f *fakeStore) UpdateCaptive(_ context.Context, cc *models.CellCaptive) error {
	if _, ok := f.captives[cc.ID]; !ok {
		return repository.ErrNotFound
	}
	f.writes++
	f.captives[cc.ID] = *cc
	return nil
}

func (f *fakeStore) CountCaptiveDependents(_ context.Context, id uuid.UUID) (models.CaptiveDependents, error) {
	var d models.CaptiveDependents
	for _, p := range f.policies {
		if p.CellCaptiveID == id {
			d.Policies++
		}
	}
	for _, c := range f.collections {
		if c.CellCaptiveID == id {
			d.Collections++
		}
	}
	for _, k := range f.keys {
		if k.CellCaptiveID == id {
			d.APIKeys++
		}
	}
	return d, nil
}

func (f *fakeStore) DeleteCaptive(_ context.Context, id uuid.UUID) error {
	if _, ok := f.captives[id]; !ok {
		return repository.ErrNotFound
	}
	f.writes++
	delete(f.captives, id)
	return nil
}

// api keys

func (f *fakeStore) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	f.writes++
	k.ID = uuid.New()
	f.keys[k.ID] = *k
	return nil
}

func (f *fakeStore) GetAPIKey(_ context.Context, id uuid.UUID) (*models.APIKey, error) {
	k, ok := f.keys[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &k, nil
}

func (f *fakeStore) ListAPIKeys(_ context.Context, captiveID *uuid.UUID) ([]*models.APIKeyWithCaptive, error) {
	var out []*models.APIKeyWithCaptive
	for _, k := range f.keys {
		if captiveID != nil && k.CellCaptiveID != *captiveID {
			continue
		}
		out = append(out, &models.APIKeyWithCaptive{APIKey: k})
	}
	return out, nil
}

func (f *fakeStore) RevokeAPIKey(_ context.Context, id uuid.UUID) (*models.APIKey, error) {
	k, ok := f.keys[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	f.writes++
	k.IsActive = false
	f.keys[id] = k
	return &k, nil
}

func (f *fakeStore) DeleteAPIKey(_ context.Context, id uuid.UUID) error {
	if _, ok := f.keys[id]; !ok {
		return repository.ErrNotFound
	}
	f.writes++
	delete(f.keys, id)
	return nil
}

// policies

func (f *fakeStore) GetPolicyByNumber(_ context.Context, number string) (*models.Policy, error) {
	for _, p := range f.policies {
		if p.PolicyNumber == number {
			p := p
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) LockTenantPolicy(_ context.Context, captiveID uuid.UUID, number string) (*models.Policy, error) {
	f.policyLocks = append(f.policyLocks, number)
	for _, p := range f.policies {
		if p.PolicyNumber == number && p.CellCaptiveID == captiveID {
			p := p
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) CreatePolicy(_ context.Context, p *models.Policy) error {
	for _, existing := range f.policies {
		if existing.PolicyNumber == p.PolicyNumber {
			return repository.ErrConflict
		}
	}
	f.writes++
	p.ID = uuid.New()
	p.GracePeriodDays = 7
	f.policies[p.ID] = *p
	return nil
}

func (f *fakeStore) UpdatePolicy(_ context.Context, p *models.Policy) error {
	if _, ok := f.policies[p.ID]; !ok {
		return repository.ErrNotFound
	}
	f.writes++
	f.policies[p.ID] = *p
	return nil
}

func (f *fakeStore) ListPolicies(_ context.Context, flt models.PolicyFilter) ([]*models.Policy, int, error) {
	var out []*models.Policy
	for _, p := range f.policies {
		if p.CellCaptiveID != flt.CellCaptiveID {
			continue
		}
		if flt.Status != "" && string(p.Status) != flt.Status {
			continue
		}
		if flt.Search != "" && !strings.Contains(p.PolicyNumber, flt.Search) {
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyNumber < out[j].PolicyNumber })
	return out, len(out), nil
}

// collections

func (f *fakeStore) GetCollectionByReference(_ context.Context, captiveID uuid.UUID, reference string) (*models.Collection, error) {
	for _, c := range f.collections {
		if c.CollectionReference == reference && c.CellCaptiveID == captiveID {
			c := c
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) GetCollection(_ context.Context, id uuid.UUID) (*models.Collection, error) {
	c, ok := f.collections[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (f *fakeStore) GetCollectionForPolicyDate(_ context.Context, policyID uuid.UUID, date time.Time) (*models.Collection, error) {
	want := date.Format(models.DateLayout)
	for _, c := range f.collections {
		if c.PolicyID == policyID && c.CollectionDate.Format(models.DateLayout) == want {
			c := c
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) CreateCollection(_ context.Context, c *models.Collection) error {
	if _, exists := f.collectionByRef(c.CollectionReference); exists {
		return repository.ErrConflict
	}
	f.writes++
	c.ID = uuid.New()
	c.MaxRetries = 2
	f.collections[c.ID] = *c
	return nil
}

func (f *fakeStore) UpdateCollection(_ context.Context, c *models.Collection) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	stored, ok := f.collections[c.ID]
	if !ok {
		return repository.ErrNotFound
	}
	f.writes++
	if stored.ProcessedAt != nil {
		c.ProcessedAt = stored.ProcessedAt
	}
	f.collections[c.ID] = *c
	return nil
}

func (f *fakeStore) ListCollections(_ context.Context, flt models.CollectionFilter) ([]*models.CollectionView, int, error) {
	var out []*models.CollectionView
	for _, c := range f.collections {
		if flt.CellCaptiveID != nil && c.CellCaptiveID != *flt.CellCaptiveID {
			continue
		}
		if flt.Status != "" && string(c.Status) != flt.Status {
			continue
		}
		out = append(out, &models.CollectionView{Collection: c})
	}
	return out, len(out), nil
}

// reconciliation

func (f *fakeStore) UpsertReconciliation(_ context.Context, r *models.Reconciliation) error {
	f.writes++
	if existing, ok := f.recons[r.CollectionID]; ok {
		r.ID = existing.ID
		if r.BankReference == nil {
			r.BankReference = existing.BankReference
		}
	} else {
		r.ID = uuid.New()
	}
	f.recons[r.CollectionID] = *r
	return nil
}

func (f *fakeStore) ListReconciliations(_ context.Context, _ models.ReconciliationFilter) ([]*models.ReconciliationView, int, error) {
	var out []*models.ReconciliationView
	for _, r := range f.recons {
		out = append(out, &models.ReconciliationView{Reconciliation: r})
	}
	return out, len(out), nil
}

// logs

func (f *fakeStore) InsertAudit(_ context.Context, e *models.AuditEntry) error {
	if f.auditErr != nil {
		return f.auditErr
	}
	e.ID = uuid.New()
	f.audits = append(f.audits, *e)
	return nil
}

func (f *fakeStore) InsertWebhookLog(_ context.Context, l *models.WebhookLog) error {
	if f.auditErr != nil {
		return f.auditErr
	}
	l.ID = uuid.New()
	f.webhookLogs = append(f.webhookLogs, *l)
	return nil
}

func (f *fakeStore) ListWebhookLogs(_ context.Context, flt models.WebhookLogFilter) ([]*models.WebhookLog, int, error) {
	var out []*models.WebhookLog
	for i := range f.webhookLogs {
		l := f.webhookLogs[i]
		if l.CellCaptiveID == nil || *l.CellCaptiveID != flt.CellCaptiveID {
			continue
		}
		out = append(out, &l)
	}
	return out, len(out), nil
}

// stats

func (f *fakeStore) CollectionStats(_ context.Context, flt models.CollectionStatsFilter) (*models.CollectionStats, error) {
	s := &models.CollectionStats{}
	for _, c := range f.collections {
		if flt.CellCaptiveID != nil && c.CellCaptiveID != *flt.CellCaptiveID {
			continue
		}
		if flt.DateFrom != nil && c.CollectionDate.Before(*flt.DateFrom) {
			continue
		}
		if flt.DateTo != nil && c.CollectionDate.After(*flt.DateTo) {
			continue
		}
		s.Total++
		switch c.CollectionType {
		case models.CollectionRecurring:
			s.Recurring++
		case models.CollectionAdhoc:
			s.Adhoc++
		}
		switch c.Status {
		case models.StatusSuccessful:
			s.Successful++
		case models.StatusFailed:
			s.Failed++
		case models.StatusPending:
			s.Pending++
		}
	}
	return s, nil
}

func (f *fakeStore) PolicyStats(_ context.Context, captiveID uuid.UUID) (*models.PolicyStats, error) {
	s := &models.PolicyStats{}
	for _, p := range f.policies {
		if p.CellCaptiveID == captiveID {
			s.Total++
		}
	}
	return s, nil
}

func (f *fakeStore) MonthlyTrend(context.Context, uuid.UUID) ([]models.MonthlyTrend, error) {
	return nil, nil
}

var errDatabaseDown = errors.New("connection reset by peer")

type publishedEvent struct {
	eventType string
	payload   interface{}
	channel   string
}

type recordingPublisher struct {
	events []publishedEvent
}

func (p *recordingPublisher) Publish(eventType string, payload interface{}, channel string) {
	p.events = append(p.events, publishedEvent{eventType, payload, channel})
}
