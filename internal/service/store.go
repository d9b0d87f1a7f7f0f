package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/repository"
)

// Querier is every statement the services run. *repository.Queries
// satisfies it for both the pool and a transaction.
type Querier interface {
	GetCaptive(ctx context.Context, id uuid.UUID) (*models.CellCaptive, error)
	GetCaptiveByCode(ctx context.Context, code string) (*models.CellCaptive, error)
	GetCaptiveSummary(ctx context.Context, id uuid.UUID) (*models.CaptiveSummary, error)
	ListCaptives(ctx context.Context, f models.CaptiveFilter) ([]*models.CaptiveSummary, int, error)
	CreateCaptive(ctx context.Context, cc *models.CellCaptive) error
	UpdateCaptive(ctx context.Context, cc *models.CellCaptive) error
	CountCaptiveDependents(ctx context.Context, id uuid.UUID) (models.CaptiveDependents, error)
	DeleteCaptive(ctx context.Context, id uuid.UUID) error

	CreateAPIKey(ctx context.Context, k *models.APIKey) error
	GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, captiveID *uuid.UUID) ([]*models.APIKeyWithCaptive, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error

	GetPolicyByNumber(ctx context.Context, number string) (*models.Policy, error)
	LockTenantPolicy(ctx context.Context, captiveID uuid.UUID, number string) (*models.Policy, error)
	CreatePolicy(ctx context.Context, p *models.Policy) error
	UpdatePolicy(ctx context.Context, p *models.Policy) error
	ListPolicies(ctx context.Context, f models.PolicyFilter) ([]*models.Policy, int, error)

	GetCollectionByReference(ctx context.Context, captiveID uuid.UUID, reference string) (*models.Collection, error)
	GetCollection(ctx context.Context, id uuid.UUID) (*models.Collection, error)
	GetCollectionForPolicyDate(ctx context.Context, policyID uuid.UUID, date time.Time) (*models.Collection, error)
	CreateCollection(ctx context.Context, c *models.Collection) error
	UpdateCollection(ctx context.Context, c *models.Collection) error
	ListCollections(ctx context.Context, f models.CollectionFilter) ([]*models.CollectionView, int, error)

	UpsertReconciliation(ctx context.Context, r *models.Reconciliation) error
	ListReconciliations(ctx context.Context, f models.ReconciliationFilter) ([]*models.ReconciliationView, int, error)

	InsertAudit(ctx context.Context, e *models.AuditEntry) error
	InsertWebhookLog(ctx context.Context, l *models.WebhookLog) error
	ListWebhookLogs(ctx context.Context, f models.WebhookLogFilter) ([]*models.WebhookLog, int, error)

	CollectionStats(ctx context.Context, f models.CollectionStatsFilter) (*models.CollectionStats, error)
	PolicyStats(ctx context.Context, captiveID uuid.UUID) (*models.PolicyStats, error)
	MonthlyTrend(ctx context.Context, captiveID uuid.UUID) ([]models.MonthlyTrend, error)
}

// Store is a Querier that can also open a transaction.
type Store interface {
	Querier
	WithTx(ctx context.Context, fn func(q Querier) error) error
}

// Publisher fans events out to live sessions. Implementations never block.
type Publisher interface {
	Publish(eventType string, payload interface{}, channel string)
}

type sqlStore struct {
	*repository.Store
}

// NewStore adapts the SQL store to the service interfaces.
func NewStore(s *repository.Store) Store {
	return sqlStore{Store: s}
}

func (s sqlStore) WithTx(ctx context.Context, fn func(q Querier) error) error {
	return s.Store.WithTx(ctx, func(q *repository.Queries) error {
		return fn(q)
	})
}

// Live event types and channels.
const (
	EventCollectionUpdated       = "collection_updated"
	EventCollectionsBulkUpdated  = "collections_bulk_updated"
	EventCollectionStatusUpdated = "collection_status_updated"
	EventCollectionCreated       = "collection_created"
	EventPolicyUpdated           = "policy_updated"
	EventCaptiveChanged          = "cell_captive_changed"

	ChannelCollections = "collections"
	ChannelPolicies    = "policies"
	ChannelCaptives    = "cell_captives"
)

type nopPublisher struct{}

func (nopPublisher) Publish(string, interface{}, string) {}
