package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/auth"
	"github.com/premiumcollect/premiumcollect/internal/models"
)

type fixture struct {
	store    *fakeStore
	pub      *recordingPublisher
	updates  *CollectionUpdateService
	policies *PolicyService
	captives *CaptiveService
	keys     *APIKeyManagementService
	queries  *CollectionQueryService
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newFakeStore()
	f := &fixture{
		store: st,
		pub:   &recordingPublisher{},
		clock: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }

	resolver := NewCollectionResolver()
	resolver.now = now
	audit := NewAuditService(st)

	f.updates = NewCollectionUpdateService(st, resolver, audit, f.pub, 3)
	f.updates.now = now
	f.policies = NewPolicyService(st, audit, f.pub)
	f.captives = NewCaptiveService(st, audit, f.pub)
	f.keys = NewAPIKeyManagementService(st, audit, "ak_live_")
	f.keys.now = now
	f.queries = NewCollectionQueryService(st, resolver, audit, f.pub)
	return f
}

func strp(s string) *string { return &s }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func requireCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %T: %v", err, err)
	assert.Equal(t, status, ae.Status)
	assert.Equal(t, code, ae.Code)
}

var meta = models.RequestMeta{IPAddress: "10.0.0.1", UserAgent: "pas/1.0"}

func TestUpdate_PolicyNumberCreatesReconciledAdhocCollection(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-001", "450.00")

	res, err := f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
		PolicyNumber:      "POL-ALPHA-001",
		Status:            strp("successful"),
		InvestecReference: strp("INV-20260301-1"),
		BankReference:     strp("BANK-1"),
	}, meta, SourceWebhook)
	require.NoError(t, err)

	assert.True(t, res.Created)
	c := res.Collection
	assert.Equal(t, policy.ID, c.PolicyID)
	assert.Equal(t, models.CollectionAdhoc, c.CollectionType)
	assert.Equal(t, models.StatusSuccessful, c.Status)
	assert.Equal(t, "450.00", c.Amount.StringFixed(2))
	assert.Equal(t, day(2026, 3, 1), c.CollectionDate)
	require.NotNil(t, c.ProcessedAt)
	assert.Equal(t, f.clock, *c.ProcessedAt)
	assert.Regexp(t, `^COL_\d+_[0-9a-f]{8}$`, c.CollectionReference)

	require.Len(t, f.store.recons, 1)
	rec := f.store.recons[c.ID]
	assert.Equal(t, models.ReconMatched, rec.Status)
	assert.Equal(t, "INV-20260301-1", *rec.InvestecReference)
	require.NotNil(t, rec.BankReference)
	assert.Equal(t, "BANK-1", *rec.BankReference)
	assert.Equal(t, []string{"POL-ALPHA-001"}, f.store.policyLocks)
	assert.Equal(t, "450.00", rec.Amount.StringFixed(2))
	require.NotNil(t, res.Reconciliation)

	require.Len(t, f.store.audits, 1)
	assert.Equal(t, models.AuditInsert, f.store.audits[0].Action)
	assert.Equal(t, "collections", f.store.audits[0].TableName)
	assert.Nil(t, f.store.audits[0].ChangedBy)

	// the broadcast is the caller's job, after its webhook log
	assert.Empty(t, f.pub.events)
	f.updates.AnnounceUpdate(res)
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, EventCollectionUpdated, f.pub.events[0].eventType)
	assert.Equal(t, ChannelCollections, f.pub.events[0].channel)
}

func TestUpdate_PolicyNumberReusesCollectionForDate(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-002", "120.00")
	existing := f.store.addCollection(policy, "COL_SEEDED_1", models.StatusSubmitted, day(2026, 2, 1))

	res, err := f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
		PolicyNumber:   "POL-ALPHA-002",
		CollectionDate: "2026-02-01",
		Status:         strp("failed"),
		FailureReason:  strp("insufficient funds"),
	}, meta, SourceWebhook)
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, existing.ID, res.Collection.ID)
	assert.Len(t, f.store.collections, 1)
	assert.Equal(t, models.AuditUpdate, f.store.audits[0].Action)
	assert.Equal(t, "submitted", f.store.audits[0].OldValues["status"])
	assert.Empty(t, f.store.recons)
}

func TestUpdate_OtherTenantsRowsAreInvisible(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	beta := f.store.addCaptive("BETA002")
	betaPolicy := f.store.addPolicy(beta.ID, "POL-BETA-001", "99.00")
	f.store.addCollection(betaPolicy, "COL_BETA_1", models.StatusPending, day(2026, 3, 1))

	_, err := f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
		CollectionReference: "COL_BETA_1",
		Status:              strp("failed"),
	}, meta, SourceWebhook)
	requireCode(t, err, http.StatusNotFound, apperr.CodeCollectionNotFound)

	_, err = f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
		PolicyNumber: "POL-BETA-001",
		Status:       strp("failed"),
	}, meta, SourceWebhook)
	requireCode(t, err, http.StatusNotFound, apperr.CodePolicyNotFound)

	c, _ := f.store.collectionByRef("COL_BETA_1")
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Len(t, f.store.collections, 1)
}

func TestUpdate_ValidationOrder(t *testing.T) {
	cases := []struct {
		name string
		req  models.CollectionUpdateRequest
		code string
	}{
		{
			name: "identifier checked first",
			req:  models.CollectionUpdateRequest{Status: strp("bogus"), Amount: json.RawMessage(`-1`)},
			code: apperr.CodeMissingIdentifier,
		},
		{
			name: "status before amount",
			req:  models.CollectionUpdateRequest{CollectionReference: "COL_1", Status: strp("bogus"), Amount: json.RawMessage(`-1`)},
			code: apperr.CodeInvalidStatus,
		},
		{
			name: "amount before dates",
			req:  models.CollectionUpdateRequest{CollectionReference: "COL_1", Amount: json.RawMessage(`"abc"`), TransactionDate: "yesterday"},
			code: apperr.CodeInvalidAmount,
		},
		{
			name: "three decimals rejected",
			req:  models.CollectionUpdateRequest{CollectionReference: "COL_1", Amount: json.RawMessage(`10.123`)},
			code: apperr.CodeInvalidAmount,
		},
		{
			name: "bad transaction date",
			req:  models.CollectionUpdateRequest{CollectionReference: "COL_1", Status: strp("failed"), TransactionDate: "01/03/2026"},
			code: apperr.CodeInvalidDate,
		},
		{
			name: "bank reference alone is not an update",
			req:  models.CollectionUpdateRequest{CollectionReference: "COL_1", BankReference: strp("BNK-1")},
			code: apperr.CodeNoUpdateFields,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.updates.Update(context.Background(), uuid.New(), tc.req, meta, SourceWebhook)
			requireCode(t, err, http.StatusBadRequest, tc.code)
			assert.Zero(t, f.store.txCount, "validation must fail before any transaction")
			assert.Zero(t, f.store.writes)
		})
	}
}

func TestUpdate_AmountAcceptsNumericString(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-003", "100.00")
	f.store.addCollection(policy, "COL_AMT", models.StatusPending, day(2026, 3, 1))

	res, err := f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
		CollectionReference: "COL_AMT",
		Amount:              json.RawMessage(`"125.5"`),
	}, meta, SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, "125.50", res.Collection.Amount.StringFixed(2))
	assert.Nil(t, res.Collection.ProcessedAt)
}

func TestUpdate_AmountAboveColumnRangeIsRejected(t *testing.T) {
	for _, raw := range []string{`10000000000`, `1e15`, `"99999999999999.99"`} {
		t.Run(raw, func(t *testing.T) {
			f := newFixture(t)
			alpha := f.store.addCaptive("ALPHA001")
			policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-004", "100.00")
			f.store.addCollection(policy, "COL_BIG", models.StatusPending, day(2026, 3, 1))

			_, err := f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
				CollectionReference: "COL_BIG",
				Amount:              json.RawMessage(raw),
			}, meta, SourceWebhook)
			requireCode(t, err, http.StatusBadRequest, apperr.CodeInvalidAmount)
			assert.Zero(t, f.store.writes)
		})
	}

	t.Run("largest column value is accepted", func(t *testing.T) {
		f := newFixture(t)
		alpha := f.store.addCaptive("ALPHA001")
		policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-004", "100.00")
		f.store.addCollection(policy, "COL_MAX", models.StatusPending, day(2026, 3, 1))

		res, err := f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
			CollectionReference: "COL_MAX",
			Amount:              json.RawMessage(`9999999999.99`),
		}, meta, SourceWebhook)
		require.NoError(t, err)
		assert.Equal(t, "9999999999.99", res.Collection.Amount.StringFixed(2))
	})
}

func TestUpdate_BankReferenceAloneReconciles(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-005", "210.00")
	c := f.store.addCollection(policy, "COL_BANK", models.StatusSubmitted, day(2026, 2, 20))

	res, err := f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
		CollectionReference: "COL_BANK",
		Status:              strp("successful"),
		BankReference:       strp("BANK-77"),
	}, meta, SourceWebhook)
	require.NoError(t, err)

	require.NotNil(t, res.Reconciliation)
	rec, ok := f.store.recons[c.ID]
	require.True(t, ok)
	assert.Equal(t, models.ReconMatched, rec.Status)
	require.NotNil(t, rec.BankReference)
	assert.Equal(t, "BANK-77", *rec.BankReference)
	assert.Nil(t, rec.InvestecReference)
	assert.Equal(t, "210.00", rec.Amount.StringFixed(2))
	require.NotNil(t, rec.TransactionDate)
	assert.Equal(t, day(2026, 2, 20), *rec.TransactionDate)
}

func TestUpdate_CreateAfterPolicyLockSeesExistingRow(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	f.store.addPolicy(alpha.ID, "POL-ALPHA-006", "90.00")

	req := models.CollectionUpdateRequest{PolicyNumber: "POL-ALPHA-006", Status: strp("submitted")}
	first, err := f.updates.Update(context.Background(), alpha.ID, req, meta, SourceWebhook)
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := f.updates.Update(context.Background(), alpha.ID, req, meta, SourceWebhook)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Collection.ID, second.Collection.ID)
	assert.Len(t, f.store.collections, 1)
	assert.Equal(t, []string{"POL-ALPHA-006", "POL-ALPHA-006"}, f.store.policyLocks)
}

func TestUpdate_ProcessedAtIsSetOnce(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-004", "80.00")
	col := f.store.addCollection(policy, "COL_ONCE", models.StatusSubmitted, day(2026, 3, 1))
	first := f.clock

	_, err := f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
		CollectionReference: "COL_ONCE",
		Status:              strp("failed"),
		FailureReason:       strp("account closed"),
	}, meta, SourceWebhook)
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Hour)
	res, err := f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
		CollectionReference: "COL_ONCE",
		Status:              strp("failed"),
		FailureReason:       strp("account closed by holder"),
	}, meta, SourceWebhook)
	require.NoError(t, err)

	stored := f.store.collections[col.ID]
	require.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, first, *stored.ProcessedAt)
	assert.Equal(t, first, *res.Collection.ProcessedAt)
	assert.Equal(t, "account closed by holder", *stored.FailureReason)
}

func TestUpdate_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-005", "300.00")
	col := f.store.addCollection(policy, "COL_REPLAY", models.StatusSubmitted, day(2026, 3, 1))

	req := models.CollectionUpdateRequest{
		CollectionReference: "COL_REPLAY",
		Status:              strp("successful"),
		InvestecReference:   strp("INV-9"),
	}
	_, err := f.updates.Update(context.Background(), alpha.ID, req, meta, SourceWebhook)
	require.NoError(t, err)
	afterFirst := f.store.collections[col.ID]

	f.clock = f.clock.Add(time.Minute)
	_, err = f.updates.Update(context.Background(), alpha.ID, req, meta, SourceWebhook)
	require.NoError(t, err)

	assert.Equal(t, afterFirst, f.store.collections[col.ID])
	assert.Len(t, f.store.recons, 1)
}

func TestUpdate_SuccessfulCannotRegress(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-006", "300.00")
	col := f.store.addCollection(policy, "COL_DONE", models.StatusSuccessful, day(2026, 3, 1))
	processed := f.clock.Add(-24 * time.Hour)
	col.ProcessedAt = &processed
	f.store.collections[col.ID] = col

	_, err := f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
		CollectionReference: "COL_DONE",
		Status:              strp("failed"),
		FailureReason:       strp("reversed"),
	}, meta, SourceWebhook)
	requireCode(t, err, http.StatusConflict, apperr.CodeInvalidTransition)

	assert.Equal(t, col, f.store.collections[col.ID])
	assert.Empty(t, f.store.audits)
	assert.Equal(t, 1, f.store.rollbackCount)
}

func TestUpdate_AuditFailureDoesNotFailCaller(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-007", "300.00")
	f.store.addCollection(policy, "COL_AUDIT", models.StatusPending, day(2026, 3, 1))
	f.store.auditErr = errors.New("audit_trail: disk full")

	res, err := f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
		CollectionReference: "COL_AUDIT",
		Status:              strp("submitted"),
	}, meta, SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, res.Collection.Status)
	assert.Empty(t, f.store.audits)
}

func TestUpdate_DatabaseErrorIsInternal(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-008", "300.00")
	f.store.addCollection(policy, "COL_DB", models.StatusPending, day(2026, 3, 1))
	f.store.updateErr = errDatabaseDown

	_, err := f.updates.Update(context.Background(), alpha.ID, models.CollectionUpdateRequest{
		CollectionReference: "COL_DB",
		Status:              strp("submitted"),
	}, meta, SourceWebhook)
	requireCode(t, err, http.StatusInternalServerError, apperr.CodeUpdateFailed)
	assert.ErrorIs(t, err, errDatabaseDown)
}

func TestUpdateByReference_NeverCreates(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	f.store.addPolicy(alpha.ID, "POL-ALPHA-009", "300.00")

	_, err := f.updates.UpdateByReference(context.Background(), alpha.ID, "COL_MISSING", models.CollectionUpdateRequest{
		PolicyNumber: "POL-ALPHA-009",
		Status:       strp("failed"),
	}, meta)
	requireCode(t, err, http.StatusNotFound, apperr.CodeCollectionNotFound)
	assert.Empty(t, f.store.collections)
}

func TestUpdateStatus_StaffChangeIsAnnounced(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-010", "300.00")
	col := f.store.addCollection(policy, "COL_STAFF", models.StatusPending, day(2026, 3, 1))
	staff := uuid.New()

	updated, err := f.updates.UpdateStatus(context.Background(), col.ID, "cancelled", nil, models.RequestMeta{UserID: &staff})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, updated.Status)
	assert.Nil(t, updated.ProcessedAt)

	require.Len(t, f.store.audits, 1)
	assert.Equal(t, &staff, f.store.audits[0].ChangedBy)
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, EventCollectionStatusUpdated, f.pub.events[0].eventType)

	_, err = f.updates.UpdateStatus(context.Background(), col.ID, "done", nil, meta)
	requireCode(t, err, http.StatusBadRequest, apperr.CodeInvalidStatus)

	_, err = f.updates.UpdateStatus(context.Background(), uuid.New(), "failed", nil, meta)
	requireCode(t, err, http.StatusNotFound, apperr.CodeCollectionNotFound)
}

func TestBulkUpdate_OneBadItemRollsBackTheBatch(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-011", "300.00")
	c0 := f.store.addCollection(policy, "COL_B0", models.StatusSubmitted, day(2026, 3, 1))
	c2 := f.store.addCollection(policy, "COL_B2", models.StatusSubmitted, day(2026, 3, 2))

	res, err := f.updates.BulkUpdate(context.Background(), alpha.ID, []models.CollectionUpdateRequest{
		{CollectionReference: "COL_B0", Status: strp("successful"), InvestecReference: strp("INV-B0")},
		{CollectionReference: "COL_MISSING", Status: strp("successful")},
		{CollectionReference: "COL_B2", Status: strp("failed")},
	}, meta)
	requireCode(t, err, http.StatusUnprocessableEntity, apperr.CodeBatchRolledBack)

	require.NotNil(t, res)
	assert.False(t, res.Committed)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, res.Results)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, "COL_MISSING", res.Errors[0].Identifier)
	assert.Equal(t, apperr.CodeCollectionNotFound, res.Errors[0].Code)

	assert.Equal(t, c0, f.store.collections[c0.ID])
	assert.Equal(t, c2, f.store.collections[c2.ID])
	assert.Empty(t, f.store.recons)
	assert.Empty(t, f.store.audits)
}

func TestBulkUpdate_CollectsEveryItemError(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")

	res, err := f.updates.BulkUpdate(context.Background(), alpha.ID, []models.CollectionUpdateRequest{
		{Status: strp("failed")},
		{CollectionReference: "COL_X", Status: strp("nope")},
		{CollectionReference: "COL_Y", BankReference: strp("B")},
	}, meta)
	requireCode(t, err, http.StatusUnprocessableEntity, apperr.CodeBatchRolledBack)

	require.Len(t, res.Errors, 3)
	assert.Equal(t, apperr.CodeMissingIdentifier, res.Errors[0].Code)
	assert.Equal(t, apperr.CodeInvalidStatus, res.Errors[1].Code)
	assert.Equal(t, apperr.CodeNoUpdateFields, res.Errors[2].Code)
}

func TestBulkUpdate_OversizedAmountIsAnItemError(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-014", "300.00")
	c0 := f.store.addCollection(policy, "COL_E0", models.StatusSubmitted, day(2026, 3, 1))

	res, err := f.updates.BulkUpdate(context.Background(), alpha.ID, []models.CollectionUpdateRequest{
		{CollectionReference: "COL_E0", Status: strp("successful"), InvestecReference: strp("INV-E0")},
		{CollectionReference: "COL_E0", Amount: json.RawMessage(`10000000000`)},
	}, meta)
	requireCode(t, err, http.StatusUnprocessableEntity, apperr.CodeBatchRolledBack)

	require.NotNil(t, res)
	assert.False(t, res.Committed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, apperr.CodeInvalidAmount, res.Errors[0].Code)
	assert.Equal(t, c0, f.store.collections[c0.ID])
	assert.Empty(t, f.store.recons)
}

func TestBulkUpdate_CommitsAllItems(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-012", "300.00")
	f.store.addCollection(policy, "COL_C0", models.StatusSubmitted, day(2026, 3, 1))
	f.store.addCollection(policy, "COL_C1", models.StatusSubmitted, day(2026, 3, 2))

	res, err := f.updates.BulkUpdate(context.Background(), alpha.ID, []models.CollectionUpdateRequest{
		{CollectionReference: "COL_C0", Status: strp("successful"), InvestecReference: strp("INV-C0")},
		{CollectionReference: "COL_C1", Status: strp("failed"), FailureReason: strp("stopped")},
		{PolicyNumber: "POL-ALPHA-012", CollectionDate: "2026-03-05", Status: strp("submitted")},
	}, meta)
	require.NoError(t, err)

	assert.True(t, res.Committed)
	assert.Equal(t, 3, res.Processed)
	assert.Zero(t, res.Failed)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Results, 3)
	assert.True(t, res.Results[2].Created)
	assert.Len(t, f.store.collections, 3)
	assert.Len(t, f.store.recons, 1)
	assert.Len(t, f.store.audits, 3)

	f.updates.AnnounceBulk(alpha.ID, res)
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, EventCollectionsBulkUpdated, f.pub.events[0].eventType)
}

func TestBulkUpdate_BatchShape(t *testing.T) {
	f := newFixture(t)

	_, err := f.updates.BulkUpdate(context.Background(), uuid.New(), nil, meta)
	requireCode(t, err, http.StatusBadRequest, apperr.CodeInvalidCollections)

	items := make([]models.CollectionUpdateRequest, 4)
	_, err = f.updates.BulkUpdate(context.Background(), uuid.New(), items, meta)
	requireCode(t, err, http.StatusBadRequest, apperr.CodeBatchSizeExceeded)
	assert.Zero(t, f.store.txCount)
}

func TestBulkUpdate_DatabaseErrorAborts(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	policy := f.store.addPolicy(alpha.ID, "POL-ALPHA-013", "300.00")
	f.store.addCollection(policy, "COL_D0", models.StatusSubmitted, day(2026, 3, 1))
	f.store.updateErr = errDatabaseDown

	res, err := f.updates.BulkUpdate(context.Background(), alpha.ID, []models.CollectionUpdateRequest{
		{CollectionReference: "COL_D0", Status: strp("failed")},
	}, meta)
	assert.Nil(t, res)
	requireCode(t, err, http.StatusInternalServerError, apperr.CodeBulkUpdateFailed)
}

func TestPolicyUpsert(t *testing.T) {
	t.Run("creates with defaults", func(t *testing.T) {
		f := newFixture(t)
		alpha := f.store.addCaptive("ALPHA001")

		res, err := f.policies.Upsert(context.Background(), alpha.ID, models.PolicyUpsertRequest{
			PolicyNumber:  " POL-NEW-1 ",
			ClientName:    strp("  Thandi Nkosi "),
			PremiumAmount: json.RawMessage(`250.5`),
		}, meta)
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, "POL-NEW-1", res.Policy.PolicyNumber)
		assert.Equal(t, "Thandi Nkosi", res.Policy.ClientName)
		assert.Equal(t, models.FrequencyMonthly, res.Policy.Frequency)
		assert.Equal(t, models.PolicyActive, res.Policy.Status)
		assert.Equal(t, "250.50", res.Policy.PremiumAmount.StringFixed(2))
		require.Len(t, f.store.audits, 1)
		assert.Equal(t, models.AuditInsert, f.store.audits[0].Action)

		f.policies.AnnouncePolicy(res)
		require.Len(t, f.pub.events, 1)
		assert.Equal(t, ChannelPolicies, f.pub.events[0].channel)
	})

	t.Run("updates sparse fields", func(t *testing.T) {
		f := newFixture(t)
		alpha := f.store.addCaptive("ALPHA001")
		p := f.store.addPolicy(alpha.ID, "POL-UPD-1", "100.00")

		res, err := f.policies.Upsert(context.Background(), alpha.ID, models.PolicyUpsertRequest{
			PolicyNumber: "POL-UPD-1",
			Status:       strp("lapsed"),
		}, meta)
		require.NoError(t, err)
		assert.False(t, res.Created)
		stored := f.store.policies[p.ID]
		assert.Equal(t, models.PolicyLapsed, stored.Status)
		assert.Equal(t, p.ClientName, stored.ClientName)
		assert.Equal(t, models.AuditUpdate, f.store.audits[0].Action)
	})

	t.Run("another tenant's number conflicts", func(t *testing.T) {
		f := newFixture(t)
		alpha := f.store.addCaptive("ALPHA001")
		beta := f.store.addCaptive("BETA002")
		p := f.store.addPolicy(beta.ID, "POL-BETA-9", "100.00")

		_, err := f.policies.Upsert(context.Background(), alpha.ID, models.PolicyUpsertRequest{
			PolicyNumber: "POL-BETA-9",
			Status:       strp("cancelled"),
		}, meta)
		requireCode(t, err, http.StatusConflict, apperr.CodePolicyNumberConflict)
		assert.Equal(t, p, f.store.policies[p.ID])
	})

	t.Run("validation", func(t *testing.T) {
		cases := []struct {
			name string
			req  models.PolicyUpsertRequest
			code string
		}{
			{"missing number", models.PolicyUpsertRequest{ClientName: strp("A")}, apperr.CodeMissingPolicyNumber},
			{"bad status", models.PolicyUpsertRequest{PolicyNumber: "P1", Status: strp("dormant")}, apperr.CodeInvalidPolicyStatus},
			{"bad frequency", models.PolicyUpsertRequest{PolicyNumber: "P1", Frequency: strp("weekly")}, apperr.CodeInvalidFrequency},
			{"bad premium", models.PolicyUpsertRequest{PolicyNumber: "P1", PremiumAmount: json.RawMessage(`0`)}, apperr.CodeInvalidAmount},
			{"bad date", models.PolicyUpsertRequest{PolicyNumber: "P1", NextCollectionDate: strp("2026-13-01")}, apperr.CodeInvalidDate},
			{"new policy needs client and premium", models.PolicyUpsertRequest{PolicyNumber: "P1", ClientName: strp("A")}, apperr.CodeMissingRequired},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				f := newFixture(t)
				alpha := f.store.addCaptive("ALPHA001")
				_, err := f.policies.Upsert(context.Background(), alpha.ID, tc.req, meta)
				requireCode(t, err, http.StatusBadRequest, tc.code)
				assert.Empty(t, f.store.policies)
			})
		}
	})

	t.Run("existing policy with nothing to change", func(t *testing.T) {
		f := newFixture(t)
		alpha := f.store.addCaptive("ALPHA001")
		f.store.addPolicy(alpha.ID, "POL-NOOP", "100.00")

		_, err := f.policies.Upsert(context.Background(), alpha.ID, models.PolicyUpsertRequest{PolicyNumber: "POL-NOOP"}, meta)
		requireCode(t, err, http.StatusBadRequest, apperr.CodeNoUpdateFields)
	})
}

func TestCaptiveService(t *testing.T) {
	t.Run("create normalizes code and rejects duplicates", func(t *testing.T) {
		f := newFixture(t)
		cc, err := f.captives.Create(context.Background(), CreateCaptiveRequest{Name: "Delta", Code: "delta004"}, meta)
		require.NoError(t, err)
		assert.Equal(t, "DELTA004", cc.Code)
		assert.True(t, cc.IsActive)

		_, err = f.captives.Create(context.Background(), CreateCaptiveRequest{Name: "Delta again", Code: "DELTA004"}, meta)
		requireCode(t, err, http.StatusConflict, apperr.CodeCaptiveCodeExists)

		_, err = f.captives.Create(context.Background(), CreateCaptiveRequest{Name: "Bad", Code: "a-b"}, meta)
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, mustAppErr(t, err).Status)
	})

	t.Run("delete refuses captives with dependents", func(t *testing.T) {
		f := newFixture(t)
		alpha := f.store.addCaptive("ALPHA001")
		f.store.addPolicy(alpha.ID, "POL-DEP", "10.00")

		err := f.captives.Delete(context.Background(), alpha.ID, meta)
		requireCode(t, err, http.StatusConflict, apperr.CodeCaptiveHasDependents)
		assert.Contains(t, mustAppErr(t, err).Details, "dependents")
		assert.Contains(t, f.store.captives, alpha.ID)
	})

	t.Run("delete empty captive", func(t *testing.T) {
		f := newFixture(t)
		gamma := f.store.addCaptive("GAMMA003")

		require.NoError(t, f.captives.Delete(context.Background(), gamma.ID, meta))
		assert.NotContains(t, f.store.captives, gamma.ID)
		require.Len(t, f.store.audits, 1)
		assert.Equal(t, models.AuditDelete, f.store.audits[0].Action)

		err := f.captives.Delete(context.Background(), gamma.ID, meta)
		requireCode(t, err, http.StatusNotFound, apperr.CodeCaptiveNotFound)
	})

	t.Run("statistics success rate", func(t *testing.T) {
		f := newFixture(t)
		alpha := f.store.addCaptive("ALPHA001")
		p := f.store.addPolicy(alpha.ID, "POL-STAT", "10.00")
		f.store.addCollection(p, "S1", models.StatusSuccessful, day(2026, 1, 1))
		f.store.addCollection(p, "S2", models.StatusSuccessful, day(2026, 2, 1))
		f.store.addCollection(p, "F1", models.StatusFailed, day(2026, 3, 1))
		f.store.addCollection(p, "P1", models.StatusPending, day(2026, 4, 1))

		stats, err := f.captives.Statistics(context.Background(), alpha.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Collections.Total)
		assert.Equal(t, "66.67", stats.Collections.SuccessRatePct)
		assert.NotNil(t, stats.Trend)
	})
}

func TestAPIKeyGenerate(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")

	gen, err := f.keys.Generate(context.Background(), models.CreateAPIKeyRequest{
		CellCaptiveID: alpha.ID,
		KeyName:       "PAS production",
	}, meta)
	require.NoError(t, err)

	assert.Regexp(t, `^ak_live_[0-9a-f]{64}$`, gen.Token)
	stored := f.store.keys[gen.ID]
	assert.Equal(t, auth.HashKey(gen.Token), stored.KeyHash)
	assert.Equal(t, []string(auth.DefaultScopes()), []string(stored.Permissions))

	require.Len(t, f.store.audits, 1)
	raw, err := json.Marshal(f.store.audits[0].NewValues)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), gen.Token)
	assert.NotContains(t, string(raw), stored.KeyHash)

	_, err = f.keys.Generate(context.Background(), models.CreateAPIKeyRequest{
		CellCaptiveID: alpha.ID, KeyName: "bad", Permissions: models.StringList{"collections:delete"},
	}, meta)
	requireCode(t, err, http.StatusBadRequest, apperr.CodeInvalidPermission)

	past := f.clock.Add(-time.Hour)
	_, err = f.keys.Generate(context.Background(), models.CreateAPIKeyRequest{
		CellCaptiveID: alpha.ID, KeyName: "old", ExpiresAt: &past,
	}, meta)
	requireCode(t, err, http.StatusBadRequest, apperr.CodeInvalidDate)

	inactive := f.store.addCaptive("SLEEP005")
	inactive.IsActive = false
	f.store.captives[inactive.ID] = inactive
	_, err = f.keys.Generate(context.Background(), models.CreateAPIKeyRequest{CellCaptiveID: inactive.ID, KeyName: "x"}, meta)
	requireCode(t, err, http.StatusBadRequest, apperr.CodeCaptiveInactive)
}

func TestCreateAdhoc(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	f.store.addPolicy(alpha.ID, "POL-ADHOC", "75.00")
	lapsed := f.store.addPolicy(alpha.ID, "POL-LAPSED", "75.00")
	lapsed.Status = models.PolicyLapsed
	f.store.policies[lapsed.ID] = lapsed

	c, err := f.queries.CreateAdhoc(context.Background(), alpha.ID, models.CreateCollectionRequest{
		PolicyNumber:   "POL-ADHOC",
		CollectionDate: "2026-03-10",
	}, meta)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Equal(t, models.CollectionAdhoc, c.CollectionType)
	assert.Equal(t, "75.00", c.Amount.StringFixed(2))
	assert.Equal(t, day(2026, 3, 10), c.CollectionDate)

	_, err = f.queries.CreateAdhoc(context.Background(), alpha.ID, models.CreateCollectionRequest{PolicyNumber: "POL-LAPSED"}, meta)
	requireCode(t, err, http.StatusBadRequest, apperr.CodePolicyInactive)

	_, err = f.queries.CreateAdhoc(context.Background(), alpha.ID, models.CreateCollectionRequest{
		PolicyNumber: "POL-ADHOC", CollectionType: "weekly",
	}, meta)
	requireCode(t, err, http.StatusBadRequest, apperr.CodeInvalidCollType)
}

func TestCollectionStats(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	beta := f.store.addCaptive("BETA001")
	pa := f.store.addPolicy(alpha.ID, "POL-A", "10.00")
	pb := f.store.addPolicy(beta.ID, "POL-B", "10.00")
	f.store.addCollection(pa, "A1", models.StatusSuccessful, day(2026, 1, 10))
	f.store.addCollection(pa, "A2", models.StatusFailed, day(2026, 2, 10))
	f.store.addCollection(pb, "B1", models.StatusSuccessful, day(2026, 2, 15))

	all, err := f.queries.CollectionStats(context.Background(), models.CollectionStatsFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 3, all.Recurring)
	assert.Equal(t, "66.67", all.SuccessRatePct)

	from := day(2026, 2, 1)
	scoped, err := f.queries.CollectionStats(context.Background(), models.CollectionStatsFilter{
		CellCaptiveID: &alpha.ID,
		DateFrom:      &from,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, scoped.Total)
	assert.Equal(t, 1, scoped.Failed)
	assert.Equal(t, "0.00", scoped.SuccessRatePct)

	to := day(2026, 1, 1)
	_, err = f.queries.CollectionStats(context.Background(), models.CollectionStatsFilter{DateFrom: &from, DateTo: &to})
	requireCode(t, err, http.StatusBadRequest, apperr.CodeInvalidDate)
}

func TestCreateAdhoc_StaffCreationIsAuditedAndAnnounced(t *testing.T) {
	f := newFixture(t)
	alpha := f.store.addCaptive("ALPHA001")
	f.store.addPolicy(alpha.ID, "POL-STAFF", "75.00")
	staff := uuid.New()

	c, err := f.queries.CreateAdhoc(context.Background(), alpha.ID, models.CreateCollectionRequest{
		PolicyNumber: "POL-STAFF",
	}, models.RequestMeta{UserID: &staff})
	require.NoError(t, err)
	require.NotNil(t, c.CreatedBy)
	assert.Equal(t, staff, *c.CreatedBy)

	require.Len(t, f.store.audits, 1)
	assert.Equal(t, models.AuditInsert, f.store.audits[0].Action)
	assert.Equal(t, &staff, f.store.audits[0].ChangedBy)
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, EventCollectionCreated, f.pub.events[0].eventType)
	assert.Equal(t, ChannelCollections, f.pub.events[0].channel)

	big, _ := models.ParseAmount("9999999999.99")
	big.Decimal = big.Decimal.Add(big.Decimal)
	_, err = f.queries.CreateAdhoc(context.Background(), alpha.ID, models.CreateCollectionRequest{
		PolicyNumber: "POL-STAFF", Amount: &big,
	}, meta)
	requireCode(t, err, http.StatusBadRequest, apperr.CodeInvalidAmount)
}

func TestRedactHeaders(t *testing.T) {
	out := RedactHeaders(map[string][]string{
		"Authorization": {"Bearer ak_live_secret"},
		"X-Api-Key":     {"ak_live_secret"},
		"Content-Type":  {"application/json"},
		"Accept":        {"text/plain", "application/json"},
	})
	assert.Equal(t, "[REDACTED]", out["Authorization"])
	assert.Equal(t, "[REDACTED]", out["X-Api-Key"])
	assert.Equal(t, "application/json", out["Content-Type"])
	assert.Equal(t, "text/plain, application/json", out["Accept"])
}

func mustAppErr(t *testing.T, err error) *apperr.Error {
	t.Helper()
	ae, ok := apperr.As(err)
	require.True(t, ok)
	return ae
}
