package reconciliation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safepay/internal/app/subscriptions"
	"safepay/internal/domain"
	"safepay/internal/infrastructure/alatpay"
	"safepay/internal/repository/ledger_repo/memory"
)

var now = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu       sync.Mutex
	statuses map[string]string
	failures map[string]error
	calls    atomic.Int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: map[string]string{}, failures: map[string]error{}}
}

func (g *fakeGateway) set(id, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[id] = status
}

func (g *fakeGateway) fail(id string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[id] = err
}

func (g *fakeGateway) QueryStatus(_ context.Context, id string) (*alatpay.StatusInfo, error) {
	g.calls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failures[id]; ok {
		return nil, err
	}
	return &alatpay.StatusInfo{TransactionID: id, Status: g.statuses[id]}, nil
}

type fixture struct {
	repo    *memory.LedgerRepository
	gateway *fakeGateway
	subs    *subscriptions.Service
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return now }
	repo := memory.NewLedgerRepository()
	gateway := newFakeGateway()
	subs := subscriptions.NewService(repo, nil, domain.DefaultSubscriptionPeriod, time.Second, zap.NewNop(),
		subscriptions.WithClock(clock))
	t.Cleanup(subs.Wait)
	return &fixture{
		repo:    repo,
		gateway: gateway,
		subs:    subs,
		engine:  NewEngine(repo, gateway, subs, zap.NewNop(), WithClock(clock)),
	}
}

func (f *fixture) seed(t *testing.T, id, userID string, expiredAt time.Time) {
	t.Helper()
	require.NoError(t, f.repo.Create(context.Background(), &domain.Transaction{
		ID:        id,
		OrderID:   "ORDER_" + id,
		UserID:    userID,
		Amount:    decimal.NewFromInt(5000),
		Currency:  "NGN",
		Status:    domain.TransactionStatusPending,
		ExpiredAt: expiredAt,
		CreatedAt: now.Add(-time.Minute),
	}))
}

func TestCheckStatus_SuccessActivatesOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tx-1", "u1", now.Add(30*time.Minute))
	f.gateway.set("tx-1", "completed")

	result, err := f.engine.CheckStatus(context.Background(), "u1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccess, result.Status)
	assert.False(t, result.AlreadyProcessed)
	require.NotNil(t, result.Subscription)
	assert.Equal(t, now.Add(domain.DefaultSubscriptionPeriod), result.Subscription.EndDate)

	txn, err := f.repo.GetByID(context.Background(), "tx-1")
	require.NoError(t, err)
	require.NotNil(t, txn.CompletedAt)
	assert.Equal(t, now, *txn.CompletedAt)

	again, err := f.engine.CheckStatus(context.Background(), "u1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccess, again.Status)
	assert.True(t, again.AlreadyProcessed)
	assert.Equal(t, int32(1), f.gateway.calls.Load(), "terminal transactions never reach the gateway")

	sub, err := f.repo.GetSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(domain.DefaultSubscriptionPeriod), sub.EndDate)
}

func TestCheckStatus_TwoPaymentsCompound(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tx-1", "u1", now.Add(30*time.Minute))
	f.seed(t, "tx-2", "u1", now.Add(30*time.Minute))
	f.gateway.set("tx-1", "success")
	f.gateway.set("tx-2", "PAID")

	_, err := f.engine.CheckStatus(context.Background(), "u1", "tx-1")
	require.NoError(t, err)
	result, err := f.engine.CheckStatus(context.Background(), "u1", "tx-2")
	require.NoError(t, err)

	assert.Equal(t, now.Add(2*domain.DefaultSubscriptionPeriod), result.Subscription.EndDate)
}

func TestCheckStatus_DeadlineWinsWithoutGatewayCall(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tx-1", "u1", now.Add(-time.Second))
	f.gateway.set("tx-1", "completed")

	result, err := f.engine.CheckStatus(context.Background(), "u1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusExpired, result.Status)

	again, err := f.engine.CheckStatus(context.Background(), "u1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusExpired, again.Status)

	assert.Zero(t, f.gateway.calls.Load())
	sub, err := f.repo.GetSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, sub.IsActive)
}

func TestCheckStatus_PendingAndUnknownStatuses(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tx-1", "u1", now.Add(30*time.Minute))
	f.seed(t, "tx-2", "u1", now.Add(30*time.Minute))
	f.gateway.set("tx-1", "processing")
	f.gateway.set("tx-2", "reversed-maybe")

	for _, id := range []string{"tx-1", "tx-2"} {
		result, err := f.engine.CheckStatus(context.Background(), "u1", id)
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusPending, result.Status, id)

		txn, err := f.repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusPending, txn.Status)
	}
}

func TestCheckStatus_GatewayFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tx-1", "u1", now.Add(30*time.Minute))
	f.gateway.fail("tx-1", &domain.GatewayError{Op: "query status", Message: "timeout"})

	_, err := f.engine.CheckStatus(context.Background(), "u1", "tx-1")
	require.Error(t, err)
	assert.Equal(t, domain.KindGateway, domain.Kind(err))

	txn, err := f.repo.GetByID(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, txn.Status)
}

func TestCheckStatus_NotFound(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tx-1", "u1", now.Add(30*time.Minute))

	_, err := f.engine.CheckStatus(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	_, err = f.engine.CheckStatus(context.Background(), "intruder", "tx-1")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	assert.Zero(t, f.gateway.calls.Load())
}

func TestCheckStatus_Archived(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tx-1", "u1", now.Add(-time.Second))
	_, err := f.engine.CheckStatus(context.Background(), "u1", "tx-1")
	require.NoError(t, err)

	txn, err := f.repo.GetByID(context.Background(), "tx-1")
	require.NoError(t, err)
	_, err = f.repo.Archive(context.Background(), []domain.Transaction{*txn}, now)
	require.NoError(t, err)

	result, err := f.engine.CheckStatus(context.Background(), "u1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusArchived, result.Status)
	assert.Zero(t, f.gateway.calls.Load())
}

func TestCheckStatus_ConcurrentChecksActivateOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tx-1", "u1", now.Add(30*time.Minute))
	f.gateway.set("tx-1", "successful")

	const callers = 10
	var (
		wg    sync.WaitGroup
		fresh atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.engine.CheckStatus(context.Background(), "u1", "tx-1")
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, domain.TransactionStatusSuccess, result.Status)
			if !result.AlreadyProcessed {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
	sub, err := f.repo.GetSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(domain.DefaultSubscriptionPeriod), sub.EndDate)
}

type racingActivator struct {
	repo *memory.LedgerRepository
}

func (a racingActivator) Activate(ctx context.Context, txn *domain.Transaction, at time.Time) (*domain.Subscription, bool, error) {
	if _, _, err := a.repo.Settle(ctx, txn.ID, at, domain.DefaultSubscriptionPeriod); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func TestCheckStatus_LostSettleRaceReportsAlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tx-1", "u1", now.Add(30*time.Minute))
	f.gateway.set("tx-1", "completed")
	engine := NewEngine(f.repo, f.gateway, racingActivator{repo: f.repo}, zap.NewNop(),
		WithClock(func() time.Time { return now }))

	result, err := engine.CheckStatus(context.Background(), "u1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccess, result.Status)
	assert.True(t, result.AlreadyProcessed)
}

func TestSweep_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tx-a", "u1", now.Add(30*time.Minute))
	f.seed(t, "tx-b", "u2", now.Add(30*time.Minute))
	f.seed(t, "tx-c", "u3", now.Add(30*time.Minute))
	f.seed(t, "tx-d", "u4", now.Add(-time.Hour))
	f.gateway.set("tx-a", "completed")
	f.gateway.fail("tx-b", &domain.GatewayError{Op: "query status", StatusCode: 500, Message: "boom"})
	f.gateway.set("tx-c", "pending")

	report, err := f.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 4, Succeeded: 1, Expired: 1, StillPending: 1, Failed: 1}, report)
	assert.Equal(t, int32(3), f.gateway.calls.Load(), "expired transaction skips the gateway")

	sub, err := f.repo.GetSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, sub.IsActive)
}

func TestSweep_Empty(t *testing.T) {
	f := newFixture(t)

	report, err := f.engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
}

func TestSweep_StopsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "tx-a", "u1", now.Add(30*time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.engine.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Checked)
}

func TestCheck_TerminalStatesNeverMove(t *testing.T) {
	completedAt := now.Add(-time.Hour)
	cases := []struct {
		name      string
		status    domain.TransactionStatus
		expiredAt time.Time
		archive   bool
	}{
		{name: "success stays success past its deadline", status: domain.TransactionStatusSuccess, expiredAt: now.Add(-time.Minute)},
		{name: "expired stays expired when gateway reports payment", status: domain.TransactionStatusExpired, expiredAt: now.Add(time.Hour)},
		{name: "archived stays archived", status: domain.TransactionStatusExpired, expiredAt: now.Add(-400 * 24 * time.Hour), archive: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			txn := &domain.Transaction{
				ID:        "tx-1",
				OrderID:   "ORDER_tx-1",
				UserID:    "u1",
				Amount:    decimal.NewFromInt(5000),
				Currency:  "NGN",
				Status:    tc.status,
				ExpiredAt: tc.expiredAt,
				CreatedAt: now.Add(-2 * time.Hour),
			}
			if tc.status == domain.TransactionStatusSuccess {
				txn.CompletedAt = &completedAt
			}
			require.NoError(t, f.repo.Create(ctx, txn))
			if tc.archive {
				n, err := f.repo.Archive(ctx, []domain.Transaction{*txn}, now)
				require.NoError(t, err)
				require.Equal(t, 1, n)
			}
			before, err := f.repo.GetByID(ctx, "tx-1")
			require.NoError(t, err)
			f.gateway.set("tx-1", "completed")

			_, err = f.engine.CheckStatus(ctx, "u1", "tx-1")
			require.NoError(t, err)
			_, err = f.engine.Reconcile(ctx, "tx-1")
			require.NoError(t, err)
			_, err = f.engine.Sweep(ctx)
			require.NoError(t, err)

			after, err := f.repo.GetByID(ctx, "tx-1")
			require.NoError(t, err)
			assert.Equal(t, before.Status, after.Status)
			assert.Equal(t, before.CompletedAt, after.CompletedAt)
			assert.Zero(t, f.gateway.calls.Load())

			sub, err := f.repo.GetSubscription(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, sub.IsActive, "no activation without a pending -> success move")
		})
	}
}

func TestCheck_UnknownStoredStatusIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.repo.Create(ctx, &domain.Transaction{
		ID:        "tx-1",
		UserID:    "u1",
		Amount:    decimal.NewFromInt(5000),
		Status:    domain.TransactionStatus("failed"),
		ExpiredAt: now.Add(time.Hour),
		CreatedAt: now,
	}))
	f.gateway.set("tx-1", "completed")

	_, err := f.engine.Reconcile(ctx, "tx-1")
	assert.ErrorIs(t, err, domain.ErrIntegrity)
	assert.Zero(t, f.gateway.calls.Load())
}

func TestGuard(t *testing.T) {
	for _, from := range []domain.TransactionStatus{
		domain.TransactionStatusSuccess,
		domain.TransactionStatusExpired,
		domain.TransactionStatusArchived,
	} {
		txn := &domain.Transaction{ID: "tx-1", Status: from}
		assert.ErrorIs(t, guard(txn, domain.TransactionStatusSuccess), domain.ErrIntegrity, from)
		assert.ErrorIs(t, guard(txn, domain.TransactionStatusExpired), domain.ErrIntegrity, from)
	}
	pending := &domain.Transaction{ID: "tx-1", Status: domain.TransactionStatusPending}
	assert.NoError(t, guard(pending, domain.TransactionStatusSuccess))
	assert.NoError(t, guard(pending, domain.TransactionStatusExpired))
}

func TestReconcile_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Reconcile(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}
