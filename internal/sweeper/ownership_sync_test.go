package sweeper_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
	"github.com/feral-file/ff-sales-reconciler/internal/mocks"
	"github.com/feral-file/ff-sales-reconciler/internal/store"
	"github.com/feral-file/ff-sales-reconciler/internal/store/schema"
	"github.com/feral-file/ff-sales-reconciler/internal/sweeper"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	sellerAddr   = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	buyerAddr    = "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"
	syncNow      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// testSyncerMocks contains all the mocks needed for testing the ownership syncer
type testSyncerMocks struct {
	ctrl      *gomock.Controller
	store     *mocks.MockStore
	owners    *mocks.MockEthereumClient
	blocks    *mocks.MockBlockProvider
	publisher *mocks.MockPublisher
	clock     *mocks.MockClock
	syncer    *sweeper.OwnershipSyncer
}

func readyChan() <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- syncNow
	return ch
}

// setupTestSyncer creates all the mocks and the syncer for testing
func setupTestSyncer(t *testing.T, scope store.TokenScope, limit int) *testSyncerMocks {
	return setupTestSyncerWith(t, func(cfg *sweeper.OwnershipSyncerConfig) {
		cfg.Scope = scope
		cfg.Limit = limit
	})
}

func setupTestSyncerWith(t *testing.T, configure func(*sweeper.OwnershipSyncerConfig)) *testSyncerMocks {
	err := logger.Initialize(logger.Config{Debug: true})
	if err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}

	ctrl := gomock.NewController(t)
	tm := &testSyncerMocks{
		ctrl:      ctrl,
		store:     mocks.NewMockStore(ctrl),
		owners:    mocks.NewMockEthereumClient(ctrl),
		blocks:    mocks.NewMockBlockProvider(ctrl),
		publisher: mocks.NewMockPublisher(ctrl),
		clock:     mocks.NewMockClock(ctrl),
	}

	tm.clock.EXPECT().Now().Return(syncNow).AnyTimes()
	tm.clock.EXPECT().Since(gomock.Any()).Return(2 * time.Second).AnyTimes()
	tm.publisher.EXPECT().PublishSync(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	cfg := sweeper.OwnershipSyncerConfig{
		Contract:             testContract,
		Interval:             5 * time.Minute,
		ItemDelay:            100 * time.Millisecond,
		ErrorBackoff:         time.Minute,
		RetryInitialInterval: time.Millisecond,
		RetryMaxElapsedTime:  time.Second,
	}
	configure(&cfg)
	tm.syncer = sweeper.NewOwnershipSyncer(cfg, tm.store, tm.owners, tm.blocks, tm.publisher, tm.clock)

	return tm
}

// tearDownTestSyncer cleans up the test mocks
func tearDownTestSyncer(mocks *testSyncerMocks) {
	mocks.ctrl.Finish()
}

func listedToken(id uint64, owner string) *schema.Token {
	return &schema.Token{TokenID: id, OwnerAddress: owner, IsListed: true}
}

// commitApplied stands in for a commit whose ownership effect moved the token
func commitApplied(_ context.Context, _ *schema.LedgerEntry, effect *store.OwnershipEffect) (bool, error) {
	effect.Applied = true
	return true, nil
}

func TestOwnershipSyncer_Name(t *testing.T) {
	tm := setupTestSyncer(t, store.TokenScopeListed, 0)
	defer tearDownTestSyncer(tm)

	assert.Equal(t, "ownership-syncer", tm.syncer.Name())
}

func TestOwnershipSyncer_InSync(t *testing.T) {
	tm := setupTestSyncer(t, store.TokenScopeListed, 0)
	defer tearDownTestSyncer(tm)

	tm.store.EXPECT().ListTokens(gomock.Any(), store.TokenFilter{Scope: store.TokenScopeListed}).
		Return([]*schema.Token{listedToken(1, sellerAddr), listedToken(2, buyerAddr)}, nil)
	tm.owners.EXPECT().ERC721OwnerOf(gomock.Any(), testContract, uint64(1)).
		Return(strings.ToUpper(sellerAddr[:2])+strings.ToUpper(sellerAddr[2:]), nil)
	tm.owners.EXPECT().ERC721OwnerOf(gomock.Any(), testContract, uint64(2)).Return(buyerAddr, nil)
	tm.clock.EXPECT().After(100 * time.Millisecond).DoAndReturn(func(time.Duration) <-chan time.Time { return readyChan() })

	summary, err := tm.syncer.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.Checked)
	assert.Zero(t, summary.Drifted)
	assert.Empty(t, summary.Drifts)
}

func TestOwnershipSyncer_RepairsDrift(t *testing.T) {
	tm := setupTestSyncer(t, store.TokenScopeAll, 5)
	defer tearDownTestSyncer(tm)

	wantID := sweeper.SyntheticTransactionID(42, sellerAddr, buyerAddr, 3)

	tm.store.EXPECT().ListTokens(gomock.Any(), store.TokenFilter{Scope: store.TokenScopeAll, Limit: 5}).
		Return([]*schema.Token{listedToken(42, sellerAddr)}, nil)
	tm.owners.EXPECT().ERC721OwnerOf(gomock.Any(), testContract, uint64(42)).
		Return("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC", nil)
	tm.blocks.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(1_000), nil)
	tm.store.EXPECT().CountLedgerEntries(gomock.Any(), uint64(42)).Return(int64(3), nil)
	tm.store.EXPECT().CommitEntry(gomock.Any(), gomock.Any(), &store.OwnershipEffect{
		TokenID:     42,
		NewOwner:    buyerAddr,
		BlockNumber: 1_000,
		Required:    true,
	}).DoAndReturn(func(_ context.Context, entry *schema.LedgerEntry, effect *store.OwnershipEffect) (bool, error) {
		assert.Equal(t, wantID, entry.TransactionID)
		assert.Equal(t, domain.LedgerKindTransfer, entry.Kind)
		assert.Equal(t, sellerAddr, entry.FromAddress)
		assert.Equal(t, buyerAddr, entry.ToAddress)
		assert.Equal(t, uint64(1_000), entry.BlockNumber)
		assert.Nil(t, entry.Price)
		assert.Equal(t, domain.FactSourceOwnershipSync, entry.Source)
		assert.Equal(t, syncNow, entry.Timestamp)
		effect.Applied = true
		return true, nil
	})
	tm.store.EXPECT().RefreshOwnedCounts(gomock.Any(), sellerAddr, buyerAddr).Return(2, nil)
	tm.publisher.EXPECT().PublishDrift(gomock.Any(), domain.OwnershipDrift{
		TokenID:       42,
		OldOwner:      sellerAddr,
		NewOwner:      buyerAddr,
		TransactionID: wantID,
		BlockNumber:   1_000,
		Repaired:      true,
	}).Return(nil)

	summary, err := tm.syncer.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.Drifted)
	assert.Equal(t, 1, summary.Repaired)
	require.Len(t, summary.Drifts, 1)
	assert.Equal(t, wantID, summary.Drifts[0].TransactionID)
}

func TestOwnershipSyncer_RepeatedRepairIsNoop(t *testing.T) {
	tm := setupTestSyncer(t, store.TokenScopeListed, 0)
	defer tearDownTestSyncer(tm)

	tm.store.EXPECT().ListTokens(gomock.Any(), gomock.Any()).Return([]*schema.Token{listedToken(42, sellerAddr)}, nil)
	tm.owners.EXPECT().ERC721OwnerOf(gomock.Any(), testContract, uint64(42)).Return(buyerAddr, nil)
	tm.blocks.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(1_001), nil)
	tm.store.EXPECT().CountLedgerEntries(gomock.Any(), uint64(42)).Return(int64(3), nil)
	tm.store.EXPECT().CommitEntry(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)

	summary, err := tm.syncer.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Drifted)
	assert.Zero(t, summary.Repaired)
	require.Len(t, summary.Drifts, 1)
	assert.False(t, summary.Drifts[0].Repaired)
}

func TestOwnershipSyncer_PerItemFailuresAreCounted(t *testing.T) {
	tm := setupTestSyncer(t, store.TokenScopeListed, 0)
	defer tearDownTestSyncer(tm)

	tm.store.EXPECT().ListTokens(gomock.Any(), gomock.Any()).
		Return([]*schema.Token{listedToken(1, sellerAddr), listedToken(2, sellerAddr), listedToken(3, sellerAddr)}, nil)
	tm.owners.EXPECT().ERC721OwnerOf(gomock.Any(), testContract, uint64(1)).Return("", errors.New("execution reverted"))
	tm.owners.EXPECT().ERC721OwnerOf(gomock.Any(), testContract, uint64(2)).Return(buyerAddr, nil)
	tm.blocks.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(0), domain.ErrTransient)
	tm.owners.EXPECT().ERC721OwnerOf(gomock.Any(), testContract, uint64(3)).Return(sellerAddr, nil)
	tm.clock.EXPECT().After(100 * time.Millisecond).DoAndReturn(func(time.Duration) <-chan time.Time { return readyChan() }).Times(2)

	summary, err := tm.syncer.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Checked)
	assert.Equal(t, 2, summary.Failed)
	assert.Zero(t, summary.Drifted)
}

func TestOwnershipSyncer_RetriesOwnedCountRefresh(t *testing.T) {
	tm := setupTestSyncer(t, store.TokenScopeListed, 0)
	defer tearDownTestSyncer(tm)

	tm.store.EXPECT().ListTokens(gomock.Any(), gomock.Any()).Return([]*schema.Token{listedToken(42, sellerAddr)}, nil)
	tm.owners.EXPECT().ERC721OwnerOf(gomock.Any(), testContract, uint64(42)).Return(buyerAddr, nil)
	tm.blocks.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(1_000), nil)
	tm.store.EXPECT().CountLedgerEntries(gomock.Any(), uint64(42)).Return(int64(0), nil)
	tm.store.EXPECT().CommitEntry(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(commitApplied)
	gomock.InOrder(
		tm.store.EXPECT().RefreshOwnedCounts(gomock.Any(), sellerAddr, buyerAddr).Return(0, errors.New("deadlock detected")),
		tm.store.EXPECT().RefreshOwnedCounts(gomock.Any(), sellerAddr, buyerAddr).Return(2, nil),
	)
	tm.publisher.EXPECT().PublishDrift(gomock.Any(), gomock.Any()).Return(nil)

	summary, err := tm.syncer.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Repaired)
}

func TestOwnershipSyncer_UnappliedRepairIsNotCounted(t *testing.T) {
	tm := setupTestSyncer(t, store.TokenScopeListed, 0)
	defer tearDownTestSyncer(tm)

	tm.store.EXPECT().ListTokens(gomock.Any(), gomock.Any()).Return([]*schema.Token{listedToken(42, sellerAddr)}, nil)
	tm.owners.EXPECT().ERC721OwnerOf(gomock.Any(), testContract, uint64(42)).Return(buyerAddr, nil)
	tm.blocks.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(1_000), nil)
	tm.store.EXPECT().CountLedgerEntries(gomock.Any(), uint64(42)).Return(int64(3), nil)
	// the entry went in but the token already reflects a newer owner
	tm.store.EXPECT().CommitEntry(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)

	summary, err := tm.syncer.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Drifted)
	assert.Zero(t, summary.Repaired)
	require.Len(t, summary.Drifts, 1)
	assert.False(t, summary.Drifts[0].Repaired)
}

func TestOwnershipSyncer_BurnedTokenIsInSync(t *testing.T) {
	tm := setupTestSyncer(t, store.TokenScopeListed, 0)
	defer tearDownTestSyncer(tm)

	tm.store.EXPECT().ListTokens(gomock.Any(), gomock.Any()).Return([]*schema.Token{listedToken(42, sellerAddr)}, nil)
	tm.owners.EXPECT().ERC721OwnerOf(gomock.Any(), testContract, uint64(42)).Return(domain.ETHEREUM_ZERO_ADDRESS, nil)

	summary, err := tm.syncer.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Checked)
	assert.Zero(t, summary.Drifted)
	assert.Zero(t, summary.Failed)
}

func TestOwnershipSyncer_DryRunWritesNothing(t *testing.T) {
	tm := setupTestSyncerWith(t, func(cfg *sweeper.OwnershipSyncerConfig) {
		cfg.Scope = store.TokenScopeListed
		cfg.DryRun = true
	})
	defer tearDownTestSyncer(tm)

	wantID := sweeper.SyntheticTransactionID(42, sellerAddr, buyerAddr, 3)

	tm.store.EXPECT().ListTokens(gomock.Any(), gomock.Any()).Return([]*schema.Token{listedToken(42, sellerAddr)}, nil)
	tm.owners.EXPECT().ERC721OwnerOf(gomock.Any(), testContract, uint64(42)).Return(buyerAddr, nil)
	tm.blocks.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(1_000), nil)
	tm.store.EXPECT().CountLedgerEntries(gomock.Any(), uint64(42)).Return(int64(3), nil)
	tm.store.EXPECT().CommitEntry(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	tm.store.EXPECT().RefreshOwnedCounts(gomock.Any(), gomock.Any()).Times(0)
	tm.publisher.EXPECT().PublishDrift(gomock.Any(), gomock.Any()).Times(0)

	summary, err := tm.syncer.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Drifted)
	assert.Zero(t, summary.Repaired)
	require.Len(t, summary.Drifts, 1)
	assert.Equal(t, domain.OwnershipDrift{
		TokenID:       42,
		OldOwner:      sellerAddr,
		NewOwner:      buyerAddr,
		TransactionID: wantID,
		BlockNumber:   1_000,
	}, summary.Drifts[0])
}

func TestOwnershipSyncer_TokenIDsReplaceScope(t *testing.T) {
	tm := setupTestSyncerWith(t, func(cfg *sweeper.OwnershipSyncerConfig) {
		cfg.Scope = store.TokenScopeAll
		cfg.Limit = 1
		cfg.TokenIDs = []uint64{42, 404}
	})
	defer tearDownTestSyncer(tm)

	tm.store.EXPECT().ListTokens(gomock.Any(), gomock.Any()).Times(0)
	tm.store.EXPECT().GetToken(gomock.Any(), uint64(42)).Return(listedToken(42, sellerAddr), nil)
	tm.store.EXPECT().GetToken(gomock.Any(), uint64(404)).Return(nil, nil)
	tm.owners.EXPECT().ERC721OwnerOf(gomock.Any(), testContract, uint64(42)).Return(sellerAddr, nil)

	summary, err := tm.syncer.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Checked)
	assert.Zero(t, summary.Drifted)
}

func TestOwnershipSyncer_TokenLookupError(t *testing.T) {
	tm := setupTestSyncerWith(t, func(cfg *sweeper.OwnershipSyncerConfig) {
		cfg.TokenIDs = []uint64{42}
	})
	defer tearDownTestSyncer(tm)

	lookupErr := errors.New("connection refused")
	tm.store.EXPECT().GetToken(gomock.Any(), uint64(42)).Return(nil, lookupErr)

	summary, err := tm.syncer.SyncOnce(context.Background())

	assert.ErrorIs(t, err, lookupErr)
	assert.Nil(t, summary)
}

func TestOwnershipSyncer_ListError(t *testing.T) {
	tm := setupTestSyncer(t, store.TokenScopeListed, 0)
	defer tearDownTestSyncer(tm)

	listErr := errors.New("connection refused")
	tm.store.EXPECT().ListTokens(gomock.Any(), gomock.Any()).Return(nil, listErr)

	summary, err := tm.syncer.SyncOnce(context.Background())

	assert.ErrorIs(t, err, listErr)
	assert.Nil(t, summary)
}

func TestOwnershipSyncer_StartStop(t *testing.T) {
	tm := setupTestSyncer(t, store.TokenScopeListed, 0)
	defer tearDownTestSyncer(tm)

	cycled := make(chan struct{}, 1)
	tm.store.EXPECT().ListTokens(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, store.TokenFilter) ([]*schema.Token, error) {
			select {
			case cycled <- struct{}{}:
			default:
			}
			return nil, nil
		}).MinTimes(1)
	// the interval never elapses, the loop waits until Stop
	tm.clock.EXPECT().After(5 * time.Minute).Return(make(chan time.Time)).AnyTimes()

	done := make(chan error, 1)
	go func() {
		done <- tm.syncer.Start(context.Background())
	}()

	select {
	case <-cycled:
	case <-time.After(5 * time.Second):
		t.Fatal("syncer did not run a cycle")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tm.syncer.Stop(stopCtx))
	assert.NoError(t, <-done)
}

func TestOwnershipSyncer_StartBacksOffAfterFailedCycle(t *testing.T) {
	tm := setupTestSyncer(t, store.TokenScopeListed, 0)
	defer tearDownTestSyncer(tm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tm.store.EXPECT().ListTokens(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))
	tm.clock.EXPECT().After(time.Minute).DoAndReturn(func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	})

	assert.NoError(t, tm.syncer.Start(ctx))
}

func TestSyntheticTransactionID(t *testing.T) {
	id := sweeper.SyntheticTransactionID(42, sellerAddr, buyerAddr, 3)

	assert.True(t, strings.HasPrefix(id, domain.OWNERSHIP_SYNC_TX_PREFIX))
	assert.Len(t, id, len(domain.OWNERSHIP_SYNC_TX_PREFIX)+64)

	// deterministic and independent of address case
	assert.Equal(t, id, sweeper.SyntheticTransactionID(42, strings.ToUpper(sellerAddr), buyerAddr, 3))

	// any input change yields a new id
	assert.NotEqual(t, id, sweeper.SyntheticTransactionID(43, sellerAddr, buyerAddr, 3))
	assert.NotEqual(t, id, sweeper.SyntheticTransactionID(42, buyerAddr, sellerAddr, 3))
	assert.NotEqual(t, id, sweeper.SyntheticTransactionID(42, sellerAddr, buyerAddr, 4))
}
