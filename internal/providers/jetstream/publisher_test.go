package jetstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
	"github.com/feral-file/ff-sales-reconciler/internal/messaging"
	"github.com/feral-file/ff-sales-reconciler/internal/mocks"
	"github.com/feral-file/ff-sales-reconciler/internal/providers/jetstream"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

var testConfig = jetstream.Config{
	URL:            "nats://localhost:4222",
	StreamName:     "RECONCILER",
	SubjectPrefix:  "reconciler",
	MaxReconnects:  3,
	ReconnectWait:  time.Second,
	ConnectionName: "reconciler-test",
}

type testPublisherMocks struct {
	ctrl   *gomock.Controller
	natsJS *mocks.MockNatsJetStream
	conn   *mocks.MockNatsConn
	js     *mocks.MockJetStream
}

func setupTestPublisher(t *testing.T) (messaging.Publisher, *testPublisherMocks) {
	ctrl := gomock.NewController(t)
	m := &testPublisherMocks{
		ctrl:   ctrl,
		natsJS: mocks.NewMockNatsJetStream(ctrl),
		conn:   mocks.NewMockNatsConn(ctrl),
		js:     mocks.NewMockJetStream(ctrl),
	}

	m.natsJS.EXPECT().Connect(testConfig.URL, gomock.Any()).Return(m.conn, m.js, nil)
	m.js.EXPECT().EnsureStream(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cfg natsjs.StreamConfig) error {
			assert.Equal(t, "RECONCILER", cfg.Name)
			assert.Equal(t, []string{"reconciler.>"}, cfg.Subjects)
			return nil
		})
	m.conn.EXPECT().ConnectedUrl().Return(testConfig.URL).AnyTimes()

	pub, err := jetstream.NewPublisher(context.Background(), testConfig, m.natsJS)
	require.NoError(t, err)

	return pub, m
}

func TestNewPublisher_ConnectError(t *testing.T) {
	ctrl := gomock.NewController(t)
	natsJS := mocks.NewMockNatsJetStream(ctrl)
	natsJS.EXPECT().Connect(testConfig.URL, gomock.Any()).Return(nil, nil, nats.ErrNoServers)

	pub, err := jetstream.NewPublisher(context.Background(), testConfig, natsJS)

	assert.ErrorIs(t, err, nats.ErrNoServers)
	assert.Nil(t, pub)
}

func TestNewPublisher_EnsureStreamError(t *testing.T) {
	ctrl := gomock.NewController(t)
	natsJS := mocks.NewMockNatsJetStream(ctrl)
	conn := mocks.NewMockNatsConn(ctrl)
	js := mocks.NewMockJetStream(ctrl)

	streamErr := errors.New("insufficient resources")
	natsJS.EXPECT().Connect(testConfig.URL, gomock.Any()).Return(conn, js, nil)
	js.EXPECT().EnsureStream(gomock.Any(), gomock.Any()).Return(streamErr)
	conn.EXPECT().Close()

	pub, err := jetstream.NewPublisher(context.Background(), testConfig, natsJS)

	assert.ErrorIs(t, err, streamErr)
	assert.Nil(t, pub)
}

func TestPublisher_PublishRun(t *testing.T) {
	pub, m := setupTestPublisher(t)

	summary := &domain.RunSummary{
		RunID:    "01JABCDEF",
		Mode:     domain.RunModeRange,
		Contract: "0x5fbdb2315678afecb367f032d93f642f64180aa3",
		Policy:   domain.PolicyFirstSaleWins,
		Range:    &domain.ScanRange{From: 100, To: 200},
		Created:  1,
		Gaps:     []domain.Gap{{From: 150, To: 150, Reason: "query timeout"}},
	}

	m.js.EXPECT().Publish(gomock.Any(), "reconciler.runs.range", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, data []byte, opts ...natsjs.PublishOpt) (*natsjs.PubAck, error) {
			assert.Len(t, opts, 1)

			var got domain.RunSummary
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, summary.RunID, got.RunID)
			assert.Equal(t, 1, got.Created)
			assert.Equal(t, summary.Gaps, got.Gaps)
			return &natsjs.PubAck{Stream: "RECONCILER", Sequence: 1}, nil
		})

	err := pub.PublishRun(context.Background(), summary)
	assert.NoError(t, err)
}

func TestPublisher_PublishDrift(t *testing.T) {
	pub, m := setupTestPublisher(t)

	drift := domain.OwnershipDrift{
		TokenID:       42,
		OldOwner:      "0x70997970c51812dc3a010c7d01b50e0d17dc79c8",
		NewOwner:      "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc",
		TransactionID: "autosync:abc",
		BlockNumber:   1_000,
		Repaired:      true,
	}

	m.js.EXPECT().Publish(gomock.Any(), "reconciler.ownership.drift", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, data []byte, _ ...natsjs.PublishOpt) (*natsjs.PubAck, error) {
			var got domain.OwnershipDrift
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, drift, got)
			return &natsjs.PubAck{}, nil
		})

	assert.NoError(t, pub.PublishDrift(context.Background(), drift))
}

func TestPublisher_PublishSync(t *testing.T) {
	pub, m := setupTestPublisher(t)

	m.js.EXPECT().Publish(gomock.Any(), "reconciler.ownership.sync", gomock.Any(), gomock.Any()).
		Return(&natsjs.PubAck{}, nil)

	err := pub.PublishSync(context.Background(), &domain.SyncSummary{RunID: "01JSYNC", Checked: 3})
	assert.NoError(t, err)
}

func TestPublisher_PublishError(t *testing.T) {
	pub, m := setupTestPublisher(t)

	m.js.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, natsjs.ErrNoStreamResponse)

	err := pub.PublishRun(context.Background(), &domain.RunSummary{RunID: "01J", Mode: domain.RunModeImport})

	assert.ErrorIs(t, err, natsjs.ErrNoStreamResponse)
	assert.Contains(t, err.Error(), "reconciler.runs.import")
}

func TestPublisher_Close(t *testing.T) {
	t.Run("drains", func(t *testing.T) {
		pub, m := setupTestPublisher(t)
		m.conn.EXPECT().Drain().Return(nil)

		pub.Close()
	})

	t.Run("closes when drain fails", func(t *testing.T) {
		pub, m := setupTestPublisher(t)
		m.conn.EXPECT().Drain().Return(nats.ErrConnectionClosed)
		m.conn.EXPECT().Close()

		pub.Close()
	})
}

func TestNoopPublisher(t *testing.T) {
	pub := messaging.NewNoopPublisher()

	assert.NoError(t, pub.PublishRun(context.Background(), &domain.RunSummary{}))
	assert.NoError(t, pub.PublishSync(context.Background(), &domain.SyncSummary{}))
	assert.NoError(t, pub.PublishDrift(context.Background(), domain.OwnershipDrift{}))
	pub.Close()
}
