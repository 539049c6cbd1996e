//go:build test

//go:generate go run github.com/srgg/testify/depend/cmd/dependgen BridgeTestSuite

package bridge_test

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/srgg/testify/depend"

	"github.com/srg/bpbridge/internal/bridge"
	"github.com/srg/bpbridge/internal/ledger"
	"github.com/srg/bpbridge/internal/record"
	"github.com/srg/bpbridge/internal/session"
	"github.com/srg/bpbridge/internal/sink"
	"github.com/srg/bpbridge/internal/testutils"
)

type fakeUploader struct {
	mu    sync.Mutex
	calls []record.Identity
	// fail decides the error of a call; nil means every call succeeds
	fail func(m record.Measurement) error
}

func (f *fakeUploader) Upload(_ context.Context, _ string, m record.Measurement) (sink.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, m.Identity())
	if f.fail != nil {
		if err := f.fail(m); err != nil {
			return 0, err
		}
	}
	return sink.Delivered, nil
}

func (f *fakeUploader) Calls() []record.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record.Identity(nil), f.calls...)
}

type publishCall struct {
	Topic   string
	Payload record.Payload
	Opts    sink.PublishOptions
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
	// published runs after each call is recorded
	published func(p record.Payload)
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte, opts sink.PublishOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var p record.Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	f.calls = append(f.calls, publishCall{Topic: topic, Payload: p, Opts: opts})
	if f.published != nil {
		f.published(p)
	}
	return f.err
}

func (f *fakePublisher) Calls() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.calls...)
}

func unavailable(record.Measurement) error {
	return &sink.DeliveryError{Sink: "cloud", Kind: sink.Transient, Msg: "HTTP 503"}
}

type BridgeTestSuite struct {
	testutils.OmronSimulatorSuite

	ledgerPath string
	ledger     *ledger.Ledger
	uploader   *fakeUploader
	publisher  *fakePublisher
	readMode   session.ReadMode
}

func (s *BridgeTestSuite) SetupTest() {
	s.OmronSimulatorSuite.SetupTest()

	s.ledgerPath = filepath.Join(s.T().TempDir(), "ledger.db")
	l, err := ledger.Open(s.ledgerPath, s.Logger)
	s.Require().NoError(err, "MUST open ledger")
	s.ledger = l
	s.uploader = &fakeUploader{}
	s.publisher = &fakePublisher{}
	s.readMode = session.ReadAll
}

func (s *BridgeTestSuite) TearDownTest() {
	if s.ledger != nil {
		s.NoError(s.ledger.Close())
	}
}

func (s *BridgeTestSuite) newBridge(users ...bridge.User) *bridge.Bridge {
	if len(users) == 0 {
		users = []bridge.User{{Name: "alice@example.com", Account: "alice@example.com", Slot: 1, Cloud: true, Broker: true}}
	}
	b, err := bridge.New(bridge.Config{
		Users: users,
		Source: &bridge.DeviceSource{
			Transport: s.Sim,
			Layout:    s.Layout,
			Options: session.Options{
				Address:          "AA:BB:CC:DD:EE:FF",
				ConnectTimeout:   time.Second,
				ReadMode:         s.readMode,
				ResponseTimeout:  20 * time.Millisecond,
				MaxAttempts:      3,
				HandshakeTimeout: 200 * time.Millisecond,
			},
			Logger: s.Logger,
		},
		Ledger:    s.ledger,
		Uploader:  s.uploader,
		Publisher: s.publisher,
		BaseTopic: "omron/bp",
		Retry:     bridge.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, s.Logger)
	s.Require().NoError(err, "MUST create bridge")
	return b
}

func (s *BridgeTestSuite) sync(b *bridge.Bridge, opts bridge.Options) *bridge.Report {
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	defer cancel()
	report, err := b.Sync(ctx, opts)
	s.Require().NoError(err, "MUST complete the run")
	s.Require().NotNil(report)
	return report
}

func (s *BridgeTestSuite) delivered(m record.Measurement, sk ledger.Sink) bool {
	ok, err := s.ledger.IsDelivered(context.Background(), m.Identity(), sk)
	s.Require().NoError(err)
	return ok
}

func (s *BridgeTestSuite) markDelivered(m record.Measurement, sk ledger.Sink) {
	s.Require().NoError(s.ledger.RecordDelivery(context.Background(), m.Identity(), sk, record.NewPayload(m), ledger.Success()))
}

func (s *BridgeTestSuite) TestFullSyncDeliversEverything() {
	// GOAL: Verify a full run delivers every record to both sinks and commits them to the ledger
	//
	// TEST SCENARIO: Three readings in slot 1 → three cloud uploads, three retained QoS 1 publishes, ledger marks all delivered

	readings := testutils.Readings("2026-03-01T08:00:00", 3, 1)
	s.StoreReadings(1, readings...)
	hook := logtest.NewLocal(s.Logger)

	report := s.sync(s.newBridge(), bridge.Options{Mode: bridge.ModeFull})

	s.Equal(bridge.OutcomeSuccess, report.Outcome())
	s.Equal(3, report.Read)
	workers := map[any]int{}
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel && e.Message == "Delivered" {
			workers[e.Data["worker"]]++
		}
	}
	s.Equal(map[any]int{"deliver-cloud": 3, "deliver-broker": 3}, workers, "deliveries MUST be logged with their worker name")
	s.Equal(s.Layout.ID, report.Model)
	s.Equal(bridge.SinkReport{Delivered: 3, Attempts: 3}, report.Sink(ledger.Cloud))
	s.Equal(bridge.SinkReport{Delivered: 3, Attempts: 3}, report.Sink(ledger.Broker))
	s.NotEmpty(report.RunID.String())

	s.Len(s.uploader.Calls(), 3)
	calls := s.publisher.Calls()
	s.Require().Len(calls, 3)
	for i, call := range calls {
		s.Equal("omron/bp/alice_at_example.com", call.Topic)
		s.Equal(sink.ReadingOptions, call.Opts, "readings MUST be published QoS 1, retained")
		s.Equal(readings[i].Systolic, call.Payload.Systolic, "publish order MUST follow the device order")
		s.Equal(1, call.Payload.UserSlot)
		s.Equal(s.Layout.ID, call.Payload.Device)
		s.NotEmpty(call.Payload.PublishedAt)
	}

	for _, m := range readings {
		s.True(s.delivered(m, ledger.Cloud))
		s.True(s.delivered(m, ledger.Broker))
	}

	// second run finds nothing new
	report = s.sync(s.newBridge(), bridge.Options{Mode: bridge.ModeFull})
	s.Equal(bridge.SinkReport{Known: 3}, report.Sink(ledger.Cloud))
	s.Equal(bridge.SinkReport{Known: 3}, report.Sink(ledger.Broker))
	s.Len(s.uploader.Calls(), 3, "known records MUST NOT be uploaded again")
	s.Len(s.publisher.Calls(), 3, "known records MUST NOT be published again")
}

func (s *BridgeTestSuite) TestSingleSinkModes() {
	// GOAL: Verify cloud-only and broker-only runs consult the ledger per sink
	//
	// TEST SCENARIO: Two slot-1 records, the first already delivered to the broker → cloud-only delivers both to the cloud with no broker attempts; broker-only delivers the second and reports the first as known

	readings := testutils.Readings("2026-03-01T08:00:00", 2, 1)
	s.StoreReadings(1, readings...)
	s.markDelivered(readings[0], ledger.Broker)

	s.Run("cloud-only", func() {
		report := s.sync(s.newBridge(), bridge.Options{Mode: bridge.ModeCloudOnly})

		s.Equal(bridge.OutcomeSuccess, report.Outcome())
		s.Equal(2, report.Sink(ledger.Cloud).Delivered)
		s.Equal(bridge.SinkReport{}, report.Sink(ledger.Broker), "broker MUST NOT be part of a cloud-only run")
		s.Equal(1, report.Sinks.Len())
		s.Len(s.uploader.Calls(), 2)
		s.Empty(s.publisher.Calls(), "cloud-only MUST NOT publish")
	})

	s.Run("broker-only", func() {
		report := s.sync(s.newBridge(), bridge.Options{Mode: bridge.ModeBrokerOnly})

		s.Equal(bridge.SinkReport{Delivered: 1, Known: 1, Attempts: 1}, report.Sink(ledger.Broker))
		calls := s.publisher.Calls()
		s.Require().Len(calls, 1)
		s.Equal(readings[1].Systolic, calls[0].Payload.Systolic, "only the undelivered record MUST be published")
		s.Len(s.uploader.Calls(), 2, "broker-only MUST NOT upload")
	})
}

func (s *BridgeTestSuite) TestCloudFailureIsPartial() {
	// GOAL: Verify a sink that keeps failing does not block the other sink and is retried next run
	//
	// TEST SCENARIO: Cloud returns 503 on every attempt, broker succeeds → partial_failure, ledger cloud=false broker=true; next run retries only the cloud

	m := testutils.Reading("2026-03-01T08:00:00", 142, 91, 77, 1)
	s.StoreReadings(1, m)
	s.uploader.fail = unavailable

	report := s.sync(s.newBridge(), bridge.Options{})

	s.Equal(bridge.OutcomePartialFailure, report.Outcome())
	s.Equal(bridge.SinkReport{Failed: 1, Attempts: 3}, report.Sink(ledger.Cloud), "cloud MUST be tried the configured number of times")
	s.Equal(bridge.SinkReport{Delivered: 1, Attempts: 1}, report.Sink(ledger.Broker))
	s.Require().Len(report.Failures, 1)
	s.Equal(ledger.Cloud, report.Failures[0].Sink)
	s.Equal(m.Identity(), report.Failures[0].Identity)
	s.Contains(report.Failures[0].Reason, "HTTP 503")

	s.False(s.delivered(m, ledger.Cloud))
	s.True(s.delivered(m, ledger.Broker))

	// cloud is back
	s.uploader.fail = nil
	report = s.sync(s.newBridge(), bridge.Options{})

	s.Equal(bridge.OutcomeSuccess, report.Outcome())
	s.Equal(bridge.SinkReport{Delivered: 1, Attempts: 1}, report.Sink(ledger.Cloud))
	s.Equal(bridge.SinkReport{Known: 1}, report.Sink(ledger.Broker))
	s.Len(s.uploader.Calls(), 4)
	s.Len(s.publisher.Calls(), 1, "broker MUST NOT be retried")
	s.True(s.delivered(m, ledger.Cloud))
}

func (s *BridgeTestSuite) TestPermanentFailureIsNotRetried() {
	// GOAL: Verify a permanent failure gives up at once and the next record still goes through
	//
	// TEST SCENARIO: Cloud rejects the first record as 400 and accepts the second → one attempt for the first, both broker publishes succeed

	readings := testutils.Readings("2026-03-01T08:00:00", 2, 1)
	s.StoreReadings(1, readings...)
	s.uploader.fail = func(m record.Measurement) error {
		if m.Identity() == readings[0].Identity() {
			return &sink.DeliveryError{Sink: "cloud", Kind: sink.Permanent, Msg: "HTTP 400"}
		}
		return nil
	}

	report := s.sync(s.newBridge(), bridge.Options{})

	s.Equal(bridge.OutcomePartialFailure, report.Outcome())
	s.Equal(bridge.SinkReport{Delivered: 1, Failed: 1, Attempts: 2}, report.Sink(ledger.Cloud))
	s.Equal(2, report.Sink(ledger.Broker).Delivered)
	s.Equal([]record.Identity{readings[0].Identity(), readings[1].Identity()}, s.uploader.Calls())
}

func (s *BridgeTestSuite) TestEverythingFailsIsTotal() {
	// GOAL: Verify a run where no delivery succeeds is a total failure
	//
	// TEST SCENARIO: Cloud and broker both unavailable → total_failure, ledger keeps both undelivered

	m := testutils.Reading("2026-03-01T08:00:00", 120, 80, 60, 1)
	s.StoreReadings(1, m)
	s.uploader.fail = unavailable
	s.publisher.err = &sink.DeliveryError{Sink: "broker", Kind: sink.Transient, Msg: "no broker acknowledgement"}

	report := s.sync(s.newBridge(), bridge.Options{})

	s.Equal(bridge.OutcomeTotalFailure, report.Outcome())
	s.Len(report.Failures, 2)
	s.False(s.delivered(m, ledger.Cloud))
	s.False(s.delivered(m, ledger.Broker))
}

func (s *BridgeTestSuite) TestPendingFailuresAreRetried() {
	// GOAL: Verify failures are redelivered even when the device no longer reports the record
	//
	// TEST SCENARIO: new_only run with the cloud down clears the unread counters; the next new_only run reads nothing but still uploads the failed record

	s.readMode = session.ReadNewOnly
	m := testutils.Reading("2026-03-01T08:00:00", 120, 80, 60, 1)
	s.StoreReadings(1, m)
	s.uploader.fail = unavailable

	// counters are only cleared when every slot is read
	users := []bridge.User{
		{Name: "alice@example.com", Account: "alice@example.com", Slot: 1, Cloud: true, Broker: true},
		{Name: "bob", Slot: 2, Broker: true},
	}

	report := s.sync(s.newBridge(users...), bridge.Options{})
	s.Equal(bridge.OutcomePartialFailure, report.Outcome())
	s.Equal(0, s.Sim.Ring(1).Unread, "new_only MUST clear the unread counter")

	s.uploader.fail = nil
	report = s.sync(s.newBridge(users...), bridge.Options{})

	s.Equal(0, report.Read)
	s.Equal(1, report.Retried)
	s.Equal(bridge.OutcomeSuccess, report.Outcome())
	s.Equal(1, report.Sink(ledger.Cloud).Delivered)
	s.Equal(bridge.SinkReport{}, report.Sink(ledger.Broker))
	s.True(s.delivered(m, ledger.Cloud))
}

func (s *BridgeTestSuite) TestDryRunChangesNothing() {
	// GOAL: Verify a dry run reads and looks up but writes nothing anywhere
	//
	// TEST SCENARIO: new_only dry run over two records, one known to the cloud → no sink calls, ledger file unchanged byte for byte, device counters untouched

	s.readMode = session.ReadNewOnly
	readings := testutils.Readings("2026-03-01T08:00:00", 2, 1)
	s.StoreReadings(1, readings...)
	s.markDelivered(readings[0], ledger.Cloud)
	s.Require().NoError(s.ledger.Close())

	before := fileDigest(s.T(), s.ledgerPath)

	l, err := ledger.Open(s.ledgerPath, s.Logger)
	s.Require().NoError(err)
	s.ledger = l

	report := s.sync(s.newBridge(), bridge.Options{DryRun: true})

	s.True(report.DryRun)
	s.Equal(bridge.OutcomeSuccess, report.Outcome())
	s.Equal(bridge.SinkReport{Known: 1, Pending: 1}, report.Sink(ledger.Cloud))
	s.Equal(bridge.SinkReport{Pending: 2}, report.Sink(ledger.Broker))
	s.Empty(s.uploader.Calls(), "dry run MUST NOT upload")
	s.Empty(s.publisher.Calls(), "dry run MUST NOT publish")
	s.Empty(s.Sim.Writes(), "dry run MUST NOT write to the device")
	s.Equal(2, s.Sim.Ring(1).Unread)

	s.Require().NoError(s.ledger.Close())
	s.ledger = nil
	s.Equal(before, fileDigest(s.T(), s.ledgerPath), "dry run MUST leave the ledger unchanged")
}

func (s *BridgeTestSuite) TestUsersAndSlots() {
	// GOAL: Verify records are routed by slot to their user with per-user sink flags
	//
	// TEST SCENARIO: Slot 1 user on both sinks, slot 2 user broker only → slot 2 records never reach the cloud and publish on their own topic

	s.StoreReadings(1, testutils.Readings("2026-03-01T08:00:00", 2, 1)...)
	s.StoreReadings(2, testutils.Readings("2026-03-01T09:00:00", 1, 2)...)

	b := s.newBridge(
		bridge.User{Name: "Bob Smith", Slot: 2, Broker: true},
		bridge.User{Name: "alice@example.com", Account: "alice@example.com", Slot: 1, Cloud: true, Broker: true},
	)
	report := s.sync(b, bridge.Options{})

	s.Equal(3, report.Read)
	s.Equal(2, report.Sink(ledger.Cloud).Delivered)
	s.Equal(3, report.Sink(ledger.Broker).Delivered)

	var topics []string
	for _, c := range s.publisher.Calls() {
		topics = append(topics, c.Topic)
	}
	s.Equal([]string{"omron/bp/alice_at_example.com", "omron/bp/alice_at_example.com", "omron/bp/Bob_Smith"}, topics)
}

func (s *BridgeTestSuite) TestCancelledRunKeepsCompletedDeliveries() {
	// GOAL: Verify cancelling a run mid-delivery keeps what went through and redelivers only the rest
	//
	// TEST SCENARIO: Three records, the context is cancelled while the second one is uploading after its broker publish → Sync returns context.Canceled, record 1 on both sinks, record 2 on the broker only, record 3 nowhere; the next run delivers just the remainder

	readings := testutils.Readings("2026-03-01T08:00:00", 3, 1)
	s.StoreReadings(1, readings...)

	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	defer cancel()

	second := readings[1].Identity()
	brokerDone := make(chan struct{})
	s.publisher.published = func(p record.Payload) {
		if m, err := p.Measurement(); err == nil && m.Identity() == second {
			close(brokerDone)
		}
	}
	s.uploader.fail = func(m record.Measurement) error {
		if m.Identity() != second {
			return nil
		}
		<-brokerDone
		cancel()
		return context.Canceled
	}

	report, err := s.newBridge().Sync(ctx, bridge.Options{})

	s.Require().Error(err)
	s.ErrorIs(err, context.Canceled, "cancellation MUST surface as context.Canceled")
	s.Require().NotNil(report)
	s.Equal(bridge.OutcomeTotalFailure, report.Outcome())
	s.Empty(report.Failures, "a cancelled delivery MUST NOT be reported as a failure")

	s.True(s.delivered(readings[0], ledger.Cloud))
	s.True(s.delivered(readings[0], ledger.Broker))
	s.False(s.delivered(readings[1], ledger.Cloud))
	s.True(s.delivered(readings[1], ledger.Broker), "a publish that completed MUST stay recorded")
	s.False(s.delivered(readings[2], ledger.Cloud))
	s.False(s.delivered(readings[2], ledger.Broker))

	pending, err := s.ledger.Pending(context.Background(), ledger.Cloud, 10)
	s.Require().NoError(err)
	s.Empty(pending, "a cancelled delivery MUST NOT leave a failure row")

	s.uploader.fail = nil
	s.publisher.published = nil
	report = s.sync(s.newBridge(), bridge.Options{})

	s.Equal(bridge.OutcomeSuccess, report.Outcome())
	s.Equal(bridge.SinkReport{Delivered: 2, Known: 1, Attempts: 2}, report.Sink(ledger.Cloud))
	s.Equal(bridge.SinkReport{Delivered: 1, Known: 2, Attempts: 1}, report.Sink(ledger.Broker))
	s.Equal([]record.Identity{readings[0].Identity(), second, second, readings[2].Identity()}, s.uploader.Calls())
	s.Len(s.publisher.Calls(), 3)
}

func (s *BridgeTestSuite) TestConnectFailureAbortsRun() {
	// GOAL: Verify a device that cannot be reached aborts the run without touching the sinks
	//
	// TEST SCENARIO: Transport connect fails → Sync returns the connect error, report is total_failure

	s.Sim.ConnectErr = errors.New("le-connection-abort-by-local")

	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	defer cancel()
	report, err := s.newBridge().Sync(ctx, bridge.Options{})

	s.Require().Error(err)
	s.Require().NotNil(report)
	s.Equal(bridge.OutcomeTotalFailure, report.Outcome())
	s.Empty(s.uploader.Calls())
	s.Empty(s.publisher.Calls())
}

func (s *BridgeTestSuite) TestLedgerFailureIsFatal() {
	// GOAL: Verify a ledger that cannot be written stops the run as a ledger error
	//
	// TEST SCENARIO: Ledger closed under the bridge → Sync fails with ErrLedgerIO and nothing is delivered

	s.StoreReadings(1, testutils.Readings("2026-03-01T08:00:00", 2, 1)...)
	s.Require().NoError(s.ledger.Close())

	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	defer cancel()
	report, err := s.newBridge().Sync(ctx, bridge.Options{})
	s.ledger = nil

	s.Require().Error(err)
	s.ErrorIs(err, ledger.ErrLedgerIO, "ledger failures MUST surface as ledger errors")
	s.Equal(bridge.OutcomeTotalFailure, report.Outcome())
	s.Empty(s.uploader.Calls())
}

func (s *BridgeTestSuite) TestNoSinkForMode() {
	b, err := bridge.New(bridge.Config{
		Users:    []bridge.User{{Name: "alice", Slot: 1, Cloud: true}},
		Source:   &bridge.DeviceSource{Transport: s.Sim, Layout: s.Layout, Logger: s.Logger},
		Ledger:   s.ledger,
		Uploader: s.uploader,
	}, s.Logger)
	s.Require().NoError(err)

	_, err = b.Sync(context.Background(), bridge.Options{Mode: bridge.ModeBrokerOnly})
	s.ErrorIs(err, bridge.ErrNoSinks)
	s.Zero(s.Sim.Connects, "device MUST NOT be touched without a sink")
}

func (s *BridgeTestSuite) TestInvalidConfig() {
	_, err := bridge.New(bridge.Config{
		Users:  []bridge.User{{Name: "a", Slot: 1}, {Name: "b", Slot: 1}},
		Source: &bridge.DeviceSource{},
		Ledger: s.ledger,
	}, s.Logger)
	s.Error(err, "users sharing a slot MUST be rejected")

	_, err = bridge.New(bridge.Config{Source: &bridge.DeviceSource{}, Ledger: s.ledger}, s.Logger)
	s.Error(err, "a bridge without users MUST be rejected")
}

func fileDigest(t *testing.T, path string) [32]byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func TestBridgeTestSuite(t *testing.T) {
	depend.RunSuite(t, new(BridgeTestSuite))
}
