package core

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"molder/internal/logger"
	"molder/internal/messaging"
	"molder/internal/types"
)

// Mock MessagingClient
type mockMessagingClient struct {
	callbacks messaging.Callbacks

	// Track method calls
	cycles        []types.CycleRecord
	faultsPresent []int
	faultsAbsent  []int
	closed        bool

	// Return values
	mirror    uint64
	mirrorErr error
}

func newMockMessagingClient() *mockMessagingClient {
	return &mockMessagingClient{}
}

func (m *mockMessagingClient) SetCallbacks(callbacks messaging.Callbacks) { m.callbacks = callbacks }
func (m *mockMessagingClient) Connect() error                             { return nil }
func (m *mockMessagingClient) StartListening() error                      { return nil }
func (m *mockMessagingClient) Close() error                               { m.closed = true; return nil }
func (m *mockMessagingClient) GetTotalCount() (uint64, error)             { return m.mirror, m.mirrorErr }

func (m *mockMessagingClient) PublishCycleCompleted(rec types.CycleRecord) error {
	m.cycles = append(m.cycles, rec)
	return nil
}

func (m *mockMessagingClient) ReportFaultPresent(code int, description string) error {
	m.faultsPresent = append(m.faultsPresent, code)
	return nil
}

func (m *mockMessagingClient) ReportFaultAbsent(code int) error {
	m.faultsAbsent = append(m.faultsAbsent, code)
	return nil
}

// Mock HardwareIO
type mockHardwareIO struct {
	digitalOutputs map[string]bool
	digitalInputs  map[string]bool
	readErrors     map[string]error
	cleanedUp      bool
}

func newMockHardwareIO() *mockHardwareIO {
	return &mockHardwareIO{
		digitalOutputs: make(map[string]bool),
		digitalInputs:  make(map[string]bool),
		readErrors:     make(map[string]error),
	}
}

func (m *mockHardwareIO) Initialize() error { return nil }
func (m *mockHardwareIO) Cleanup()          { m.cleanedUp = true }

func (m *mockHardwareIO) ReadDigitalInput(channel string) (bool, error) {
	if err := m.readErrors[channel]; err != nil {
		return false, err
	}
	return m.digitalInputs[channel], nil
}

func (m *mockHardwareIO) WriteDigitalOutput(channel string, value bool) error {
	m.digitalOutputs[channel] = value
	return nil
}

func (m *mockHardwareIO) anyOutput() bool {
	for _, v := range m.digitalOutputs {
		if v {
			return true
		}
	}
	return false
}

// Mock Store
type mockStore struct {
	settings      types.Settings
	settingsFound bool
	total         uint64
	saveErr       error
	totalSaves    []uint64
	settingSaves  int
}

func (m *mockStore) LoadSettings() (types.Settings, bool, error) {
	return m.settings, m.settingsFound, nil
}

func (m *mockStore) SaveSettings(s types.Settings) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.settings = s
	m.settingsFound = true
	m.settingSaves++
	return nil
}

func (m *mockStore) LoadTotalCount() (uint64, error) { return m.total, nil }

func (m *mockStore) SaveTotalCount(count uint64) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.total = count
	m.totalSaves = append(m.totalSaves, count)
	return nil
}

func (m *mockStore) Close() error { return nil }

// Mock Thermometer
type mockThermometer struct {
	value float64
	err   error
}

func (m *mockThermometer) ReadCelsius() (float64, error) { return m.value, m.err }

// Test helpers
type testRig struct {
	c     *Controller
	io    *mockHardwareIO
	redis *mockMessagingClient
	store *mockStore
}

func newTestRig(t *testing.T, store *mockStore) *testRig {
	t.Helper()
	if store == nil {
		store = &mockStore{}
	}
	l := logger.NewLogger(nil, logger.LogLevelError)
	rig := &testRig{
		io:    newMockHardwareIO(),
		redis: newMockMessagingClient(),
		store: store,
	}
	rig.c = NewController(rig.io, rig.store, rig.redis, l)
	return rig
}

func (r *testRig) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := r.c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(r.c.Shutdown)
}

// startManual starts the controller and bootstraps it into Manual.
func startManual(t *testing.T, store *mockStore) *testRig {
	t.Helper()
	rig := newTestRig(t, store)
	rig.start(t)
	rig.tick(t, 1)
	if m := rig.c.Snapshot().Mode; m != types.ModeManual {
		t.Fatalf("Expected manual after bootstrap, got %s", m)
	}
	return rig
}

// startAuto starts a cycle and runs the Idle -> Close tick.
func startAuto(t *testing.T, store *mockStore) *testRig {
	t.Helper()
	rig := startManual(t, store)
	if err := rig.c.StartPressed(); err != nil {
		t.Fatalf("StartPressed failed: %v", err)
	}
	rig.tick(t, 1)
	return rig
}

func (r *testRig) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := r.c.Tick(); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
	}
}

// record ticks until done returns true, collecting a snapshot per tick.
func (r *testRig) record(t *testing.T, maxTicks int, done func(types.Telemetry) bool) []types.Telemetry {
	t.Helper()
	var samples []types.Telemetry
	for i := 0; i < maxTicks; i++ {
		r.tick(t, 1)
		s := r.c.Snapshot()
		samples = append(samples, s)
		if done(s) {
			return samples
		}
	}
	t.Fatalf("Condition not reached within %d ticks", maxTicks)
	return nil
}

func firstSample(t *testing.T, samples []types.Telemetry, after time.Duration, pred func(types.Telemetry) bool) types.Telemetry {
	t.Helper()
	for _, s := range samples {
		if s.CycleTimer > after && pred(s) {
			return s
		}
	}
	t.Fatalf("No sample after %v matched", after)
	return types.Telemetry{}
}

func inDetect(s types.Telemetry) bool { return s.State == types.StateDetect }

func sec(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func contains(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// ===== Basic Construction Tests =====

func TestNewController(t *testing.T) {
	rig := newTestRig(t, nil)

	if rig.c.io != rig.io {
		t.Error("io not set correctly")
	}
	if rig.c.redis != rig.redis {
		t.Error("redis not set correctly")
	}
	s := rig.c.Snapshot()
	if s.Mode != types.ModeInit || s.State != types.StateIdle {
		t.Errorf("Expected init/idle, got %s/%s", s.Mode, s.State)
	}
	if s.TemperatureAvailable() {
		t.Error("Temperature should be unavailable before any read")
	}
}

func TestBootstrapToManual(t *testing.T) {
	rig := startManual(t, nil)

	s := rig.c.Snapshot()
	if s.PreviousMode != types.ModeInit {
		t.Errorf("Expected previous mode init, got %s", s.PreviousMode)
	}
	if rig.io.anyOutput() {
		t.Errorf("Expected all outputs off, got %v", rig.io.digitalOutputs)
	}
}

func TestStartLoadsStoredSettings(t *testing.T) {
	stored := types.Settings{CycleTime: sec(15), InjectTime: sec(5), OpenDelay: sec(2), DoubleEject: true}
	rig := startManual(t, &mockStore{settings: stored, settingsFound: true, total: 12})

	if got := rig.c.Settings(); got != stored {
		t.Errorf("Expected stored settings %+v, got %+v", stored, got)
	}
	if got := rig.c.Snapshot().TotalCount; got != 12 {
		t.Errorf("Expected total count 12, got %d", got)
	}
}

func TestStartUsesDefaultsWhenStoreEmpty(t *testing.T) {
	rig := newTestRig(t, nil)
	defaults := types.Settings{CycleTime: sec(30), InjectTime: sec(8), OpenDelay: sec(1)}
	rig.c.SetDefaults(defaults)
	rig.start(t)

	if got := rig.c.Settings(); got != defaults {
		t.Errorf("Expected defaults %+v, got %+v", defaults, got)
	}
}

func TestStartRestoresCountFromMirror(t *testing.T) {
	store := &mockStore{total: 40}
	rig := newTestRig(t, store)
	rig.redis.mirror = 50
	rig.start(t)

	if got := rig.c.Snapshot().TotalCount; got != 50 {
		t.Errorf("Expected total count 50 from mirror, got %d", got)
	}
	if store.total != 50 {
		t.Errorf("Expected restored count persisted, store has %d", store.total)
	}
}

func TestStartIgnoresLowerMirror(t *testing.T) {
	store := &mockStore{total: 40}
	rig := newTestRig(t, store)
	rig.redis.mirror = 10
	rig.start(t)

	if got := rig.c.Snapshot().TotalCount; got != 40 {
		t.Errorf("Expected total count 40, got %d", got)
	}
	if len(store.totalSaves) != 0 {
		t.Errorf("Store should not be rewritten, got saves %v", store.totalSaves)
	}
}

// ===== Safety Interlock Tests =====

func TestEStopForcesAbortFromEveryMode(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) *testRig
	}{
		{"init", func(t *testing.T) *testRig {
			rig := newTestRig(t, nil)
			rig.start(t)
			return rig
		}},
		{"manual with outputs", func(t *testing.T) *testRig {
			rig := startManual(t, nil)
			rig.c.SetManualClose(true)
			rig.c.SetManualInject(true)
			rig.tick(t, 1)
			return rig
		}},
		{"auto close", func(t *testing.T) *testRig {
			return startAuto(t, nil)
		}},
		{"auto eject", func(t *testing.T) *testRig {
			rig := startAuto(t, nil)
			rig.tick(t, 211)
			return rig
		}},
		{"auto-stop", func(t *testing.T) *testRig {
			rig := startAuto(t, nil)
			rig.tick(t, 150)
			if err := rig.c.StartReleased(); err != nil {
				t.Fatalf("StartReleased failed: %v", err)
			}
			return rig
		}},
		{"abort", func(t *testing.T) *testRig {
			rig := startManual(t, nil)
			rig.c.AbortPressed()
			return rig
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := tt.setup(t)
			rig.io.digitalInputs[types.InputEStop] = true
			rig.tick(t, 1)

			s := rig.c.Snapshot()
			if s.Mode != types.ModeAbort {
				t.Errorf("Expected abort, got %s", s.Mode)
			}
			if s.State != types.StateIdle || s.CycleTimer != 0 || s.CycleEnabled {
				t.Errorf("Expected idle/0/disabled, got %s/%v/%v", s.State, s.CycleTimer, s.CycleEnabled)
			}
			if rig.io.anyOutput() {
				t.Errorf("Expected all outputs off, got %v", rig.io.digitalOutputs)
			}
			if !contains(rig.redis.faultsPresent, types.FaultEmergencyStop) {
				t.Error("Expected E-stop fault reported")
			}
		})
	}
}

func TestEStopHoldsOutputsOff(t *testing.T) {
	rig := startManual(t, nil)
	rig.io.digitalInputs[types.InputEStop] = true
	rig.tick(t, 1)

	// Manual requests and start are rejected while aborted
	if err := rig.c.SetManualClose(true); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("Expected manual close rejected, got %v", err)
	}
	if err := rig.c.StartPressed(); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("Expected start rejected, got %v", err)
	}
	rig.tick(t, 10)
	if rig.io.anyOutput() {
		t.Errorf("Expected outputs off, got %v", rig.io.digitalOutputs)
	}
}

func TestEStopReadErrorCountsAsActive(t *testing.T) {
	rig := startAuto(t, nil)
	rig.io.readErrors[types.InputEStop] = errors.New("line busy")
	rig.tick(t, 1)

	if m := rig.c.Snapshot().Mode; m != types.ModeAbort {
		t.Errorf("Expected abort on E-stop read error, got %s", m)
	}
}

func TestEStopClearReportsFaultAbsent(t *testing.T) {
	rig := startManual(t, nil)
	rig.io.digitalInputs[types.InputEStop] = true
	rig.tick(t, 1)
	rig.io.digitalInputs[types.InputEStop] = false
	rig.tick(t, 1)

	if !contains(rig.redis.faultsAbsent, types.FaultEmergencyStop) {
		t.Error("Expected E-stop fault cleared")
	}
	// Clearing the E-stop does not leave Abort by itself
	if m := rig.c.Snapshot().Mode; m != types.ModeAbort {
		t.Errorf("Expected to stay in abort, got %s", m)
	}
}

// ===== Abort Command Tests =====

func TestAbortReleaseBlockedDuringEStop(t *testing.T) {
	rig := startManual(t, nil)
	rig.io.digitalInputs[types.InputEStop] = true
	rig.tick(t, 1)

	if err := rig.c.AbortReleased(); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("Expected abort release rejected, got %v", err)
	}

	rig.io.digitalInputs[types.InputEStop] = false
	rig.tick(t, 1)
	if err := rig.c.AbortReleased(); err != nil {
		t.Fatalf("AbortReleased failed: %v", err)
	}

	s := rig.c.Snapshot()
	if s.Mode != types.ModeManual || s.State != types.StateIdle {
		t.Errorf("Expected manual/idle, got %s/%s", s.Mode, s.State)
	}
}

func TestAbortPressedMidCycle(t *testing.T) {
	rig := startAuto(t, nil)
	rig.tick(t, 211) // eject window, blow-off on
	if !rig.io.digitalOutputs[types.OutputEject] {
		t.Fatal("Expected eject asserted before abort")
	}

	if err := rig.c.AbortPressed(); err != nil {
		t.Fatalf("AbortPressed failed: %v", err)
	}

	// Outputs drop without waiting for the next tick
	if rig.io.anyOutput() {
		t.Errorf("Expected all outputs off, got %v", rig.io.digitalOutputs)
	}
	s := rig.c.Snapshot()
	if s.Mode != types.ModeAbort || s.State != types.StateIdle || s.CycleTimer != 0 {
		t.Errorf("Expected abort/idle/0, got %s/%s/%v", s.Mode, s.State, s.CycleTimer)
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	rig := startManual(t, nil)

	for i := 0; i < 3; i++ {
		if err := rig.c.AbortPressed(); err != nil {
			t.Fatalf("AbortPressed #%d failed: %v", i, err)
		}
		rig.tick(t, 1)
	}
	if m := rig.c.Snapshot().Mode; m != types.ModeAbort {
		t.Errorf("Expected abort, got %s", m)
	}
}

func TestAbortReleaseOutsideAbortRejected(t *testing.T) {
	rig := startManual(t, nil)
	if err := rig.c.AbortReleased(); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("Expected rejection in manual, got %v", err)
	}
}

// ===== Mode Command Tests =====

func TestStartRejectedOutsideManual(t *testing.T) {
	rig := startAuto(t, nil)
	if err := rig.c.StartPressed(); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("Expected start rejected in auto, got %v", err)
	}
}

func TestStartReleasedOnlyInAuto(t *testing.T) {
	rig := startManual(t, nil)
	if err := rig.c.StartReleased(); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("Expected start-released rejected in manual, got %v", err)
	}
}

func TestManualOutputsMirrorRequests(t *testing.T) {
	rig := startManual(t, nil)

	rig.c.SetManualClose(true)
	rig.tick(t, 1)
	if !rig.io.digitalOutputs[types.OutputMoldClose] || rig.io.digitalOutputs[types.OutputInject] {
		t.Errorf("Expected only mold_close on, got %v", rig.io.digitalOutputs)
	}

	rig.c.SetManualInject(true)
	rig.tick(t, 1)
	if !rig.io.digitalOutputs[types.OutputInject] {
		t.Error("Expected inject on")
	}

	rig.c.SetManualClose(false)
	rig.c.SetManualInject(false)
	rig.tick(t, 1)
	if rig.io.anyOutput() {
		t.Errorf("Expected all outputs off, got %v", rig.io.digitalOutputs)
	}
}

func TestManualRequestsRejectedInAuto(t *testing.T) {
	rig := startAuto(t, nil)
	if err := rig.c.SetManualInject(true); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("Expected rejection in auto, got %v", err)
	}
}

func TestEnteringAutoClearsManualRequests(t *testing.T) {
	rig := startManual(t, nil)
	rig.c.SetManualClose(true)
	rig.tick(t, 1)

	rig.c.StartPressed()
	rig.tick(t, 1)
	rig.c.AbortPressed()
	rig.tick(t, 1)
	if err := rig.c.AbortReleased(); err != nil {
		t.Fatalf("AbortReleased failed: %v", err)
	}
	rig.tick(t, 1)

	if rig.io.digitalOutputs[types.OutputMoldClose] {
		t.Error("Manual request should not survive an abort")
	}
}

// ===== Cycle Timeline Tests =====

func TestIdleToCloseResetsTimer(t *testing.T) {
	rig := startAuto(t, nil)

	s := rig.c.Snapshot()
	if s.State != types.StateClose || s.CycleTimer != 0 {
		t.Errorf("Expected close at 0, got %s at %v", s.State, s.CycleTimer)
	}
	if !s.CycleEnabled {
		t.Error("Expected cycle enabled")
	}
	if !rig.io.digitalOutputs[types.OutputMoldClose] || !rig.io.digitalOutputs[types.OutputInject] {
		t.Errorf("Expected mold_close and inject on, got %v", rig.io.digitalOutputs)
	}
}

func TestNormalEjectTimeline(t *testing.T) {
	rig := startAuto(t, nil)
	samples := rig.record(t, 300, inDetect)

	injectOff := firstSample(t, samples, 0, func(s types.Telemetry) bool { return !s.Outputs.Inject })
	if injectOff.CycleTimer != sec(10) || injectOff.State != types.StateCool {
		t.Errorf("Expected inject off at 10.0 in cool, got %v in %s", injectOff.CycleTimer, injectOff.State)
	}

	closeOff := firstSample(t, samples, 0, func(s types.Telemetry) bool { return !s.Outputs.MoldClose })
	if closeOff.CycleTimer != sec(20) || closeOff.State != types.StateOpen {
		t.Errorf("Expected mold_close off at 20.0 in open, got %v in %s", closeOff.CycleTimer, closeOff.State)
	}

	ejectOn := firstSample(t, samples, 0, func(s types.Telemetry) bool { return s.Outputs.Eject })
	if ejectOn.CycleTimer != sec(21) {
		t.Errorf("Expected eject on at 21.0, got %v", ejectOn.CycleTimer)
	}

	ejectOff := firstSample(t, samples, sec(21), func(s types.Telemetry) bool { return !s.Outputs.Eject })
	if ejectOff.CycleTimer != sec(21.2) {
		t.Errorf("Expected eject off at 21.2, got %v", ejectOff.CycleTimer)
	}

	last := samples[len(samples)-1]
	if last.CycleTimer != sec(21.4) {
		t.Errorf("Expected detect at 21.4, got %v", last.CycleTimer)
	}
	if last.PartCount != 1 || last.TotalCount != 1 {
		t.Errorf("Expected one part counted, got session=%d total=%d", last.PartCount, last.TotalCount)
	}
	if last.Outputs.Any() {
		t.Errorf("Expected outputs off in detect, got %+v", last.Outputs)
	}
}

func TestDoubleEjectTimeline(t *testing.T) {
	store := &mockStore{
		settings:      types.Settings{CycleTime: sec(20), InjectTime: sec(10), OpenDelay: sec(1), DoubleEject: true},
		settingsFound: true,
	}
	rig := startAuto(t, store)
	samples := rig.record(t, 300, inDetect)

	ejectOn := firstSample(t, samples, 0, func(s types.Telemetry) bool { return s.Outputs.Eject })
	if ejectOn.CycleTimer != sec(21) {
		t.Errorf("Expected eject on at 21.0, got %v", ejectOn.CycleTimer)
	}

	pump := firstSample(t, samples, sec(21), func(s types.Telemetry) bool { return !s.Outputs.Eject })
	if pump.CycleTimer != sec(21.7) {
		t.Errorf("Expected eject off at 21.7, got %v", pump.CycleTimer)
	}
	if !pump.Outputs.MoldClose {
		t.Error("Expected mold_close re-asserted with eject release")
	}

	release := firstSample(t, samples, sec(21.7), func(s types.Telemetry) bool { return !s.Outputs.MoldClose })
	if release.CycleTimer != sec(22.5) {
		t.Errorf("Expected mold_close off at 22.5, got %v", release.CycleTimer)
	}

	last := samples[len(samples)-1]
	if last.CycleTimer != sec(23) {
		t.Errorf("Expected detect at 23.0, got %v", last.CycleTimer)
	}
	if last.TotalCount != 1 {
		t.Errorf("Expected total count 1, got %d", last.TotalCount)
	}
}

func TestSettingsSnapshotAtCloseEntry(t *testing.T) {
	rig := startAuto(t, nil)
	rig.io.digitalInputs[types.InputPartDetect] = true

	rig.tick(t, 50)
	if err := rig.c.SetCycleTime(sec(30)); err != nil {
		t.Fatalf("SetCycleTime failed: %v", err)
	}

	samples := rig.record(t, 300, func(s types.Telemetry) bool { return s.PartCount == 1 })
	if got := samples[len(samples)-1].CycleTimer; got != sec(21) {
		t.Errorf("Running cycle should keep its thresholds, ejected at %v", got)
	}

	// Part held at the switch: the next cycle starts with the new time
	samples = rig.record(t, 400, func(s types.Telemetry) bool { return s.PartCount == 2 })
	if got := samples[len(samples)-1].CycleTimer; got != sec(31) {
		t.Errorf("Expected next cycle to eject at 31.0, got %v", got)
	}
}

func TestSettingsValidation(t *testing.T) {
	rig := startManual(t, nil)

	if err := rig.c.SetInjectTime(sec(25)); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("Expected inject time above cycle time rejected, got %v", err)
	}
	if err := rig.c.SetOpenDelay(-time.Second); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("Expected negative open delay rejected, got %v", err)
	}
	if err := rig.c.SetDoubleInject(true); err != nil {
		t.Errorf("SetDoubleInject failed: %v", err)
	}
	if !rig.c.Settings().DoubleInject {
		t.Error("Expected double inject stored")
	}
}

func TestSaveSettings(t *testing.T) {
	rig := startManual(t, nil)
	rig.c.SetDoubleEject(true)
	rig.c.SetCycleTime(sec(18))

	if err := rig.c.SaveSettings(); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	if !rig.store.settings.DoubleEject || rig.store.settings.CycleTime != sec(18) {
		t.Errorf("Unexpected stored settings %+v", rig.store.settings)
	}
}

// ===== Part Detect Latch Tests =====

func TestPartHeldLoopsImmediately(t *testing.T) {
	rig := startAuto(t, nil)
	rig.io.digitalInputs[types.InputPartDetect] = true

	rig.tick(t, 214)
	s := rig.c.Snapshot()
	if s.State != types.StateClose || s.CycleTimer != 0 {
		t.Errorf("Expected loop to close at 0, got %s at %v", s.State, s.CycleTimer)
	}
	if s.PartCount != 1 {
		t.Errorf("Expected one part, got %d", s.PartCount)
	}
	if !rig.io.digitalOutputs[types.OutputMoldClose] || !rig.io.digitalOutputs[types.OutputInject] {
		t.Error("Expected mold_close and inject re-asserted")
	}
}

func TestPartSeenBeforeOpenDoesNotCarryOver(t *testing.T) {
	rig := startAuto(t, nil)

	rig.tick(t, 150) // cooling
	rig.io.digitalInputs[types.InputPartDetect] = true
	rig.tick(t, 1)
	rig.io.digitalInputs[types.InputPartDetect] = false
	if !rig.c.Snapshot().PartLatched {
		t.Fatal("Expected latch set")
	}

	samples := rig.record(t, 100, inDetect)
	if samples[len(samples)-1].PartLatched {
		t.Error("Latch should be cleared at open")
	}

	rig.tick(t, 50)
	if s := rig.c.Snapshot(); s.State != types.StateDetect {
		t.Errorf("Expected to stay parked in detect, got %s", s.State)
	}
}

func TestPartSeenAfterOpenArmsNextCycle(t *testing.T) {
	rig := startAuto(t, nil)

	rig.tick(t, 211) // eject window
	rig.io.digitalInputs[types.InputPartDetect] = true
	rig.tick(t, 1)
	rig.io.digitalInputs[types.InputPartDetect] = false

	rig.tick(t, 2)
	s := rig.c.Snapshot()
	if s.State != types.StateClose || s.CycleTimer != 0 {
		t.Errorf("Expected loop to close at 0, got %s at %v", s.State, s.CycleTimer)
	}
}

func TestPartArrivingWhileParked(t *testing.T) {
	rig := startAuto(t, nil)
	rig.record(t, 300, inDetect)
	rig.tick(t, 20)

	rig.io.digitalInputs[types.InputPartDetect] = true
	rig.tick(t, 1)
	if s := rig.c.Snapshot(); s.State != types.StateClose {
		t.Errorf("Expected close once a part is seen, got %s", s.State)
	}
}

// ===== Auto Stop Tests =====

func TestAutoStopFinishesCycle(t *testing.T) {
	rig := startAuto(t, nil)
	rig.tick(t, 50)

	if err := rig.c.StartReleased(); err != nil {
		t.Fatalf("StartReleased failed: %v", err)
	}
	rig.io.digitalInputs[types.InputPartDetect] = true

	samples := rig.record(t, 300, func(s types.Telemetry) bool { return s.Mode != types.ModeAutoStop })
	last := samples[len(samples)-1]
	if last.Mode != types.ModeManual {
		t.Errorf("Expected manual after the cycle, got %s", last.Mode)
	}
	if last.State != types.StateDetect || last.CycleTimer != sec(21.4) {
		t.Errorf("Expected to stop at detect 21.4, got %s at %v", last.State, last.CycleTimer)
	}
	if last.PartCount != 1 {
		t.Errorf("Expected the running cycle to complete, got %d parts", last.PartCount)
	}
	for _, s := range samples[:len(samples)-1] {
		if s.Mode != types.ModeAutoStop {
			t.Fatalf("Mode changed before detect at %v: %s", s.CycleTimer, s.Mode)
		}
	}

	// Start is accepted again
	if err := rig.c.StartPressed(); err != nil {
		t.Errorf("StartPressed after auto-stop failed: %v", err)
	}
}

// ===== Counter Tests =====

func TestTotalCountPersistedAcrossRestart(t *testing.T) {
	store := &mockStore{total: 100}

	rig := startAuto(t, store)
	rig.io.digitalInputs[types.InputPartDetect] = true
	rig.record(t, 1000, func(s types.Telemetry) bool { return s.PartCount == 2 })
	rig.c.Shutdown()

	if store.total != 102 {
		t.Fatalf("Expected 102 persisted, got %d", store.total)
	}

	rig = startAuto(t, store)
	rig.io.digitalInputs[types.InputPartDetect] = true
	rig.record(t, 1000, func(s types.Telemetry) bool { return s.PartCount == 1 })

	if store.total != 103 {
		t.Errorf("Expected 103 persisted, got %d", store.total)
	}
	if got := rig.c.Snapshot().TotalCount; got != 103 {
		t.Errorf("Expected total 103, got %d", got)
	}
}

func TestCycleRecordPublished(t *testing.T) {
	rig := startAuto(t, nil)
	rig.record(t, 300, inDetect)

	if len(rig.redis.cycles) != 1 {
		t.Fatalf("Expected one cycle record, got %d", len(rig.redis.cycles))
	}
	rec := rig.redis.cycles[0]
	if rec.ID == "" || rec.TotalCount != 1 || rec.CycleTime != sec(20) {
		t.Errorf("Unexpected cycle record %+v", rec)
	}
}

func TestPersistenceFailureRetried(t *testing.T) {
	store := &mockStore{total: 7}
	rig := startAuto(t, store)
	store.saveErr = errors.New("disk full")

	rig.record(t, 300, func(s types.Telemetry) bool { return s.PartCount == 1 })

	s := rig.c.Snapshot()
	if s.TotalCount != 8 || !s.CountPending {
		t.Errorf("Expected count kept at 8 and pending, got %d pending=%v", s.TotalCount, s.CountPending)
	}
	if !contains(rig.redis.faultsPresent, types.FaultCountPersist) {
		t.Error("Expected count persistence fault")
	}

	rig.tick(t, 5)
	if store.total != 7 {
		t.Fatalf("Store should not have changed yet, has %d", store.total)
	}

	store.saveErr = nil
	rig.tick(t, 1)
	if store.total != 8 {
		t.Errorf("Expected 8 persisted on retry, got %d", store.total)
	}
	if rig.c.Snapshot().CountPending {
		t.Error("Expected pending cleared")
	}
	if !contains(rig.redis.faultsAbsent, types.FaultCountPersist) {
		t.Error("Expected count persistence fault cleared")
	}
}

// ===== Fault Tests =====

func TestCorruptModeHalts(t *testing.T) {
	rig := startManual(t, nil)
	rig.c.SetManualClose(true)
	rig.tick(t, 1)

	rig.c.mu.Lock()
	rig.c.mode = types.Mode("bogus")
	rig.c.mu.Unlock()

	if err := rig.c.Tick(); !errors.Is(err, ErrModeCorrupt) {
		t.Fatalf("Expected ErrModeCorrupt, got %v", err)
	}
	if rig.io.anyOutput() {
		t.Errorf("Expected all outputs off after halt, got %v", rig.io.digitalOutputs)
	}
	if !contains(rig.redis.faultsPresent, types.FaultModeCorrupt) {
		t.Error("Expected mode corrupt fault")
	}
	if !rig.c.Snapshot().Faulted {
		t.Error("Expected faulted telemetry")
	}

	if err := rig.c.Tick(); !errors.Is(err, ErrHalted) {
		t.Errorf("Expected ErrHalted, got %v", err)
	}
	if err := rig.c.AbortPressed(); !errors.Is(err, ErrHalted) {
		t.Errorf("Expected commands to fail after halt, got %v", err)
	}
}

func TestPowerLossFault(t *testing.T) {
	rig := startManual(t, nil)

	rig.io.digitalInputs[types.InputPowerLoss] = true
	rig.tick(t, 1)
	if !rig.c.Snapshot().PowerLoss || !contains(rig.redis.faultsPresent, types.FaultPowerLoss) {
		t.Error("Expected power loss reported")
	}

	rig.io.digitalInputs[types.InputPowerLoss] = false
	rig.tick(t, 1)
	if !contains(rig.redis.faultsAbsent, types.FaultPowerLoss) {
		t.Error("Expected power loss cleared")
	}
}

func TestPartDetectReadErrorIsNeutral(t *testing.T) {
	rig := startAuto(t, nil)
	rig.io.readErrors[types.InputPartDetect] = errors.New("line busy")

	rig.record(t, 300, inDetect)
	rig.tick(t, 10)
	if s := rig.c.Snapshot(); s.State != types.StateDetect || s.PartLatched {
		t.Errorf("Expected parked in detect without latch, got %s latch=%v", s.State, s.PartLatched)
	}
}

func TestTemperatureReading(t *testing.T) {
	rig := newTestRig(t, nil)
	therm := &mockThermometer{value: 212.5}
	rig.c.SetThermometer(therm)
	rig.start(t)

	rig.tick(t, 1)
	if got := rig.c.Snapshot().Temperature; got != 212.5 {
		t.Errorf("Expected 212.5, got %v", got)
	}

	therm.err = errors.New("no sensor")
	rig.tick(t, 10)
	if got := rig.c.Snapshot().Temperature; !math.IsNaN(got) {
		t.Errorf("Expected NaN when sensor fails, got %v", got)
	}
}

func TestShutdownClearsOutputs(t *testing.T) {
	rig := startAuto(t, nil)
	rig.c.Shutdown()

	if rig.io.anyOutput() {
		t.Errorf("Expected outputs off, got %v", rig.io.digitalOutputs)
	}
	if !rig.io.cleanedUp || !rig.redis.closed {
		t.Error("Expected hardware and Redis released")
	}
	if err := rig.c.Tick(); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
	if err := rig.c.StartPressed(); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}

// ===== Redis Handler Tests =====

func TestHandleCycleCommand(t *testing.T) {
	rig := startManual(t, nil)

	if err := rig.c.handleCycleCommand(messaging.CycleStart); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := rig.c.handleCycleCommand(messaging.CycleStop); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if m := rig.c.Snapshot().Mode; m != types.ModeAutoStop {
		t.Errorf("Expected auto-stop, got %s", m)
	}
	if err := rig.c.handleCycleCommand(messaging.CycleAbort); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if err := rig.c.handleCycleCommand(messaging.CycleAbortRelease); err != nil {
		t.Fatalf("abort-release failed: %v", err)
	}
	if m := rig.c.Snapshot().Mode; m != types.ModeManual {
		t.Errorf("Expected manual, got %s", m)
	}
	if err := rig.c.handleCycleCommand("pause"); err == nil {
		t.Error("Expected error for unknown command")
	}
}

func TestHandleManualCommand(t *testing.T) {
	rig := startManual(t, nil)

	if err := rig.c.handleManualCommand(messaging.ManualInject, true); err != nil {
		t.Fatalf("handleManualCommand failed: %v", err)
	}
	rig.tick(t, 1)
	if !rig.io.digitalOutputs[types.OutputInject] {
		t.Error("Expected inject on")
	}
}

func TestHandleSettingsCommand(t *testing.T) {
	rig := startManual(t, nil)

	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{messaging.SettingCycleTime, "22.5", false},
		{messaging.SettingInjectTime, "7", false},
		{messaging.SettingOpenDelay, "0.5", false},
		{messaging.SettingDoubleEject, "on", false},
		{messaging.SettingDoubleInject, "off", false},
		{messaging.SettingCycleTime, "abc", true},
		{messaging.SettingOpenDelay, "-1", true},
		{messaging.SettingDoubleEject, "maybe", true},
		{"heater", "on", true},
	}
	for _, tt := range tests {
		err := rig.c.handleSettingsCommand(tt.key, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("handleSettingsCommand(%s, %s): err=%v wantErr=%v", tt.key, tt.value, err, tt.wantErr)
		}
	}

	want := types.Settings{CycleTime: sec(22.5), InjectTime: sec(7), OpenDelay: sec(0.5), DoubleEject: true}
	if got := rig.c.Settings(); got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	if err := rig.c.handleSettingsCommand(messaging.SettingSave, ""); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if rig.store.settings != want {
		t.Errorf("Expected saved %+v, got %+v", want, rig.store.settings)
	}
}
