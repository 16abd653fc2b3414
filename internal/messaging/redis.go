package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"molder/internal/logger"
	"molder/internal/types"

	"github.com/redis/go-redis/v9"
)

// Command list keys
const (
	KeyCycle    = "molder:cycle"
	KeyManual   = "molder:manual"
	KeySettings = "molder:settings"
)

// Published keys
const (
	HashMolder    = "molder"
	ChannelMolder = "molder"
	SetFaults     = "molder:fault"
	StreamFaults  = "events:faults"
	StreamCycles  = "events:cycles"

	FieldTotalCount = "total-count"
)

// molder:cycle values
const (
	CycleStart        = "start"
	CycleStop         = "stop"
	CycleAbort        = "abort"
	CycleAbortRelease = "abort-release"
)

// molder:manual outputs
const (
	ManualClose  = "close"
	ManualInject = "inject"
)

// molder:settings keys
const (
	SettingDoubleEject  = "double-eject"
	SettingDoubleInject = "double-inject"
	SettingCycleTime    = "cycle-time"
	SettingInjectTime   = "inject-time"
	SettingOpenDelay    = "open-delay"
	SettingSave         = "save"
)

// ErrQueueFull is returned when the publish worker is too far behind.
var ErrQueueFull = errors.New("publish queue full")

const queueSize = 64

type Callbacks struct {
	CycleCallback    func(string) error         // "start", "stop", "abort", "abort-release"
	ManualCallback   func(string, bool) error   // "close" or "inject", true for "on"
	SettingsCallback func(string, string) error // setting key and value ("" for save)
}

type RedisClient struct {
	client    *redis.Client
	callbacks Callbacks
	logger    *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	jobs chan func() error

	// Latest telemetry waiting for the worker; older ones are replaced.
	telemetryMu     sync.Mutex
	telemetry       *types.Telemetry
	telemetrySignal chan struct{}
	lastFields      map[string]interface{}

	workerOnce sync.Once
}

func NewRedisClient(host string, port int, l *logger.Logger) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", host, port),
			DB:   0,
		}),
		logger:          l.WithTag("redis"),
		ctx:             ctx,
		cancel:          cancel,
		jobs:            make(chan func() error, queueSize),
		telemetrySignal: make(chan struct{}, 1),
	}
}

func (r *RedisClient) SetCallbacks(callbacks Callbacks) {
	r.callbacks = callbacks
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		r.logger.Infof("Redis connection failed: %v", err)
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")

	r.workerOnce.Do(func() {
		r.wg.Add(1)
		go r.publishWorker()
	})
	return nil
}

// StartListening starts the command list listeners
func (r *RedisClient) StartListening() error {
	r.logger.Infof("Starting Redis listeners")

	r.wg.Add(3)
	go r.listCommandListener(KeyCycle, r.handleCycleCommand)
	go r.listCommandListener(KeyManual, r.handleManualCommand)
	go r.listCommandListener(KeySettings, r.handleSettingsCommand)

	return nil
}

func (r *RedisClient) listCommandListener(key string, handler func(string) error) {
	defer r.wg.Done()
	r.logger.Infof("Starting list command listener for %s", key)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting %s listener", key)
			return
		default:
			// Use BRPOP with a short timeout to allow periodic context cancellation checks
			result, err := r.client.BRPop(r.ctx, 5*time.Second, key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if errors.Is(err, context.Canceled) {
					r.logger.Infof("Context cancelled, exiting %s listener", key)
					return
				}
				r.logger.Warnf("Error reading from %s list: %v", key, err)
				// Avoid spinning while Redis is unreachable
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			if len(result) >= 2 { // BRPOP returns [key, value]
				value := result[1]
				r.logger.Debugf("Received command from %s: %s", key, value)
				if err := handler(value); err != nil {
					r.logger.Warnf("Error handling %s command %q: %v", key, value, err)
				}
			}
		}
	}
}

func (r *RedisClient) handleCycleCommand(value string) error {
	if r.callbacks.CycleCallback == nil {
		return nil
	}
	switch value {
	case CycleStart, CycleStop, CycleAbort, CycleAbortRelease:
		return r.callbacks.CycleCallback(value)
	default:
		return fmt.Errorf("invalid cycle command: %s", value)
	}
}

func (r *RedisClient) handleManualCommand(value string) error {
	if r.callbacks.ManualCallback == nil {
		return nil
	}
	output, on, err := ParseManualCommand(value)
	if err != nil {
		return err
	}
	return r.callbacks.ManualCallback(output, on)
}

func (r *RedisClient) handleSettingsCommand(value string) error {
	if r.callbacks.SettingsCallback == nil {
		return nil
	}
	key, arg, err := ParseSettingsCommand(value)
	if err != nil {
		return err
	}
	return r.callbacks.SettingsCallback(key, arg)
}

// ParseManualCommand parses "<output>:on|off".
func ParseManualCommand(value string) (string, bool, error) {
	output, state, ok := strings.Cut(value, ":")
	if !ok {
		return "", false, fmt.Errorf("invalid manual command: %s", value)
	}
	switch output {
	case ManualClose, ManualInject:
	default:
		return "", false, fmt.Errorf("invalid manual output: %s", output)
	}
	switch state {
	case "on":
		return output, true, nil
	case "off":
		return output, false, nil
	}
	return "", false, fmt.Errorf("invalid manual command value: %s", value)
}

// ParseSettingsCommand splits "<key>:<value>" and checks the key. "save"
// takes no value.
func ParseSettingsCommand(value string) (string, string, error) {
	if value == SettingSave {
		return SettingSave, "", nil
	}
	key, arg, ok := strings.Cut(value, ":")
	if !ok || arg == "" {
		return "", "", fmt.Errorf("invalid settings command: %s", value)
	}
	switch key {
	case SettingDoubleEject, SettingDoubleInject:
		if arg != "on" && arg != "off" {
			return "", "", fmt.Errorf("invalid %s value: %s", key, arg)
		}
	case SettingCycleTime, SettingInjectTime, SettingOpenDelay:
	default:
		return "", "", fmt.Errorf("unknown setting: %s", key)
	}
	return key, arg, nil
}

// GetTotalCount reads the total count mirror. A missing field reads as 0.
func (r *RedisClient) GetTotalCount() (uint64, error) {
	value, err := r.client.HGet(r.ctx, HashMolder, FieldTotalCount).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid total count mirror %q: %w", value, err)
	}
	return count, nil
}

// enqueue hands work to the publish worker without blocking.
func (r *RedisClient) enqueue(job func() error) error {
	select {
	case r.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// PublishTelemetry queues t for the molder hash. Only the latest snapshot
// is kept while the worker is busy.
func (r *RedisClient) PublishTelemetry(t types.Telemetry) {
	r.telemetryMu.Lock()
	r.telemetry = &t
	r.telemetryMu.Unlock()

	select {
	case r.telemetrySignal <- struct{}{}:
	default:
	}
}

// ObserveTick publishes the telemetry of every tick.
func (r *RedisClient) ObserveTick(t types.Telemetry, _ types.TickInfo) {
	r.PublishTelemetry(t)
}

func (r *RedisClient) PublishCycleCompleted(rec types.CycleRecord) error {
	return r.enqueue(func() error {
		pipe := r.client.Pipeline()
		pipe.XAdd(r.ctx, &redis.XAddArgs{
			Stream: StreamCycles,
			MaxLen: 1000,
			Approx: true,
			Values: CycleRecordValues(rec),
		})
		pipe.Publish(r.ctx, ChannelMolder, "cycle")
		_, err := pipe.Exec(r.ctx)
		if err != nil {
			return fmt.Errorf("publish cycle %s: %w", rec.ID, err)
		}
		return nil
	})
}

// ReportFaultPresent reports a fault to Redis
func (r *RedisClient) ReportFaultPresent(code int, description string) error {
	r.logger.Infof("Reporting fault present: code=%d, description=%s", code, description)
	ts := time.Now().Unix()

	return r.enqueue(func() error {
		pipe := r.client.Pipeline()

		pipe.SAdd(r.ctx, SetFaults, code)
		pipe.XAdd(r.ctx, &redis.XAddArgs{
			Stream: StreamFaults,
			MaxLen: 1000,
			Values: map[string]interface{}{
				"group":       "molder",
				"code":        code,
				"description": description,
				"ts":          ts,
			},
		})
		pipe.Publish(r.ctx, ChannelMolder, "fault")

		if _, err := pipe.Exec(r.ctx); err != nil {
			return fmt.Errorf("report fault %d present: %w", code, err)
		}
		return nil
	})
}

// ReportFaultAbsent clears a fault in Redis
func (r *RedisClient) ReportFaultAbsent(code int) error {
	r.logger.Infof("Reporting fault absent: code=%d", code)

	return r.enqueue(func() error {
		pipe := r.client.Pipeline()

		pipe.SRem(r.ctx, SetFaults, code)
		// Negative code indicates fault cleared
		pipe.XAdd(r.ctx, &redis.XAddArgs{
			Stream: StreamFaults,
			MaxLen: 1000,
			Values: map[string]interface{}{
				"group": "molder",
				"code":  -code,
			},
		})
		pipe.Publish(r.ctx, ChannelMolder, "fault")

		if _, err := pipe.Exec(r.ctx); err != nil {
			return fmt.Errorf("report fault %d absent: %w", code, err)
		}
		return nil
	})
}

func (r *RedisClient) publishWorker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case job := <-r.jobs:
			if err := job(); err != nil {
				r.logger.Warnf("Publish failed: %v", err)
			}
		case <-r.telemetrySignal:
			r.telemetryMu.Lock()
			t := r.telemetry
			r.telemetry = nil
			r.telemetryMu.Unlock()
			if t == nil {
				continue
			}
			if err := r.writeTelemetry(*t); err != nil {
				r.logger.Debugf("Failed to publish telemetry: %v", err)
			}
		}
	}
}

// writeTelemetry updates the molder hash when any field changed and
// notifies subscribers.
func (r *RedisClient) writeTelemetry(t types.Telemetry) error {
	fields := TelemetryFields(t)
	if sameFields(fields, r.lastFields) {
		return nil
	}

	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, HashMolder, fields)
	pipe.Publish(r.ctx, ChannelMolder, "telemetry")
	if _, err := pipe.Exec(r.ctx); err != nil {
		return err
	}
	r.lastFields = fields
	return nil
}

// TelemetryFields renders t as molder hash fields.
func TelemetryFields(t types.Telemetry) map[string]interface{} {
	temperature := ""
	if t.TemperatureAvailable() {
		temperature = strconv.FormatFloat(t.Temperature, 'f', 1, 64)
	}

	var outputs []string
	if t.Outputs.MoldClose {
		outputs = append(outputs, types.OutputMoldClose)
	}
	if t.Outputs.Inject {
		outputs = append(outputs, types.OutputInject)
	}
	if t.Outputs.Eject {
		outputs = append(outputs, types.OutputEject)
	}
	if t.Outputs.Heater {
		outputs = append(outputs, types.OutputHeater)
	}

	return map[string]interface{}{
		"mode":          string(t.Mode),
		"previous-mode": string(t.PreviousMode),
		"state":         string(t.State),
		"timer":         strconv.FormatFloat(t.CycleTimer.Seconds(), 'f', 1, 64),
		"part-count":    strconv.FormatUint(t.PartCount, 10),
		FieldTotalCount: strconv.FormatUint(t.TotalCount, 10),
		"cycle-enabled": strconv.FormatBool(t.CycleEnabled),
		"part-latch":    strconv.FormatBool(t.PartLatched),
		"part-detect":   strconv.FormatBool(t.PartDetect),
		"estop":         strconv.FormatBool(t.EStop),
		"power-loss":    strconv.FormatBool(t.PowerLoss),
		"faulted":       strconv.FormatBool(t.Faulted),
		"count-pending": strconv.FormatBool(t.CountPending),
		"temperature":   temperature,
		"outputs":       strings.Join(outputs, ","),
	}
}

// CycleRecordValues renders rec as stream entry values.
func CycleRecordValues(rec types.CycleRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":           rec.ID,
		"part-count":   rec.PartCount,
		"total-count":  rec.TotalCount,
		"cycle-time":   rec.CycleTime.Seconds(),
		"inject-time":  rec.InjectTime.Seconds(),
		"open-delay":   rec.OpenDelay.Seconds(),
		"double-eject": strconv.FormatBool(rec.DoubleEject),
		"ts":           rec.EjectedAt.Unix(),
	}
}

func sameFields(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func (r *RedisClient) Close() error {
	r.logger.Infof("Closing Redis client")
	r.cancel()

	// Wait for all goroutines to finish with a timeout
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Infof("All Redis goroutines finished")
	case <-time.After(5 * time.Second):
		r.logger.Infof("Timeout waiting for Redis goroutines to finish")
	}

	return r.client.Close()
}
