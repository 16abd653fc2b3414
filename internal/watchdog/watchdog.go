package watchdog

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"molder/internal/logger"
	"molder/internal/types"
)

// Notifier sends sd_notify messages. daemon.SdNotify in production.
type Notifier func(unsetEnvironment bool, state string) (bool, error)

// Watchdog reports readiness and liveness to systemd. Pets come from the
// tick scheduler, so a stalled tick loop lets systemd restart the service.
type Watchdog struct {
	notify   Notifier
	interval time.Duration
	logger   *logger.Logger

	mu      sync.Mutex
	lastPet time.Time
	now     func() time.Time
}

// New reads the watchdog interval from the environment. Without WATCHDOG_USEC
// the watchdog only sends READY and STOPPING.
func New(l *logger.Logger) *Watchdog {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		l.Warnf("Failed to read systemd watchdog settings: %v", err)
	}
	return newWatchdog(daemon.SdNotify, interval, l)
}

func newWatchdog(notify Notifier, interval time.Duration, l *logger.Logger) *Watchdog {
	return &Watchdog{
		notify:   notify,
		interval: interval,
		logger:   l.WithTag("systemd"),
		now:      time.Now,
	}
}

func (w *Watchdog) Ready() {
	w.send(daemon.SdNotifyReady)
	if w.interval > 0 {
		w.logger.Infof("Watchdog enabled, interval %v", w.interval)
	}
}

func (w *Watchdog) Stopping() {
	w.send(daemon.SdNotifyStopping)
}

// ObserveTick pets the watchdog at half its interval.
func (w *Watchdog) ObserveTick(_ types.Telemetry, _ types.TickInfo) {
	if w.interval <= 0 {
		return
	}

	w.mu.Lock()
	now := w.now()
	due := now.Sub(w.lastPet) >= w.interval/2
	if due {
		w.lastPet = now
	}
	w.mu.Unlock()

	if due {
		w.send(daemon.SdNotifyWatchdog)
	}
}

func (w *Watchdog) send(state string) {
	sent, err := w.notify(false, state)
	if err != nil {
		w.logger.Warnf("sd_notify %q failed: %v", state, err)
		return
	}
	if !sent {
		w.logger.Debugf("sd_notify %q not sent, not running under systemd", state)
	}
}
