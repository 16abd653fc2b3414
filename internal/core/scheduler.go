package core

import (
	"context"
	"errors"
	"time"

	"molder/internal/logger"
	"molder/internal/types"
)

// Observer is notified after every tick with the controller telemetry.
type Observer interface {
	ObserveTick(t types.Telemetry, info types.TickInfo)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(t types.Telemetry, info types.TickInfo)

func (f ObserverFunc) ObserveTick(t types.Telemetry, info types.TickInfo) { f(t, info) }

// Scheduler drives the controller at a fixed period.
type Scheduler struct {
	controller *Controller
	period     time.Duration
	logger     *logger.Logger
	observers  []Observer
	overruns   uint64
	now        func() time.Time
}

func NewScheduler(c *Controller, period time.Duration, l *logger.Logger) *Scheduler {
	return &Scheduler{
		controller: c,
		period:     period,
		logger:     l.WithTag("tick"),
		now:        time.Now,
	}
}

func (s *Scheduler) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Run ticks until ctx is cancelled. It returns the error that halted the
// controller, or nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Infof("Tick scheduler running every %v", s.period)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("Tick scheduler stopped")
			return nil
		case <-ticker.C:
			if err := s.Step(); err != nil {
				return err
			}
		}
	}
}

// Step runs one tick and notifies the observers. Only fatal controller
// errors are returned.
func (s *Scheduler) Step() error {
	start := s.now()
	err := s.controller.Tick()
	elapsed := s.now().Sub(start)

	if err != nil {
		if errors.Is(err, ErrModeCorrupt) || errors.Is(err, ErrHalted) || errors.Is(err, ErrStopped) {
			s.logger.Errorf("Controller halted: %v", err)
			return err
		}
		s.logger.Warnf("Tick error: %v", err)
	}

	info := types.TickInfo{Elapsed: elapsed, Overrun: elapsed > s.period}
	if info.Overrun {
		s.overruns++
		s.logger.Warnf("Tick overrun: %v > %v (%d total)", elapsed, s.period, s.overruns)
	}

	t := s.controller.Snapshot()
	for _, o := range s.observers {
		o.ObserveTick(t, info)
	}
	return nil
}

func (s *Scheduler) Overruns() uint64 {
	return s.overruns
}
