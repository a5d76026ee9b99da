package netlog

import (
	"errors"

	"firestige.xyz/sandtrace/internal/log"
)

// Sink receives decoded events.
type Sink interface {
	OnProcess(ev ProcessEvent) error
	OnThread(ev ThreadEvent) error
	OnCall(ev CallEvent) error
}

// Dispatch hands ev to the matching Sink callback.
func Dispatch(s Sink, ev Event) error {
	switch e := ev.(type) {
	case ProcessEvent:
		return s.OnProcess(e)
	case ThreadEvent:
		return s.OnThread(e)
	case CallEvent:
		return s.OnCall(e)
	default:
		return errors.New("netlog: unknown event type")
	}
}

// MultiSink fans every event out to all of its sinks. Every sink is called
// even when an earlier one fails; the errors are joined.
type MultiSink []Sink

func (m MultiSink) OnProcess(ev ProcessEvent) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.OnProcess(ev))
	}
	return errors.Join(errs...)
}

func (m MultiSink) OnThread(ev ThreadEvent) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.OnThread(ev))
	}
	return errors.Join(errs...)
}

func (m MultiSink) OnCall(ev CallEvent) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.OnCall(ev))
	}
	return errors.Join(errs...)
}

// LogSink writes each event to a logger at debug level.
type LogSink struct {
	Logger log.Logger
}

func (s LogSink) OnProcess(ev ProcessEvent) error {
	s.Logger.WithFields(map[string]interface{}{
		"pid":     ev.PID,
		"ppid":    ev.ParentPID,
		"process": ev.ProcessName,
	}).Debug("process started")
	return nil
}

func (s LogSink) OnThread(ev ThreadEvent) error {
	s.Logger.WithFields(map[string]interface{}{
		"pid": ev.PID,
		"tid": ev.Header.ThreadID,
	}).Debug("thread started")
	return nil
}

func (s LogSink) OnCall(ev CallEvent) error {
	s.Logger.WithFields(map[string]interface{}{
		"api":    ev.APIName,
		"module": ev.ModuleName,
		"tid":    ev.Header.ThreadID,
		"args":   len(ev.Arguments),
	}).Debug("api call")
	return nil
}
