// Package queueproxy provides Proxy, which sits between a job queue and any
// number of listeners that come and go. The queue notifies the proxy, and the
// proxy fans every notification out to its currently attached listeners.
//
// The proxy also keeps a bounded history of recent events which it replays to
// each newly attached listener, so that a listener attached to a running queue
// sees recent activity without waiting for new jobs.
package queueproxy

import (
	"context"
	"errors"
	"sync"

	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/internal/baseservice"
	"github.com/riverqueue/riverconsole/internal/util/valutil"
)

// HistorySizeDefault is the default number of events retained for replay.
const HistorySizeDefault = 10_000

// HistoryDisabled can be set as Config.HistorySize to disable replay.
const HistoryDisabled = -1

// Config is configuration for Proxy.
type Config struct {
	// HistorySize is the maximum number of events retained for replay to newly
	// attached listeners. Once full, the oldest events are dropped first.
	//
	// Defaults to HistorySizeDefault. Set to HistoryDisabled to disable
	// replay.
	HistorySize int
}

func (c *Config) validate() error {
	if c.HistorySize < HistoryDisabled {
		return errors.New("HistorySize cannot be less than -1")
	}

	return nil
}

type eventKind int

const (
	eventKindEnlisted eventKind = iota
	eventKindStarted
	eventKindCompleted
)

type queueEvent struct {
	info    *consoletype.JobInfo
	kind    eventKind
	outcome *consoletype.JobOutcome
}

func (e *queueEvent) deliverTo(listener consoletype.QueueListener) {
	switch e.kind {
	case eventKindEnlisted:
		listener.OnEnlisted(e.info)
	case eventKindStarted:
		listener.OnStarted(e.info)
	case eventKindCompleted:
		listener.OnCompleted(e.info, e.outcome)
	}
}

// Proxy is both a QueueListener, to be notified by a queue, and a
// QueueEventSource, to which listeners are attached.
//
// Listeners are notified synchronously on the goroutine notifying the proxy.
// Replay happens on the goroutine attaching the listener, and it's atomic with
// respect to live events: an attached listener receives every event recorded
// in history at the moment it was attached plus every event after, with none
// duplicated or lost.
//
// A listener must not attach or remove listeners from within a notification,
// which would deadlock.
type Proxy struct {
	baseservice.BaseService

	config *Config

	historyMu sync.Mutex // protects history fields
	history   *eventRing

	mu           sync.RWMutex // protects listener fields; held for read while delivering
	listeners    map[int]consoletype.QueueListener
	listenersSeq int // used for generating simple IDs
}

// New returns a new proxy. A nil config uses defaults.
func New(archetype *baseservice.Archetype, config *Config) (*Proxy, error) {
	if config == nil {
		config = &Config{}
	}

	config = &Config{
		HistorySize: valutil.ValOrDefault(config.HistorySize, HistorySizeDefault),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return baseservice.Init(archetype, &Proxy{
		config:    config,
		history:   newEventRing(max(config.HistorySize, 0)),
		listeners: make(map[int]consoletype.QueueListener),
	}), nil
}

func (p *Proxy) OnEnlisted(info *consoletype.JobInfo) {
	p.dispatch(&queueEvent{info: info, kind: eventKindEnlisted})
}

func (p *Proxy) OnStarted(info *consoletype.JobInfo) {
	p.dispatch(&queueEvent{info: info, kind: eventKindStarted})
}

func (p *Proxy) OnCompleted(info *consoletype.JobInfo, outcome *consoletype.JobOutcome) {
	p.dispatch(&queueEvent{info: info, kind: eventKindCompleted, outcome: outcome})
}

// AddQueueListener attaches a listener, replaying history to it before it
// starts receiving live events. The returned function removes it again. It's
// safe to invoke more than once, and once it returns the listener won't
// receive any further notifications.
func (p *Proxy) AddQueueListener(listener consoletype.QueueListener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	// With the write lock held no event is being dispatched, so history is
	// exactly the set of events the listener would otherwise miss.
	p.historyMu.Lock()
	history := p.history.all()
	p.historyMu.Unlock()

	for _, event := range history {
		event.deliverTo(listener)
	}

	// Just gives us an easy way of removing the listener again later.
	listenerID := p.listenersSeq
	p.listenersSeq++

	p.listeners[listenerID] = listener

	p.Logger.DebugContext(context.Background(), p.Name+": Listener added",
		"num_listeners", len(p.listeners), "num_replayed", len(history))

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if _, ok := p.listeners[listenerID]; !ok {
			return
		}

		delete(p.listeners, listenerID)

		p.Logger.DebugContext(context.Background(), p.Name+": Listener removed",
			"num_listeners", len(p.listeners))
	}
}

// NumListeners returns the number of currently attached listeners.
func (p *Proxy) NumListeners() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.listeners)
}

// NumHistory returns the number of events currently retained for replay.
func (p *Proxy) NumHistory() int {
	p.historyMu.Lock()
	defer p.historyMu.Unlock()

	return p.history.len()
}

func (p *Proxy) dispatch(event *queueEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	p.historyMu.Lock()
	p.history.push(event)
	p.historyMu.Unlock()

	for _, listener := range p.listeners {
		event.deliverTo(listener)
	}
}
