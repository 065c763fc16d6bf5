// Package events carries item progress notifications from the ingest and
// enrichment paths to connected clients.
package events

import (
	"sync/atomic"
)

type EventType string

const (
	NewItem            EventType = "new-item"
	ProcessingStart    EventType = "processing-start"
	ProcessingUpdate   EventType = "processing-update"
	ProcessingComplete EventType = "processing-complete"
)

// AllTypes lists every event type in publish order.
var AllTypes = []EventType{NewItem, ProcessingStart, ProcessingUpdate, ProcessingComplete}

func ParseType(s string) (EventType, bool) {
	for _, t := range AllTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

type Event struct {
	Type     EventType `json:"-"`
	ID       string    `json:"id"`
	UserID   string    `json:"-"`
	ItemType string    `json:"itemType,omitempty"`
	Message  string    `json:"message,omitempty"`
	Success  *bool     `json:"success,omitempty"`
}

func NewItemEvent(userID, id string) Event {
	return Event{Type: NewItem, ID: id, UserID: userID}
}

func StartEvent(userID, id, itemType string) Event {
	return Event{Type: ProcessingStart, ID: id, UserID: userID, ItemType: itemType}
}

func UpdateEvent(userID, id, message string) Event {
	return Event{Type: ProcessingUpdate, ID: id, UserID: userID, Message: message}
}

func CompleteEvent(userID, id string, success bool, message string) Event {
	return Event{Type: ProcessingComplete, ID: id, UserID: userID, Success: &success, Message: message}
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(Event)
}

// Subscription receives the events it was created for on C.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	types map[EventType]struct{}
}

func (s *Subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus fans published events out to subscribers.
//
// A single loop goroutine owns the subscriber set. Each subscriber has its own
// buffer; when it is full the oldest pending event is dropped so a slow reader
// never holds up a publisher.
type Bus struct {
	bufSize int

	subscribeCh   chan *Subscription
	unsubscribeCh chan *Subscription
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	b := &Bus{
		bufSize:       bufSize,
		subscribeCh:   make(chan *Subscription),
		unsubscribeCh: make(chan *Subscription),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	defer close(b.stopped)

	subs := make(map[*Subscription]struct{})

	deliver := func(s *Subscription, e Event) {
		for {
			select {
			case s.ch <- e:
				return
			default:
			}
			select {
			case <-s.ch:
			default:
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for s := range subs {
				close(s.ch)
			}
			return

		case s := <-b.subscribeCh:
			subs[s] = struct{}{}

		case s := <-b.unsubscribeCh:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.ch)
			}

		case e := <-b.publishCh:
			for s := range subs {
				if s.wants(e.Type) {
					deliver(s, e)
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(subs)
		}
	}
}

// Close stops the loop and closes every subscription channel.
func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers interest in the given types, or in all types when none
// are given.
func (b *Bus) Subscribe(types ...EventType) *Subscription {
	ch := make(chan Event, b.bufSize)
	s := &Subscription{C: ch, ch: ch, types: make(map[EventType]struct{}, len(types))}
	for _, t := range types {
		s.types[t] = struct{}{}
	}
	if b.closed.Load() {
		close(ch)
		return s
	}

	select {
	case b.subscribeCh <- s:
	case <-b.stopped:
		close(ch)
	}
	return s
}

func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil || b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- s:
	case <-b.stopped:
	}
}

func (b *Bus) SubscriberCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish hands e to the loop. It is a no-op once the bus is closed.
func (b *Bus) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- e:
	case <-b.stopped:
	}
}
