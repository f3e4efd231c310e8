package annotation

import (
	"slices"
	"sort"
	"sync"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/bus"
)

// Added is published for every annotation accepted by a Sink.
type Added struct {
	Annotation Annotation
}

// Cleared is published when annotations are removed. All is set for ClearAll.
type Cleared struct {
	Channel int
	All     bool
}

var (
	TopicAdded   = bus.NewTopic[Added]("annotation.added")
	TopicCleared = bus.NewTopic[Cleared]("annotation.cleared")
)

// Sink collects annotations: one time-ordered queue per channel, a label per
// channel and one global queue for metadata. It is safe for concurrent use;
// each channel is expected to have a single writer.
type Sink struct {
	mu       sync.RWMutex
	channels map[int][]Annotation
	labels   map[int]string
	meta     []Annotation
	bus      *bus.Bus
}

// NewSink returns an empty sink publishing changes on b (which may be nil).
func NewSink(b *bus.Bus) *Sink {
	return &Sink{
		channels: make(map[int][]Annotation),
		labels:   make(map[int]string),
		bus:      b,
	}
}

// Add stores a. Channel queues stay ordered by start time; annotations with
// equal start times keep their insertion order.
func (s *Sink) Add(a Annotation) {
	s.mu.Lock()
	switch a.Kind {
	case KindLabel:
		s.labels[a.Channel] = a.Text
	case KindMetadata:
		s.meta = append(s.meta, a)
	default:
		q := s.channels[a.Channel]
		i := sort.Search(len(q), func(i int) bool { return q[i].Start > a.Start })
		s.channels[a.Channel] = slices.Insert(q, i, a)
	}
	s.mu.Unlock()

	bus.Publish(s.bus, TopicAdded, Added{Annotation: a})
}

// Clear removes every annotation, label and metadata entry of a channel.
// Clearing an empty channel does nothing.
func (s *Sink) Clear(channel int) {
	s.mu.Lock()
	_, hadQueue := s.channels[channel]
	_, hadLabel := s.labels[channel]
	delete(s.channels, channel)
	delete(s.labels, channel)
	n := len(s.meta)
	s.meta = slices.DeleteFunc(s.meta, func(a Annotation) bool { return a.Channel == channel })
	changed := hadQueue || hadLabel || n != len(s.meta)
	s.mu.Unlock()

	if changed {
		bus.Publish(s.bus, TopicCleared, Cleared{Channel: channel})
	}
}

// ClearAll empties the sink. An already empty sink publishes nothing.
func (s *Sink) ClearAll() {
	s.mu.Lock()
	changed := len(s.channels) > 0 || len(s.labels) > 0 || len(s.meta) > 0
	s.channels = make(map[int][]Annotation)
	s.labels = make(map[int]string)
	s.meta = nil
	s.mu.Unlock()

	if changed {
		bus.Publish(s.bus, TopicCleared, Cleared{Channel: -1, All: true})
	}
}

// Channel returns a snapshot of a channel's annotations in time order.
func (s *Sink) Channel(channel int) []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.channels[channel])
}

// Label returns the label set for a channel.
func (s *Sink) Label(channel int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.labels[channel]
	return l, ok
}

// Metadata returns a snapshot of the metadata queue in insertion order.
func (s *Sink) Metadata() []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.meta)
}

// Channels lists the channels that hold annotations, ascending.
func (s *Sink) Channels() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// Len counts the channel annotations (labels and metadata excluded).
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, q := range s.channels {
		n += len(q)
	}
	return n
}

// Ordered merges all channel queues by start time. The sort is stable, so
// ties resolve by channel index and then by insertion order.
func (s *Sink) Ordered() []Annotation {
	var out []Annotation
	for _, ch := range s.Channels() {
		out = append(out, s.Channel(ch)...)
	}
	slices.SortStableFunc(out, func(a, b Annotation) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	return out
}

// Records exports the sink in channel order: labels, then each channel's
// annotations in time order, then metadata.
func (s *Sink) Records() []Record {
	s.mu.RLock()
	labels := make([]int, 0, len(s.labels))
	for ch := range s.labels {
		labels = append(labels, ch)
	}
	s.mu.RUnlock()
	slices.Sort(labels)

	var out []Record
	for _, ch := range labels {
		if l, ok := s.Label(ch); ok {
			out = append(out, Label(ch, l).Record())
		}
	}
	for _, ch := range s.Channels() {
		for _, a := range s.Channel(ch) {
			out = append(out, a.Record())
		}
	}
	for _, a := range s.Metadata() {
		out = append(out, a.Record())
	}
	return out
}
