package uart

import (
	"fmt"
	"slices"
)

// EntryType classifies a data set entry.
type EntryType uint8

const (
	TypeRxData EntryType = iota
	TypeTxData
	TypeRxEvent
	TypeTxEvent
	TypeEvent
)

var entryTypeNames = []string{"RX", "TX", "RX_EVENT", "TX_EVENT", "EVENT"}

func (t EntryType) String() string {
	if int(t) < len(entryTypeNames) {
		return entryTypeNames[t]
	}
	return fmt.Sprintf("EntryType(%d)", uint8(t))
}

// Entry is a decoded symbol, a protocol error or a control line change.
type Entry struct {
	Channel    int
	Start      int64
	End        int64
	StartIndex int
	EndIndex   int
	Type       EntryType
	Value      uint32
	// Event is the error kind for error entries and the event name, such
	// as CTS_HIGH, for control line entries.
	Event string
}

// IsEvent reports whether the entry is an error or control line event.
func (e Entry) IsEvent() bool { return e.Type != TypeRxData && e.Type != TypeTxData }

// LineStats counts what was decoded on one data line.
type LineStats struct {
	Channel      int
	Symbols      int
	FrameErrors  int
	ParityErrors int
	StartErrors  int
	BaudRate     int
	BitLength    float64
}

// Errors returns the total number of protocol errors.
func (s LineStats) Errors() int { return s.FrameErrors + s.ParityErrors + s.StartErrors }

// DataSet is the result of a serial decoder run.
type DataSet struct {
	StartIndex int
	EndIndex   int
	Entries    []Entry

	// BaudRate is the nominal rate and BitLength the bit length in ticks
	// used for the last decoded data line.
	BaudRate  int
	BitLength float64

	Lines map[Line]*LineStats

	annotations int
}

func newDataSet(start, end int) *DataSet {
	return &DataSet{StartIndex: start, EndIndex: end, Lines: make(map[Line]*LineStats)}
}

// AnnotationCount returns the number of annotations the run produced.
func (d *DataSet) AnnotationCount() int { return d.annotations }

// Stats returns the statistics of a data line.
func (d *DataSet) Stats(l Line) LineStats {
	if s, ok := d.Lines[l]; ok {
		return *s
	}
	return LineStats{Channel: -1}
}

// Symbols returns the decoded values of the data entries of a channel.
func (d *DataSet) Symbols(ch int) []uint32 {
	var out []uint32
	for _, e := range d.Entries {
		if e.Channel == ch && !e.IsEvent() {
			out = append(out, e.Value)
		}
	}
	return out
}

// Events returns the event entries of a channel.
func (d *DataSet) Events(ch int) []Entry {
	var out []Entry
	for _, e := range d.Entries {
		if e.Channel == ch && e.IsEvent() {
			out = append(out, e)
		}
	}
	return out
}

// Sort orders entries by start time; entries starting together keep the
// order they were reported in.
func (d *DataSet) Sort() {
	slices.SortStableFunc(d.Entries, func(a, b Entry) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
}
