package annotation

import (
	"encoding/json"
	"testing"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/bus"
)

func TestSinkOrdersByStartWithStableTies(t *testing.T) {
	s := NewSink(nil)
	s.Add(Symbol(0, 30, 40, 3, nil))
	s.Add(Symbol(0, 10, 20, 1, nil))
	s.Add(Symbol(0, 10, 25, 2, nil))
	s.Add(Symbol(0, 20, 30, 4, nil))

	got := s.Channel(0)
	want := []int64{1, 2, 4, 3}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Value != w {
			t.Fatalf("Channel(0)[%d].Value = %d, want %d", i, got[i].Value, w)
		}
	}
}

func TestSinkSeparatesLabelsAndMetadata(t *testing.T) {
	s := NewSink(nil)
	s.Add(Label(1, "RxD"))
	s.Add(Label(1, "TxD"))
	s.Add(Metadata(1, "baud", map[string]any{"baudrate": 9600}))
	s.Add(Error(1, 5, 6, ErrorFrame, nil))

	if l, ok := s.Label(1); !ok || l != "TxD" {
		t.Fatalf("Label(1) = %q, %v, want TxD, true", l, ok)
	}
	if n := len(s.Metadata()); n != 1 {
		t.Fatalf("len(Metadata) = %d, want 1", n)
	}
	if n := s.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

func TestSinkClearIsIdempotent(t *testing.T) {
	b := bus.New()
	var cleared []Cleared
	bus.Subscribe(b, TopicCleared, func(c Cleared) { cleared = append(cleared, c) })

	s := NewSink(b)
	s.Add(Symbol(2, 0, 10, 0x41, nil))
	s.Add(Symbol(3, 0, 10, 0x42, nil))

	s.Clear(2)
	s.Clear(2)

	if n := len(s.Channel(2)); n != 0 {
		t.Fatalf("len(Channel(2)) = %d, want 0", n)
	}
	if n := len(s.Channel(3)); n != 1 {
		t.Fatalf("len(Channel(3)) = %d, want 1", n)
	}
	if len(cleared) != 1 || cleared[0].Channel != 2 {
		t.Fatalf("cleared events = %+v, want one for channel 2", cleared)
	}

	s.ClearAll()
	s.ClearAll()
	if s.Len() != 0 || len(s.Metadata()) != 0 {
		t.Fatalf("ClearAll left %d annotations", s.Len())
	}
	if len(cleared) != 2 || !cleared[1].All || cleared[1].Channel != -1 {
		t.Fatalf("cleared events = %+v, want one more for ClearAll", cleared)
	}

	// an empty sink stays silent
	s = NewSink(b)
	s.ClearAll()
	if len(cleared) != 2 {
		t.Fatalf("cleared events = %+v after clearing an empty sink", cleared)
	}
}

func TestSinkOrderedMergesChannels(t *testing.T) {
	s := NewSink(nil)
	s.Add(Symbol(1, 5, 9, 'b', nil))
	s.Add(Symbol(0, 0, 4, 'a', nil))
	s.Add(Symbol(0, 5, 9, 'c', nil))
	s.Add(Symbol(1, 10, 14, 'd', nil))

	var got []byte
	for _, a := range s.Ordered() {
		got = append(got, byte(a.Value))
	}
	if string(got) != "acbd" {
		t.Fatalf("Ordered = %q, want %q", got, "acbd")
	}
}

func TestSinkPublishesAdded(t *testing.T) {
	b := bus.New()
	n := 0
	bus.Subscribe(b, TopicAdded, func(Added) { n++ })

	s := NewSink(b)
	s.Add(Label(0, "x"))
	s.Add(Symbol(0, 0, 1, 1, nil))
	if n != 2 {
		t.Fatalf("added events = %d, want 2", n)
	}
}

func TestRecordJSON(t *testing.T) {
	a := Symbol(0, 100, 200, 0x55, map[string]any{KeyType: TypeSymbol})
	data, err := json.Marshal(a.Record())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"channel", "startTs", "endTs", "kindTag", "payload", "properties"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("record %s missing key %q", data, key)
		}
	}
	if got["kindTag"] != "symbol" {
		t.Fatalf("kindTag = %v, want symbol", got["kindTag"])
	}
	if got["payload"] != float64(0x55) {
		t.Fatalf("payload = %v, want %d", got["payload"], 0x55)
	}
}

func TestRecordsOrder(t *testing.T) {
	s := NewSink(nil)
	s.Add(Metadata(0, "meta", nil))
	s.Add(Symbol(1, 0, 1, 1, nil))
	s.Add(Label(1, "TxD"))

	recs := s.Records()
	want := []string{"label", "symbol", "metadata"}
	if len(recs) != len(want) {
		t.Fatalf("len(Records) = %d, want %d", len(recs), len(want))
	}
	for i, k := range want {
		if recs[i].Kind != k {
			t.Fatalf("Records[%d].Kind = %q, want %q", i, recs[i].Kind, k)
		}
	}
}
