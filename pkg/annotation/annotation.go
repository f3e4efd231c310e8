// Package annotation holds the decoded output of the protocol decoders:
// channel labels, decoded symbols, protocol errors and metadata reports.
package annotation

import (
	"fmt"
	"maps"
)

// Kind tags the annotation variant.
type Kind uint8

const (
	KindLabel Kind = iota
	KindSymbol
	KindError
	KindMetadata
)

var kindNames = map[Kind]string{
	KindLabel:    "label",
	KindSymbol:   "symbol",
	KindError:    "error",
	KindMetadata: "metadata",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Protocol error kinds carried in the Text of KindError annotations.
const (
	ErrorFrame  = "FRAME"
	ErrorParity = "PARITY"
	ErrorStart  = "START"
)

// Well-known property keys and values.
const (
	KeyColor     = "color"
	KeyType      = "type"
	KeyEventType = "eventType"
	KeyEvent     = "event"
	KeyText      = "text"

	TypeSymbol  = "symbol"
	TypeEvent   = "event"
	TypeError   = "error"
	TypeWarning = "warning"
)

// Annotation is a decoded datum tied to a channel. Which fields are
// meaningful depends on Kind:
//
//	KindLabel:    Text is the channel label.
//	KindSymbol:   Start/End span the symbol, Value is the payload; Text is an
//	              optional rendering (mnemonics, event names).
//	KindError:    Start/End span the offending bit cell, Text is the error kind.
//	KindMetadata: Text is a human readable summary, Properties carry the numbers.
type Annotation struct {
	Kind       Kind
	Channel    int
	Start      int64
	End        int64
	Value      int64
	Text       string
	Properties map[string]any
}

// Label sets the display label of a channel.
func Label(channel int, text string) Annotation {
	return Annotation{Kind: KindLabel, Channel: channel, Text: text}
}

// Symbol reports a decoded value over [start, end].
func Symbol(channel int, start, end, value int64, props map[string]any) Annotation {
	return Annotation{
		Kind:       KindSymbol,
		Channel:    channel,
		Start:      start,
		End:        end,
		Value:      value,
		Properties: props,
	}
}

// Error reports a protocol violation of the given kind over [start, end].
func Error(channel int, start, end int64, kind string, props map[string]any) Annotation {
	return Annotation{
		Kind:       KindError,
		Channel:    channel,
		Start:      start,
		End:        end,
		Text:       kind,
		Properties: props,
	}
}

// Metadata reports run-level information such as the detected baud rate.
func Metadata(channel int, text string, props map[string]any) Annotation {
	return Annotation{Kind: KindMetadata, Channel: channel, Text: text, Properties: props}
}

// Prop returns a property value.
func (a Annotation) Prop(key string) (any, bool) {
	v, ok := a.Properties[key]
	return v, ok
}

// Clone returns a copy that does not share the property map.
func (a Annotation) Clone() Annotation {
	a.Properties = maps.Clone(a.Properties)
	return a
}

func (a Annotation) String() string {
	switch a.Kind {
	case KindLabel:
		return fmt.Sprintf("ch%d label %q", a.Channel, a.Text)
	case KindSymbol:
		if a.Text != "" {
			return fmt.Sprintf("ch%d [%d,%d] %s", a.Channel, a.Start, a.End, a.Text)
		}
		return fmt.Sprintf("ch%d [%d,%d] 0x%02x", a.Channel, a.Start, a.End, a.Value)
	case KindError:
		return fmt.Sprintf("ch%d [%d,%d] %s error", a.Channel, a.Start, a.End, a.Text)
	default:
		return fmt.Sprintf("ch%d %s", a.Channel, a.Text)
	}
}

// Record is the serializable form of an annotation.
type Record struct {
	Channel    int            `json:"channel"`
	Start      int64          `json:"startTs"`
	End        int64          `json:"endTs"`
	Kind       string         `json:"kindTag"`
	Payload    any            `json:"payload"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Record converts the annotation for export.
func (a Annotation) Record() Record {
	r := Record{
		Channel:    a.Channel,
		Start:      a.Start,
		End:        a.End,
		Kind:       a.Kind.String(),
		Properties: maps.Clone(a.Properties),
	}
	switch a.Kind {
	case KindSymbol:
		r.Payload = a.Value
		if a.Text != "" {
			if r.Properties == nil {
				r.Properties = make(map[string]any, 1)
			}
			r.Properties[KeyText] = a.Text
		}
	default:
		r.Payload = a.Text
	}
	return r
}
