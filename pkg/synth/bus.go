package synth

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
)

// BusCycle is one memory cycle of the HP 9845 hybrid processor bus.
type BusCycle struct {
	Address uint16
	Data    uint16
	Block   uint8
	// Fetch marks an instruction fetch (SYNC high when the cycle starts).
	Fetch bool
	Byte  bool
	Left  bool
	Write bool
	// Grant lowers EBG during the cycle.
	Grant bool
}

// HybridBus lays bus cycles out on a state capture, one sample per clock.
// Control line fields are channel indices; the address/data lines use
// channels 0..15 and the block address channels 16..21, all active low.
type HybridBus struct {
	SMC, STM, EBG, BYTE, BL, WRT, SYNC int

	// Gap is the number of idle clocks between cycles.
	Gap int
}

// NewHybridBus returns the channel layout of the standard probe adapter.
func NewHybridBus() HybridBus {
	return HybridBus{SMC: 22, STM: 23, EBG: 24, BYTE: 25, BL: 26, WRT: 27, SYNC: 28, Gap: 2}
}

// Capture renders the cycles. Every cycle takes three clocks: STM falls
// with the address on the bus, the transfer lines settle with the data,
// then SMC rises.
func (b HybridBus) Capture(cycles ...BusCycle) (*capture.Capture, error) {
	if len(cycles) == 0 {
		return nil, fmt.Errorf("synth: no bus cycles")
	}
	bit := func(ch int, on bool) uint32 {
		if on {
			return 1 << uint(ch)
		}
		return 0
	}
	word := func(w uint16, block uint8) uint32 {
		return ^(uint32(w) | uint32(block&0x3f)<<16) & 0x3fffff
	}
	idle := bit(b.SMC, true) | bit(b.STM, true) | bit(b.EBG, true) | word(0, 0)

	bld := capture.NewBuilder().SetChannelCount(capture.MaxChannels)
	t := int64(0)
	emit := func(v uint32) {
		bld.AddSample(t, v)
		t++
	}
	for range b.Gap {
		emit(idle)
	}
	for _, c := range cycles {
		emit(word(c.Address, c.Block) | bit(b.SMC, false) | bit(b.STM, false) | bit(b.EBG, true) |
			bit(b.SYNC, c.Fetch))
		settled := word(c.Data, c.Block) | bit(b.STM, true) | bit(b.EBG, !c.Grant) |
			bit(b.BYTE, c.Byte) | bit(b.BL, c.Left) | bit(b.WRT, c.Write)
		emit(settled)
		emit(settled | bit(b.SMC, true))
		for range b.Gap {
			emit(idle)
		}
	}
	return bld.Build()
}
