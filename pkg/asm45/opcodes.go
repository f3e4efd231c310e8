package asm45

import "fmt"

// Registers names the first 32 addresses of the hybrid processor, which
// map onto its registers.
var Registers = [32]string{
	"A", "B", "P", "R", "R4", "R5", "R6", "R7",
	"R10", "Pa", "W", "Dmapa", "Dmama", "Dmac", "C", "D",
	"Ar2", "Ar2_2", "Ar2_3", "Ar2_4", "Se", "R25", "R26", "R27",
	"R30", "R31", "R32", "R33", "R34", "R35", "R36", "R37",
}

// addrMode selects how the operand field of an instruction is decoded.
type addrMode uint8

const (
	modeNone     addrMode = iota // full width opcode
	modeMemory                   // 10-bit signed current or base page offset
	modeRegister                 // 5-bit register
	modeSkip                     // 6-bit signed skip
	modeAlter                    // 6-bit signed skip with hold/clear/set
	modeReturn                   // 6-bit signed return offset with pop
	modeCount                    // 4-bit count
	modeStack                    // 3-bit register with increment/decrement
)

type opcode struct {
	mask     uint16
	code     uint16
	mnemonic string
	mode     addrMode
	timing   int
}

// opcodes is searched in order; the first match wins.
var opcodes = []opcode{
	// pseudo instructions
	{0xffff, 0x0000, "NOP", modeNone, 11},
	{0xffff, 0xf14f, "CLA", modeNone, 11},
	{0xffff, 0xf94f, "CLB", modeNone, 11},

	// BPC memory reference group
	{0x7800, 0x0000, "LDA", modeMemory, 13},
	{0x7800, 0x0800, "LDB", modeMemory, 13},
	{0x7800, 0x1000, "CPA", modeMemory, 16},
	{0x7800, 0x1800, "CPB", modeMemory, 16},
	{0x7800, 0x2000, "ADA", modeMemory, 13},
	{0x7800, 0x2800, "ADB", modeMemory, 13},
	{0x7800, 0x3000, "STA", modeMemory, 13},
	{0x7800, 0x3800, "STB", modeMemory, 13},
	{0x7800, 0x4000, "JSM", modeMemory, 17},
	{0x7800, 0x4800, "ISZ", modeMemory, 19},
	{0x7800, 0x5000, "AND", modeMemory, 13},
	{0x7800, 0x5800, "DSZ", modeMemory, 19},
	{0x7800, 0x6000, "IOR", modeMemory, 13},
	{0x7800, 0x6800, "JMP", modeMemory, 8},
	{0x7fe0, 0x7000, "EXE", modeRegister, 8},

	// BPC skip group
	{0xffc0, 0x7400, "RZA", modeSkip, 14},
	{0xffc0, 0x7c00, "RZB", modeSkip, 14},
	{0xffc0, 0x7440, "RIA", modeSkip, 14},
	{0xffc0, 0x7c40, "RIB", modeSkip, 14},
	{0xffc0, 0x7500, "SZA", modeSkip, 14},
	{0xffc0, 0x7d00, "SZB", modeSkip, 14},
	{0xffc0, 0x7540, "SIA", modeSkip, 14},
	{0xffc0, 0x7d40, "SIB", modeSkip, 14},
	{0xffc0, 0x7480, "SFS", modeSkip, 14},
	{0xffc0, 0x7580, "SFC", modeSkip, 14},
	{0xffc0, 0x74c0, "SDS", modeSkip, 14},
	{0xffc0, 0x75c0, "SDC", modeSkip, 14},
	{0xffc0, 0x7c80, "SSS", modeSkip, 14},
	{0xffc0, 0x7d80, "SSC", modeSkip, 14},
	{0xffc0, 0x7cc0, "SHS", modeSkip, 14},
	{0xffc0, 0x7dc0, "SHC", modeSkip, 14},

	// BPC alter group
	{0xff00, 0x7600, "SLA", modeAlter, 14},
	{0xff00, 0x7e00, "SLB", modeAlter, 14},
	{0xff00, 0x7700, "RLA", modeAlter, 14},
	{0xff00, 0x7f00, "RLB", modeAlter, 14},
	{0xff00, 0xf400, "SAP", modeAlter, 14},
	{0xff00, 0xfc00, "SBP", modeAlter, 14},
	{0xff00, 0xf500, "SAM", modeAlter, 14},
	{0xff00, 0xfd00, "SBM", modeAlter, 14},
	{0xff00, 0xf600, "SOC", modeAlter, 14},
	{0xff00, 0xf700, "SOS", modeAlter, 14},
	{0xff00, 0xfe00, "SEC", modeAlter, 14},
	{0xff00, 0xff00, "SES", modeAlter, 14},

	// BPC complement group
	{0xffff, 0xf020, "TCA", modeNone, 9},
	{0xffff, 0xf820, "TCB", modeNone, 9},
	{0xffff, 0xf060, "CMA", modeNone, 9},
	{0xffff, 0xf860, "CMB", modeNone, 9},

	{0xff80, 0xf080, "RET", modeReturn, 16},

	// BPC shift/rotate group
	{0xfff0, 0xf100, "AAR", modeCount, 9},
	{0xfff0, 0xf900, "ABR", modeCount, 9},
	{0xfff0, 0xf140, "SAR", modeCount, 9},
	{0xfff0, 0xf940, "SBR", modeCount, 9},
	{0xfff0, 0xf180, "SAL", modeCount, 9},
	{0xfff0, 0xf980, "SBL", modeCount, 9},
	{0xfff0, 0xf1c0, "RAR", modeCount, 9},
	{0xfff0, 0xf9c0, "RBR", modeCount, 9},

	// IOC interrupt group
	{0xffff, 0x7110, "EIR", modeNone, 12},
	{0xffff, 0x7118, "DIR", modeNone, 12},

	// IOC DMA group
	{0xffff, 0x7100, "SDO", modeNone, 12},
	{0xffff, 0x7108, "SDI", modeNone, 12},
	{0xffff, 0x7120, "DMA", modeNone, 12},
	{0xffff, 0x7128, "PCM", modeNone, 12},
	{0xffff, 0x7138, "DDR", modeNone, 12},

	// IOC stack group
	{0xffff, 0x7140, "DBL", modeNone, 12},
	{0xffff, 0x7148, "CBL", modeNone, 12},
	{0xffff, 0x7150, "DBU", modeNone, 12},
	{0xffff, 0x7158, "CBU", modeNone, 12},
	{0xff78, 0x7160, "PWC", modeStack, 23},
	{0xff78, 0x7168, "PWD", modeStack, 23},
	{0xff78, 0x7960, "PBC", modeStack, 23},
	{0xff78, 0x7968, "PBD", modeStack, 23},
	{0xff78, 0x7170, "WWC", modeStack, 23},
	{0xff78, 0x7178, "WWD", modeStack, 23},
	{0xff78, 0x7970, "WBC", modeStack, 23},
	{0xff78, 0x7978, "WBD", modeStack, 23},

	// EMC four word group
	{0xfff0, 0x7380, "CLR", modeCount, 16},
	{0xfff0, 0x7300, "XFR", modeCount, 21},

	// EMC mantissa shift group
	{0xffff, 0x7b00, "MRX", modeNone, 62},
	{0xffff, 0x7b21, "DRS", modeNone, 56},
	{0xffff, 0x7b61, "MLY", modeNone, 32},
	{0xffff, 0x7b40, "MRY", modeNone, 33},
	{0xffff, 0x7340, "NRM", modeNone, 23},

	// EMC arithmetic group
	{0xffff, 0x7280, "FXA", modeNone, 40},
	{0xffff, 0x7200, "MWA", modeNone, 28},
	{0xffff, 0x7260, "CMX", modeNone, 59},
	{0xffff, 0x7220, "CMY", modeNone, 23},
	{0xffff, 0x7a00, "FMP", modeNone, 42},
	{0xffff, 0x7a21, "FDV", modeNone, 37},
	{0xffff, 0x7b8f, "MPY", modeNone, 65},
	{0xffff, 0x73c0, "CDC", modeNone, 11},
}

// Instruction is a disassembled instruction word.
type Instruction struct {
	Mnemonic string
	// Text is the mnemonic followed by its decoded operands.
	Text string
	// Timing is the nominal execution time in processor clocks. It is
	// data dependent for the EMC arithmetic instructions.
	Timing int
}

// signed extends the low bits of v, sign bit included, to an int.
func signed(v uint16, bits uint) int {
	x := int(v & (1<<bits - 1))
	if x&(1<<(bits-1)) != 0 {
		x -= 1 << bits
	}
	return x
}

func register(i int) string {
	if i >= 0 && i < len(Registers) {
		return Registers[i]
	}
	return fmt.Sprintf("%04x", i)
}

// Disassemble decodes the instruction word w fetched from address. It
// returns false when no table entry matches.
func Disassemble(address, w uint16) (Instruction, bool) {
	var op *opcode
	for i := range opcodes {
		if w&opcodes[i].mask == opcodes[i].code {
			op = &opcodes[i]
			break
		}
	}
	if op == nil {
		return Instruction{Mnemonic: "???", Text: "???"}, false
	}

	in := Instruction{Mnemonic: op.mnemonic, Text: op.mnemonic, Timing: op.timing}
	rel := func(off int) uint16 { return uint16(int(address) + off) }
	indirect := func() {
		if w&0x8000 != 0 {
			in.Timing += 6
			in.Text += ",I"
		}
	}

	switch op.mode {
	case modeMemory:
		off := signed(w, 10)
		currentPage := w&0x0400 != 0
		switch {
		case currentPage:
			in.Text += fmt.Sprintf(" %04x", rel(off))
		case off < 0:
			in.Text += fmt.Sprintf(" %04x", 0x10000+off)
		case off < 32:
			in.Text += " " + Registers[off]
		default:
			in.Text += fmt.Sprintf(" %04x", off)
		}
		indirect()
		if !currentPage && (off < 0 || off > 31) {
			in.Text += " [B]"
		}

	case modeRegister:
		in.Text += " " + Registers[w&0x1f]
		indirect()

	case modeSkip:
		off := signed(w, 6)
		in.Text += fmt.Sprintf(" *%+d [%04x]", off, rel(off))

	case modeAlter:
		off := signed(w, 6)
		in.Text += fmt.Sprintf(" *%+d", off)
		if w&0x0080 != 0 {
			if w&0x0040 != 0 {
				in.Text += ",S"
			} else {
				in.Text += ",C"
			}
		}
		in.Text += fmt.Sprintf(" [%04x]", rel(off))

	case modeReturn:
		in.Text += fmt.Sprintf(" %d", signed(w, 6))
		if w&0x0040 != 0 {
			in.Text += ",P"
		}

	case modeCount:
		n := int(w&0xf) + 1
		in.Text += fmt.Sprintf(" %d", n)
		// TODO: XFR costs 12 clocks per word; it is still charged one like
		// the other count instructions so timings match recorded traces.
		if w&0xfff0 == 0x7380 { // CLR
			in.Timing += 6 * n
		} else {
			in.Timing += n
		}

	case modeStack:
		in.Text += " " + Registers[w&0x7]
		if w&0x0080 != 0 {
			in.Text += ",D"
		} else {
			in.Text += ",I"
		}
	}
	return in, true
}
