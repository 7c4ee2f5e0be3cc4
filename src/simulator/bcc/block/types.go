package block

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type enumerates the block kinds announced by a block-start marker. The type
// decides which processing element executes the body and whether the body is
// decoupled from the header.
type Type int

const (
	TypeInvalid Type = iota
	TypeScalar
	TypeVector
	TypeTemplate
	TypeCube
	TypeTAU
	TypeTMA
	TypeGeneric
)

// String returns the short mnemonic used in traces and program files.
func (t Type) String() string {
	switch t {
	case TypeScalar:
		return "std"
	case TypeVector:
		return "vec"
	case TypeTemplate:
		return "tmpl"
	case TypeCube:
		return "cube"
	case TypeTAU:
		return "tau"
	case TypeTMA:
		return "tma"
	case TypeGeneric:
		return "acc"
	default:
		return "invalid"
	}
}

// TypeFromMnemonic accepts both the short names and the BSTART.* spellings
// (BSTART.STD, BSTART.VPAR, BSTART.MCOPY, ...).
func TypeFromMnemonic(value string) (Type, bool) {
	name := strings.ToLower(strings.TrimSpace(value))
	name = strings.TrimPrefix(name, "bstart.")

	switch name {
	case "std", "scalar":
		return TypeScalar, true
	case "vec", "vpar", "vseq", "mpar", "mseq":
		return TypeVector, true
	case "tmpl", "mcopy", "mset":
		return TypeTemplate, true
	case "cube":
		return TypeCube, true
	case "tau":
		return TypeTAU, true
	case "tma":
		return TypeTMA, true
	case "acc", "generic":
		return TypeGeneric, true
	default:
		return TypeInvalid, false
	}
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	parsed, ok := TypeFromMnemonic(string(text))
	if !ok {
		return fmt.Errorf("unknown block type %q", string(text))
	}
	*t = parsed
	return nil
}

// Decoupled reports whether the body runs away from the header. Such blocks
// only see what their live-in/live-out lists name and are issued with every
// operand resolved.
func (t Type) Decoupled() bool {
	return t != TypeScalar
}

// PE maps a block type onto the processing element that executes it.
// Template blocks run as a state machine on the scalar PE.
func (t Type) PE() PEKind {
	switch t {
	case TypeScalar, TypeTemplate:
		return PEScalar
	case TypeVector:
		return PEVector
	case TypeCube:
		return PECube
	case TypeTAU:
		return PETAU
	case TypeTMA:
		return PETMA
	case TypeGeneric:
		return PEGeneric
	default:
		return PEInvalid
	}
}

// PEKind identifies a processing element class.
type PEKind int

const (
	PEInvalid PEKind = iota
	PEScalar
	PEVector
	PECube
	PETAU
	PETMA
	PEGeneric
)

// NumPEKinds bounds PEKind values and sizes per-kind tables.
const NumPEKinds = int(PEGeneric) + 1

func (k PEKind) String() string {
	switch k {
	case PEScalar:
		return "scalar"
	case PEVector:
		return "vector"
	case PECube:
		return "cube"
	case PETAU:
		return "tau"
	case PETMA:
		return "tma"
	case PEGeneric:
		return "generic"
	default:
		return "invalid"
	}
}

// PEKindFromString parses the names produced by String.
func PEKindFromString(value string) (PEKind, bool) {
	for kind := PEScalar; kind <= PEGeneric; kind++ {
		if kind.String() == value {
			return kind, true
		}
	}
	return PEInvalid, false
}

// Attr carries block attribute bits.
type Attr uint16

const (
	AttrBarrier Attr = 1 << iota
	AttrSyncI
	AttrAtomic
	AttrAcquire
	AttrRelease
)

var attrNames = []struct {
	attr Attr
	name string
}{
	{AttrBarrier, "barrier"},
	{AttrSyncI, "synci"},
	{AttrAtomic, "atomic"},
	{AttrAcquire, "acquire"},
	{AttrRelease, "release"},
}

func (a Attr) Has(flag Attr) bool {
	return a&flag != 0
}

func (a Attr) String() string {
	names := a.names()
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "|")
}

func (a Attr) names() []string {
	names := make([]string, 0)
	for _, entry := range attrNames {
		if a.Has(entry.attr) {
			names = append(names, entry.name)
		}
	}
	return names
}

// MarshalJSON writes attributes as a list of names.
func (a Attr) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.names())
}

func (a *Attr) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		var raw uint16
		if numErr := json.Unmarshal(data, &raw); numErr != nil {
			return fmt.Errorf("attrs: %w", err)
		}
		*a = Attr(raw)
		return nil
	}

	var attrs Attr
	for _, name := range names {
		found := false
		for _, entry := range attrNames {
			if strings.EqualFold(entry.name, name) {
				attrs |= entry.attr
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown block attribute %q", name)
		}
	}
	*a = attrs
	return nil
}

// Hand names one of the SSA-relative tile rings.
type Hand uint8

const (
	HandT Hand = iota
	HandU
	HandM
	HandN
)

// NumHands is the number of architectural tile hands.
const NumHands = 4

func (h Hand) String() string {
	switch h {
	case HandT:
		return "T"
	case HandU:
		return "U"
	case HandM:
		return "M"
	case HandN:
		return "N"
	default:
		return fmt.Sprintf("hand%d", uint8(h))
	}
}

func (h Hand) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hand) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "T":
		*h = HandT
	case "U":
		*h = HandU
	case "M":
		*h = HandM
	case "N":
		*h = HandN
	default:
		return fmt.Errorf("unknown tile hand %q", string(text))
	}
	return nil
}

// SubOp selects the operation of a decoupled block. Names are unique across
// block types so a program file can spell them without qualification.
type SubOp uint16

const (
	SubOpNone SubOp = iota

	// template
	SubOpMCopy
	SubOpMSet

	// cube
	SubOpMAMulB
	SubOpMAMulBAcc

	// tau
	SubOpTAdd
	SubOpTSub
	SubOpTMul
	SubOpTRelu
	SubOpTRedSum

	// tma
	SubOpTLoad
	SubOpTStore

	// generic accelerators
	SubOpCRC32
	SubOpPopCount
)

var subOpNames = map[SubOp]string{
	SubOpNone:      "none",
	SubOpMCopy:     "mcopy",
	SubOpMSet:      "mset",
	SubOpMAMulB:    "mamulb",
	SubOpMAMulBAcc: "mamulbacc",
	SubOpTAdd:      "tadd",
	SubOpTSub:      "tsub",
	SubOpTMul:      "tmul",
	SubOpTRelu:     "trelu",
	SubOpTRedSum:   "tredsum",
	SubOpTLoad:     "tload",
	SubOpTStore:    "tstore",
	SubOpCRC32:     "crc32",
	SubOpPopCount:  "popcnt",
}

func (op SubOp) String() string {
	if name, ok := subOpNames[op]; ok {
		return name
	}
	return fmt.Sprintf("subop%d", uint16(op))
}

func (op SubOp) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

func (op *SubOp) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for candidate, candidateName := range subOpNames {
		if candidateName == name {
			*op = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown block sub-op %q", string(text))
}

// Cause codes are written to ECSTATE when an exception is raised.
type Cause uint16

const (
	CauseNone Cause = iota
	CauseDataHazard
	CauseIllegalBlock
	CauseIllegalControlTarget
	CauseAccessFault
	CauseHandOverflow
	CauseTileShape
	CauseSoftware
	CauseUnsupported
)

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseDataHazard:
		return "data_hazard"
	case CauseIllegalBlock:
		return "illegal_block"
	case CauseIllegalControlTarget:
		return "illegal_control_target"
	case CauseAccessFault:
		return "access_fault"
	case CauseHandOverflow:
		return "hand_overflow"
	case CauseTileShape:
		return "tile_shape"
	case CauseSoftware:
		return "software"
	case CauseUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("cause%d", uint16(c))
	}
}

// Architectural special-register identifiers.
const (
	SSRECState    uint16 = 0x0F00
	SSREVBase     uint16 = 0x0F01
	SSREBPC       uint16 = 0x0F0B
	SSREBArg      uint16 = 0x0F0C
	SSRBStateSave uint16 = 0x0F10
)

// DefaultHeaderSize is the header length assumed when a descriptor omits it.
const DefaultHeaderSize = 4
