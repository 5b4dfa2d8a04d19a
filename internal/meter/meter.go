// Package meter implements the FlexRadio WAVEFORM meter convention: named
// scalar telemetry channels registered with the radio (which assigns each a
// numeric id), reported periodically as dense (id, value) pairs in an
// extension-data VITA packet.
package meter

import "math"

// Def describes one registered meter. ID is zero until the radio's
// "meter create" response assigns it.
type Def struct {
	ID   uint16
	Name string
	Min  float32
	Max  float32
	Unit string
}

// FractionalBits is the Q-format fractional bit count used to encode
// floating-point meter values as fixed-point shorts (§3: "6 is used").
const FractionalBits = 6

// ToFixed converts a float64 into a Q(16-FractionalBits).FractionalBits
// fixed-point int16, matching the original float_to_fixed() helper.
func ToFixed(value float64, fractionalBits uint8) int16 {
	scaled := value * float64(uint32(1)<<fractionalBits)
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int16(scaled)
}

// StandardTable is the fixed set of seven telemetry identifiers the Sample
// Pipeline reports once per completed RX frame (§4.5), split across eight
// wire values because fdv-total-bits is carried as two 16-bit halves
// (§9(c)).
var StandardTable = []Def{
	{Name: "fdv-snr", Min: -100, Max: 100, Unit: "DB"},
	{Name: "fdv-foff", Min: -1000000, Max: 1000000, Unit: "DB"},
	{Name: "fdv-clock-offset", Min: -1000000, Max: 1000000, Unit: "DB"},
	{Name: "fdv-sync-quality", Min: 0, Max: 1, Unit: "DB"},
	{Name: "fdv-total-bits-lsb", Min: 0, Max: 1000000, Unit: "RPM"},
	{Name: "fdv-total-bits-msb", Min: 0, Max: 1000000, Unit: "RPM"},
	{Name: "fdv-error-bits", Min: 0, Max: 1000000, Unit: "RPM"},
	{Name: "fdv-ber", Min: 0, Max: 10000000, Unit: "RPM"},
}

// Table holds the live, id-assigned copies of StandardTable for one
// waveform session.
type Table struct {
	defs []Def
}

// NewTable clones StandardTable so each waveform instance owns independent
// (mutable) meter ids.
func NewTable() *Table {
	defs := make([]Def, len(StandardTable))
	copy(defs, StandardTable)
	return &Table{defs: defs}
}

// Defs returns the live meter definitions in registration order.
func (t *Table) Defs() []Def {
	return t.defs
}

// SetID records the id the radio assigned to the meter named name. It is
// written once during registration and read-only thereafter (§5).
func (t *Table) SetID(name string, id uint16) bool {
	for i := range t.defs {
		if t.defs[i].Name == name {
			t.defs[i].ID = id
			return true
		}
	}
	return false
}

// Snapshot is the set of values for one reporting cycle, indexed the same
// way as Defs().
type Snapshot struct {
	SNR            float64
	FreqOffsetHz   float64
	ClockOffset    float64
	SyncQuality    float64
	TotalBits      uint32
	TotalBitErrors uint32
}

// BER returns the bit error rate for this snapshot, matching the original's
// errors/(1e-6+bits) guard against division by zero.
func (s Snapshot) BER() float64 {
	return float64(s.TotalBitErrors) / (1e-6 + float64(s.TotalBits))
}

// EncodePayload renders a snapshot as the dense (id, value) pairs the VITA
// codec expects as an extension-data payload, in Defs() order.
func (t *Table) EncodePayload(s Snapshot) []byte {
	values := []int16{
		ToFixed(s.SNR, FractionalBits),
		ToFixed(s.FreqOffsetHz, FractionalBits),
		ToFixed(s.ClockOffset, FractionalBits),
		ToFixed(s.SyncQuality, FractionalBits),
		int16(uint16(s.TotalBits)),
		int16(uint16(s.TotalBits >> 16)),
		int16(uint16(s.TotalBitErrors)),
		ToFixed(s.BER(), FractionalBits),
	}

	out := make([]byte, 0, len(t.defs)*4)
	for i, d := range t.defs {
		if i >= len(values) {
			break
		}
		out = append(out, byte(d.ID>>8), byte(d.ID), byte(uint16(values[i])>>8), byte(uint16(values[i])))
	}
	return out
}
