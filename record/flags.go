package record

// Unified flag bit layout for EventRecord.Flags. PSD2 populates bits 0-19
// directly from its 12-bit low and 8-bit high flag fields
// ((flags_high<<12)|flags_low). PSD1 has no equivalent flag word of its
// own; its only flag-shaped bit is the charge word's pileup bit, which is
// mapped here to a bit PSD2 never sets, so a consumer reading Flags does
// not need to know which decoder produced the record.
const (
	// FlagsPSD2Mask covers the bits PSD2's combined (flags_high<<12)|flags_low
	// can ever set.
	FlagsPSD2Mask uint32 = 0xFFFFF // bits 0-19

	// FlagPileup is set by the PSD1 decoder when the charge word's bit 15
	// (pileup) is set. Bit 30 is chosen because it is outside FlagsPSD2Mask
	// and outside any bit PSD2 itself populates.
	FlagPileup uint32 = 1 << 30
)

// CombineFlags reconstructs PSD2's 20-bit flags field from its high and
// low parts: flagsHigh is the 8-bit high field, flagsLow the 12-bit low
// field (already masked to 0xFFF by the caller).
func CombineFlags(flagsHigh uint8, flagsLow uint16) uint32 {
	return uint32(flagsHigh)<<12 | uint32(flagsLow&0xFFF)
}
