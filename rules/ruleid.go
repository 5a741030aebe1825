package rules

import "unicode/utf16"

// DefaultIDSpace is the number of rule ids reserved per channel.
const DefaultIDSpace = 10000

// hashCode is the 31-multiplier string hash over UTF-16 code units with 32-bit wraparound.
// Extension builds compute the same ids, so the arithmetic must not change.
func hashCode(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

// RuleID returns the stable id for (domain, channel): abs(hash) % idSpace + 1, offset by
// channel*idSpace. Unrelated domains can collide; the later install wins.
func RuleID(domain string, channel Channel, idSpace int) int {
	if idSpace <= 0 {
		idSpace = DefaultIDSpace
	}
	h := int64(hashCode(domain))
	if h < 0 {
		h = -h
	}
	return int(h%int64(idSpace)) + 1 + int(channel)*idSpace
}
