package neople

import "time"

// KST is the fixed offset all timeline math happens in. The API both
// accepts and reports times in Korea Standard Time; using a fixed zone
// (rather than a tzdata lookup) keeps stamps unambiguous.
var KST = time.FixedZone("KST", 9*60*60)

// StampLayout is the query-parameter and watermark timestamp format.
// A stamp must round-trip exactly: Parse(Format(t)) == t at minute precision.
const StampLayout = "20060102T1504"

// FormatStamp renders t as an API time stamp in KST.
func FormatStamp(t time.Time) string {
	return t.In(KST).Format(StampLayout)
}

// ParseStamp parses an API time stamp in KST.
func ParseStamp(s string) (time.Time, error) {
	return time.ParseInLocation(StampLayout, s, KST)
}
