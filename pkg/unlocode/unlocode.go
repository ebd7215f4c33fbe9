// Package unlocode holds the read-only UN/LOCODE dictionary: the universe
// of place codes SourceLocation and coverage overrides reference.
package unlocode

// UNLocode identifies a place by its five-letter UN/LOCODE.
type UNLocode struct {
	Code     string
	Country  string
	Place    string
	IATACode string
	Lat      *float64
	Lon      *float64
}
