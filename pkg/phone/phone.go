package phone

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegions is the priority list of regions tried when a number
// cannot be parsed in international form.
var DefaultRegions = []string{"US", "GB", "CA", "AU", "DE", "FR", "ES", "IT", "BR", "IN"}

// Record is a single validated phone number. Canonical holds the E.164
// form for valid numbers and the original input otherwise.
type Record struct {
	Original        string `json:"original"`
	Canonical       string `json:"canonical"`
	Region          string `json:"region,omitempty"`
	CountryCode     string `json:"countryCode,omitempty"`
	Valid           bool   `json:"valid"`
	ValidationError string `json:"validationError,omitempty"`
}

// Key returns the identity used for deduplication: the canonical form
// for valid records, the original input for invalid ones.
func (r Record) Key() string {
	if r.Valid {
		return r.Canonical
	}
	return r.Original
}

// Normalize validates raw using the default region priority list.
func Normalize(raw string) Record {
	return NormalizeWithRegions(raw, DefaultRegions)
}

// NormalizeWithRegions parses raw into E.164 form. It first tries an
// international parse of the bare digit string, then falls back to
// region-scoped parses in the order given, accepting the first region
// for which the number is structurally valid.
func NormalizeWithRegions(raw string, regions []string) Record {
	original := strings.TrimSpace(raw)
	rec := Record{Original: original, Canonical: original}

	if original == "" {
		rec.ValidationError = "empty input"
		return rec
	}

	digits := stripNonDigits(original)
	if digits == "" {
		rec.ValidationError = "no digits in input"
		return rec
	}
	// Cheap pre-filter before invoking the parser on large batches.
	if len(digits) < 7 || len(digits) > 15 {
		rec.ValidationError = "number must have between 7 and 15 digits"
		return rec
	}

	// First attempt: treat the digit string as a full international number.
	if num, err := phonenumbers.Parse("+"+digits, ""); err == nil && phonenumbers.IsValidNumber(num) {
		return recordFromParsed(original, num, phonenumbers.GetRegionCodeForNumber(num))
	}

	// Fall back to region-scoped parses of the raw input.
	for _, region := range regions {
		num, err := phonenumbers.Parse(original, region)
		if err != nil {
			continue
		}
		if phonenumbers.IsValidNumber(num) {
			detected := phonenumbers.GetRegionCodeForNumber(num)
			if detected == "" {
				detected = region
			}
			return recordFromParsed(original, num, detected)
		}
	}

	rec.ValidationError = "not a valid phone number for any candidate region"
	return rec
}

func recordFromParsed(original string, num *phonenumbers.PhoneNumber, region string) Record {
	return Record{
		Original:    original,
		Canonical:   phonenumbers.Format(num, phonenumbers.E164),
		Region:      region,
		CountryCode: strconv.Itoa(int(num.GetCountryCode())),
		Valid:       true,
	}
}

// Dedup removes records whose identity key was already seen, preserving
// first-seen order. Running it on its own output is a no-op.
func Dedup(records []Record) []Record {
	seen := make(map[string]bool, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		key := r.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// LooksLikeNumber is the ingestion pre-filter: 7 to 15 digits after
// stripping common separators, with at least 80% of the remaining
// characters being digits.
func LooksLikeNumber(s string) bool {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '+', '.':
			return -1
		}
		return r
	}, s)
	if cleaned == "" {
		return false
	}

	digits := 0
	for _, r := range cleaned {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if digits < 7 || digits > 15 {
		return false
	}
	return float64(digits)/float64(len([]rune(cleaned))) >= 0.8
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
