package phone

import (
	"fmt"
	"math/rand"
)

// regionPatterns holds known-plausible dialing patterns per region.
// Each pattern function produces a candidate in E.164 form; candidates
// are still validated through Normalize before being returned.
var regionPatterns = map[string][]func(*rand.Rand) string{
	"US": {
		func(r *rand.Rand) string {
			return "+1" + randomDigits(r, 3, "23456789") + randomDigits(r, 3, "23456789") + randomDigits(r, 4, "")
		},
	},
	"CA": {
		func(r *rand.Rand) string {
			return "+1" + randomDigits(r, 3, "23456789") + randomDigits(r, 3, "23456789") + randomDigits(r, 4, "")
		},
	},
	"GB": {
		func(r *rand.Rand) string { return "+447" + randomDigits(r, 9, "") },
		func(r *rand.Rand) string { return "+4420" + randomDigits(r, 8, "") },
	},
	"DE": {
		func(r *rand.Rand) string { return "+4915" + randomDigits(r, 8, "") },
		func(r *rand.Rand) string { return "+4917" + randomDigits(r, 8, "") },
	},
	"FR": {
		func(r *rand.Rand) string { return "+336" + randomDigits(r, 8, "") },
		func(r *rand.Rand) string { return "+337" + randomDigits(r, 8, "") },
	},
	"ES": {
		func(r *rand.Rand) string { return "+346" + randomDigits(r, 8, "") },
		func(r *rand.Rand) string { return "+347" + randomDigits(r, 8, "") },
	},
	"IT": {
		func(r *rand.Rand) string { return "+3933" + randomDigits(r, 8, "") },
		func(r *rand.Rand) string { return "+3934" + randomDigits(r, 8, "") },
	},
	"AU": {
		func(r *rand.Rand) string { return "+614" + randomDigits(r, 8, "") },
	},
	"BR": {
		func(r *rand.Rand) string { return "+55119" + randomDigits(r, 8, "") },
		func(r *rand.Rand) string { return "+55219" + randomDigits(r, 8, "") },
	},
	"IN": {
		func(r *rand.Rand) string { return "+91" + randomDigits(r, 1, "6789") + randomDigits(r, 9, "") },
	},
	"MX": {
		func(r *rand.Rand) string { return "+521" + randomDigits(r, 10, "") },
	},
	"JP": {
		func(r *rand.Rand) string { return "+81" + randomDigits(r, 1, "789") + "0" + randomDigits(r, 8, "") },
	},
}

// Generate produces up to n random valid numbers for the given region.
// Candidates failing full validation are discarded and retried, with a
// bounded attempt budget so an unlucky pattern cannot loop forever.
func Generate(region string, n int, rng *rand.Rand) ([]Record, error) {
	patterns, ok := regionPatterns[region]
	if !ok {
		return nil, fmt.Errorf("region %s is not supported for number generation", region)
	}

	seen := make(map[string]bool, n)
	out := make([]Record, 0, n)
	maxAttempts := n * 10

	for attempts := 0; len(out) < n && attempts < maxAttempts; attempts++ {
		candidate := patterns[rng.Intn(len(patterns))](rng)
		if seen[candidate] {
			continue
		}
		rec := Normalize(candidate)
		if !rec.Valid || seen[rec.Canonical] {
			continue
		}
		seen[candidate] = true
		seen[rec.Canonical] = true
		out = append(out, rec)
	}

	return out, nil
}

func randomDigits(r *rand.Rand, n int, firstAllowed string) string {
	b := make([]byte, n)
	for i := range b {
		if i == 0 && firstAllowed != "" {
			b[i] = firstAllowed[r.Intn(len(firstAllowed))]
			continue
		}
		b[i] = byte('0' + r.Intn(10))
	}
	return string(b)
}
