package subscription

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// regionalIndicatorBase maps 'A' to the first regional indicator codepoint.
const regionalIndicatorBase = 0x1F1E6

// flagCountries is the fixed pool used when a link's original label carries
// no flag of its own. Assignment is random but sticky once made.
var flagCountries = []string{
	"US", "GB", "DE", "FR", "NL", "SE", "NO", "FI", "DK", "PL", "CZ",
	"AT", "CH", "IT", "ES", "PT", "IE", "BE", "CA", "AU", "JP", "KR",
	"SG", "HK", "TW", "TR", "AE", "BR", "AR", "MX", "IN", "ZA", "RU",
}

// FlagForCountry converts an ISO 3166-1 alpha-2 code into its emoji flag.
// Returns empty on anything that is not two ASCII letters.
func FlagForCountry(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return ""
	}
	var b strings.Builder
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return ""
		}
		b.WriteRune(rune(regionalIndicatorBase + int(c-'A')))
	}
	return b.String()
}

// RandomFlag picks a flag from the fixed country pool.
func RandomFlag() string {
	return FlagForCountry(flagCountries[rand.IntN(len(flagCountries))])
}

// FlagFromRemarks extracts the first two-codepoint regional-indicator
// sequence from a label, if any.
func FlagFromRemarks(remarks string) string {
	runes := []rune(remarks)
	for i := 0; i+1 < len(runes); i++ {
		if isRegionalIndicator(runes[i]) && isRegionalIndicator(runes[i+1]) {
			return string(runes[i : i+2])
		}
	}
	return ""
}

func isRegionalIndicator(r rune) bool {
	return r >= 0x1F1E6 && r <= 0x1F1FF
}

// AutoLabel renders the panel-controlled direct-config name for the item at
// the given 1-based position.
func AutoLabel(flag string, position int) string {
	return fmt.Sprintf("%s SR-%03d", flag, position)
}
