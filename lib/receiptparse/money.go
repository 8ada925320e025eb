package receiptparse

import (
	"regexp"
	"strconv"
	"strings"
)

// money-shaped token: optional sign, digits with optional space or
// nbsp thousand groups, comma decimals. "12,50", "-5,00", "1 234,56".
// The comma decimals are required so bare integers (quantities,
// article codes) never count as amounts.
var moneyTokenRe = regexp.MustCompile(`-?\d+(?:[ \x{00A0}]\d{3})*,\d{2}`)

// ParseMoney parses a Swedish-formatted amount: comma as the decimal
// separator, optional space or non-breaking-space thousands
// separators. Returns nil when the string is not a parsable amount,
// never zero.
func ParseMoney(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	cleaned := strings.NewReplacer(" ", "", " ", "").Replace(s)
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

// lastAmount extracts the price from a line: the last money-shaped
// token with no further digits after it. Embedded article codes
// earlier in the line never win. Returns the amount and the text
// preceding it. A product name that itself ends in digits can fool
// this, that misparse is accepted.
func lastAmount(line string) (*float64, string) {
	locs := moneyTokenRe.FindAllStringIndex(line, -1)
	if len(locs) == 0 {
		return nil, line
	}
	start, end := locs[len(locs)-1][0], locs[len(locs)-1][1]
	if strings.ContainsAny(line[end:], "0123456789") {
		return nil, line
	}
	v := ParseMoney(line[start:end])
	if v == nil {
		return nil, line
	}
	return v, strings.TrimSpace(line[:start])
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') ||
			strings.ContainsRune("åäöÅÄÖéÉüÜ", r) {
			n++
		}
	}
	return n
}
