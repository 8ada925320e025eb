package receiptparse

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

type lineKind int

const (
	kindNoise lineKind = iota
	kindDiscount
	kindWeightPriced
	kindMultiBuy
	kindPriced
	kindBareName
)

// classified is the tagged result of classifying one receipt line.
// Which fields are set depends on the kind.
type classified struct {
	kind      lineKind
	name      string
	quantity  float64
	unit      string
	unitPrice *float64
	amount    *float64
}

// boilerplate receipts always carry: totals, vat, payment and store
// metadata, loyalty banners. Compared fuzzily so the usual extraction
// mangling (missing diacritics, dropped letters) still matches.
var boilerplateWords = []string{
	"totalt",
	"total",
	"moms",
	"mervärdesskatt",
	"betalat",
	"betala",
	"kontokort",
	"kvitto",
	"kvittonr",
	"kassa",
	"butik",
	"org.nr",
	"orgnr",
	"öppettider",
	"telefon",
	"willys",
	"hemköp",
	"medlem",
	"bonus",
	"poäng",
	"erbjudande",
	"spara",
	"tack",
	"välkommen",
	"återbäring",
	"avrundning",
}

var (
	weightPricedRe = regexp.MustCompile(
		`^(\d+(?:,\d+)?)\s*(kg|hg|g|l|dl|cl|ml)\s*\*\s*(\d+(?:[ \x{00A0}]\d{3})*(?:,\d+)?)\s*kr/(\w+)\s+(-?\d+(?:[ \x{00A0}]\d{3})*(?:,\d+)?)$`)
	multiBuyRe = regexp.MustCompile(
		`^(\d+)\s*st\s*\*\s*(\d+(?:[ \x{00A0}]\d{3})*(?:,\d+)?)\s+(-?\d+(?:[ \x{00A0}]\d{3})*(?:,\d+)?)$`)
)

// classify applies the line classifiers in a fixed order, first match
// wins: discount, weight-priced, multi-buy, generic priced, bare name.
// The ordering is a contract, discounts would otherwise classify as
// priced lines.
func classify(line string) classified {
	if amount, name := lastAmount(line); amount != nil && *amount < 0 {
		return classified{kind: kindDiscount, name: name, amount: amount}
	}

	if m := weightPricedRe.FindStringSubmatch(line); m != nil {
		qty := ParseMoney(m[1])
		unitPrice := ParseMoney(m[3])
		total := ParseMoney(m[5])
		if qty != nil && unitPrice != nil && total != nil {
			return classified{
				kind:      kindWeightPriced,
				quantity:  *qty,
				unit:      m[2],
				unitPrice: unitPrice,
				amount:    total,
			}
		}
	}

	if m := multiBuyRe.FindStringSubmatch(line); m != nil {
		count := ParseMoney(m[1])
		unitPrice := ParseMoney(m[2])
		total := ParseMoney(m[3])
		if count != nil && unitPrice != nil && total != nil {
			return classified{
				kind:      kindMultiBuy,
				quantity:  *count,
				unit:      "st",
				unitPrice: unitPrice,
				amount:    total,
			}
		}
	}

	if amount, name := lastAmount(line); amount != nil {
		return classified{kind: kindPriced, name: name, amount: amount}
	}

	if countLetters(line) > 0 {
		return classified{kind: kindBareName, name: line}
	}
	return classified{kind: kindNoise}
}

// isBoilerplate reports whether a line is store/receipt chrome rather
// than an item. Matches on the first word within edit distance 1, or
// 2 for longer words.
func isBoilerplate(line string) bool {
	word := strings.ToLower(line)
	if i := strings.IndexAny(word, " :"); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return false
	}
	for _, b := range boilerplateWords {
		budget := 1
		if len(b) >= 7 {
			budget = 2
		}
		if matchr.DamerauLevenshtein(word, b) <= budget {
			return true
		}
	}
	return false
}

// isMostlyNumeric catches stray price columns: no letters at all, at
// least 4 digits and at least 2 money-shaped tokens.
func isMostlyNumeric(line string) bool {
	return countLetters(line) == 0 &&
		countDigits(line) >= 4 &&
		len(moneyTokenRe.FindAllString(line, -1)) >= 2
}
