// Package receiptparse turns the loosely structured plain text of a
// digital grocery receipt into priced line items. Parsing is a pure
// function of the input text.
package receiptparse

import (
	"math"
	"regexp"
	"strings"
)

type Item struct {
	Name      string   `json:"name"`
	Quantity  float64  `json:"quantity"`
	Unit      string   `json:"unit"`
	UnitPrice *float64 `json:"unit_price,omitempty"`
	BasePrice *float64 `json:"base_price,omitempty"`
	// accumulated discounts, always <= 0
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`
}

type Receipt struct {
	Items     []Item  `json:"items"`
	LineCount int     `json:"line_count"`
	ItemCount int     `json:"item_count"`
	Total     float64 `json:"total"`
}

var innerSpaceRe = regexp.MustCompile(`[ \t\x{00A0}]+`)
var resegmentRe = regexp.MustCompile(`\s{2,}|\n`)

// Parse converts receipt text into structured line items. Identical
// input always yields identical output.
func Parse(text string) Receipt {
	lines := candidateLines(strings.Split(text, "\n"))

	// a handful of surviving lines usually means the extractor kept
	// the receipt's column layout on single lines instead of breaking
	// them, resplit on the column gaps and try again
	if len(lines) <= 3 {
		if resplit := candidateLines(resegmentRe.Split(text, -1)); len(resplit) > len(lines) {
			lines = resplit
		}
	}

	items := reconstruct(lines)

	out := Receipt{LineCount: len(lines)}
	for _, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			continue
		}
		if countLetters(item.Name) == 0 {
			continue
		}
		out.Items = append(out.Items, item)
		out.Total += item.Total
	}
	out.Total = round2(out.Total)
	out.ItemCount = len(out.Items)
	return out
}

// candidateLines normalizes raw lines and drops everything that can't
// be part of an item: blank lines, receipt chrome, stray price
// columns.
func candidateLines(raw []string) []string {
	var lines []string
	for _, line := range raw {
		line = strings.TrimSpace(innerSpaceRe.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		if isBoilerplate(line) || isMostlyNumeric(line) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// reconstruct walks classified lines in order, carrying at most one
// pending item. A bare name or a priced line opens a pending item
// that a following weight-priced line may complete; anything else
// commits the pending item first.
func reconstruct(lines []string) []Item {
	var items []Item
	var pending *Item

	commit := func() {
		if pending == nil {
			return
		}
		items = append(items, reconcile(*pending))
		pending = nil
	}

	for _, line := range lines {
		c := classify(line)
		switch c.kind {
		case kindNoise:
			continue

		case kindBareName:
			commit()
			pending = &Item{Name: c.name, Quantity: 1, Unit: "st"}

		case kindPriced:
			commit()
			pending = &Item{
				Name:      c.name,
				Quantity:  1,
				Unit:      "st",
				BasePrice: c.amount,
			}

		case kindWeightPriced:
			// continuation of the pending item's name, or a nameless
			// weight line on its own
			if pending == nil {
				pending = &Item{}
			}
			pending.Quantity = c.quantity
			pending.Unit = c.unit
			pending.UnitPrice = c.unitPrice
			pending.BasePrice = c.amount
			commit()

		case kindMultiBuy:
			if pending != nil && pending.BasePrice == nil {
				pending.Quantity = c.quantity
				pending.Unit = c.unit
				pending.UnitPrice = c.unitPrice
				pending.BasePrice = c.amount
				commit()
				continue
			}
			commit()
			items = append(items, reconcile(Item{
				Quantity:  c.quantity,
				Unit:      c.unit,
				UnitPrice: c.unitPrice,
				BasePrice: c.amount,
			}))

		case kindDiscount:
			if pending != nil {
				pending.Discount += *c.amount
				continue
			}
			if len(items) > 0 {
				last := &items[len(items)-1]
				last.Discount += *c.amount
				*last = reconcile(*last)
				continue
			}
			// discount with nothing to attach to, keep it as its own
			// negative item so the receipt still reconciles
			items = append(items, reconcile(Item{
				Name:     c.name,
				Quantity: 1,
				Unit:     "st",
				Discount: *c.amount,
			}))
		}
	}
	commit()
	return items
}

func reconcile(item Item) Item {
	base := 0.0
	if item.BasePrice != nil {
		base = *item.BasePrice
	}
	item.Total = round2(base + item.Discount)
	return item
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
