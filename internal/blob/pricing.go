package blob

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joestump/menuca-migrate/internal/phpser"
)

// ModifierTypes maps the legacy modifier codes to their names.
var ModifierTypes = map[string]string{
	"ci": "custom_ingredients",
	"e":  "extras",
	"sd": "side_dishes",
	"d":  "drinks",
	"sa": "sauces",
	"br": "bread",
	"dr": "dressing",
	"cm": "cooking_method",
}

// SizeOrder is the order of comma-separated multi-size prices.
var SizeOrder = []string{"S", "M", "L", "XL", "XXL"}

var (
	minPrice = decimal.Zero
	maxPrice = decimal.NewFromInt(50)
)

// ModifierPricing decodes the combo group pricing BLOB:
// modifier_type -> ingredient_group_id -> ingredient_id -> price. Prices are
// a single amount or a comma list of per-size amounts.
type ModifierPricing struct{}

func (ModifierPricing) Name() string { return "modifier_pricing" }

func (ModifierPricing) Columns() []string {
	return []string{"ingredient_group_id", "modifier_type", "pricing_rules"}
}

func (ModifierPricing) Decode(v any) ([][]string, error) {
	top, ok := v.(*phpser.Array)
	if !ok {
		return nil, fmt.Errorf("expected array of modifier types, got %T", v)
	}

	var rows [][]string
	var issues []string
	for _, mod := range top.Entries {
		code := phpser.KeyString(mod.Key)
		modType, ok := ModifierTypes[code]
		if !ok {
			modType = code
		}
		groups, ok := mod.Value.(*phpser.Array)
		if !ok {
			continue
		}
		for _, g := range groups.Entries {
			groupID, ok := intKey(g.Key)
			if !ok {
				issues = append(issues, fmt.Sprintf("%s: invalid ingredient group %q", modType, phpser.KeyString(g.Key)))
				continue
			}
			ingredients, ok := g.Value.(*phpser.Array)
			if !ok {
				continue
			}

			var rules strings.Builder
			n := 0
			for _, ing := range ingredients.Entries {
				ingID, ok := intKey(ing.Key)
				if !ok {
					issues = append(issues, fmt.Sprintf("%s group %d: invalid ingredient %q", modType, groupID, phpser.KeyString(ing.Key)))
					continue
				}
				price, err := priceJSON(phpser.String(ing.Value))
				if err != nil {
					issues = append(issues, fmt.Sprintf("%s group %d ingredient %d: %v", modType, groupID, ingID, err))
					continue
				}
				if n > 0 {
					rules.WriteByte(',')
				}
				fmt.Fprintf(&rules, `"%d":%s`, ingID, price)
				n++
			}
			if n == 0 {
				continue
			}
			rows = append(rows, []string{
				strconv.FormatInt(groupID, 10),
				modType,
				"{" + rules.String() + "}",
			})
		}
	}
	if len(issues) > 0 {
		return rows, &PartialError{Issues: issues}
	}
	return rows, nil
}

// priceJSON renders one price cell as a JSON number, or as a size map for
// comma-separated lists.
func priceJSON(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, ",") {
		d, err := parsePrice(raw)
		if err != nil {
			return "", err
		}
		return d.String(), nil
	}

	var parts []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, p := range parts {
		d, err := parsePrice(p)
		if err != nil {
			return "", fmt.Errorf("multi-size price %q: %w", raw, err)
		}
		if i >= len(SizeOrder) {
			break
		}
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `"%s":%s`, SizeOrder[i], d.String())
	}
	b.WriteByte('}')
	return b.String(), nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid price %q", s)
	}
	if d.LessThan(minPrice) || d.GreaterThan(maxPrice) {
		return decimal.Decimal{}, fmt.Errorf("price %s out of range [%s, %s]", d, minPrice, maxPrice)
	}
	return d, nil
}

func intKey(k any) (int64, bool) {
	switch x := k.(type) {
	case int64:
		return x, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
