package blob

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joestump/menuca-migrate/internal/csvio"
	"github.com/joestump/menuca-migrate/internal/phpser"
)

// MenuOthers expands the V1 menuothers.content BLOB, {content: {ingredient
// id: price}, radio: group id}, into one dish modifier row per ingredient.
// The modifier type comes from the row's type column and the ingredient
// group falls back to its groupId column when the BLOB has no radio entry.
type MenuOthers struct{}

func (MenuOthers) Name() string { return "menuothers" }

func (MenuOthers) Columns() []string {
	return []string{"ingredient_id", "ingredient_group_id", "base_price", "price_by_size", "modifier_type", "is_included"}
}

func (m MenuOthers) Decode(v any) ([][]string, error) {
	return m.DecodeRecord(v, csvio.Record{})
}

func (MenuOthers) DecodeRecord(v any, rec csvio.Record) ([][]string, error) {
	arr, ok := v.(*phpser.Array)
	if !ok {
		return nil, fmt.Errorf("expected menuothers array, got %T", v)
	}

	code, _ := rec.Get("type")
	modType, ok := ModifierTypes[strings.TrimSpace(code)]
	if !ok {
		modType = "other"
	}

	group, _ := rec.Get("groupId")
	group = strings.TrimSpace(group)
	if radio, ok := arr.Get("radio"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(phpser.String(radio)), 10, 64); err == nil {
			group = strconv.FormatInt(n, 10)
		}
	}
	if group == "0" {
		group = ""
	}

	content, _ := arr.Get("content")
	ingredients, ok := content.(*phpser.Array)
	if !ok {
		return nil, nil
	}

	var rows [][]string
	var issues []string
	for _, e := range ingredients.Entries {
		ingID, ok := intKey(e.Key)
		if !ok {
			issues = append(issues, fmt.Sprintf("invalid ingredient %q", phpser.KeyString(e.Key)))
			continue
		}
		raw := strings.TrimSpace(phpser.String(e.Value))
		row := []string{strconv.FormatInt(ingID, 10), group, "", "", modType, "false"}
		if strings.Contains(raw, ",") {
			sizes, err := priceJSON(raw)
			if err != nil {
				issues = append(issues, fmt.Sprintf("ingredient %d: %v", ingID, err))
				continue
			}
			row[3] = sizes
		} else {
			price, err := parsePrice(raw)
			if err != nil {
				issues = append(issues, fmt.Sprintf("ingredient %d: %v", ingID, err))
				continue
			}
			row[2] = price.String()
			if price.IsZero() {
				row[5] = "true"
			}
		}
		rows = append(rows, row)
	}
	if len(issues) > 0 {
		return rows, &PartialError{Issues: issues}
	}
	return rows, nil
}
