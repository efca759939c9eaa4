package blob

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/joestump/menuca-migrate/internal/phpser"
)

// ComboItems expands the V1 combo_groups.dish BLOB, an array of dish ids, to
// one row per dish. The array key is the display order.
type ComboItems struct{}

func (ComboItems) Name() string      { return "combo_items" }
func (ComboItems) Columns() []string { return []string{"dish_id", "display_order"} }

func (ComboItems) Decode(v any) ([][]string, error) {
	arr, ok := v.(*phpser.Array)
	if !ok {
		return nil, fmt.Errorf("expected array of dish ids, got %T", v)
	}
	var rows [][]string
	var issues []string
	for _, e := range arr.Entries {
		id, err := dishID(e.Value)
		if err != nil {
			issues = append(issues, fmt.Sprintf("entry %s: %v", phpser.KeyString(e.Key), err))
			continue
		}
		order, ok := intKey(e.Key)
		if !ok {
			order = 0
		}
		rows = append(rows, []string{strconv.FormatInt(id, 10), strconv.FormatInt(order, 10)})
	}
	if len(issues) > 0 {
		return rows, &PartialError{Issues: issues}
	}
	return rows, nil
}

// dishID reads an integer id. Fractional ids such as "756.2" are truncated.
func dishID(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		return int64(math.Trunc(x)), nil
	case string:
		s := strings.TrimSpace(x)
		if strings.Contains(s, ".") {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid dish id %q", x)
			}
			return int64(math.Trunc(f)), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid dish id %q", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported dish id type %T", v)
	}
}

// ComboRules converts the V1 combo_groups.options BLOB into the combo_rules
// JSON document: item count, display settings and per modifier type rules.
type ComboRules struct{}

func (ComboRules) Name() string      { return "combo_rules" }
func (ComboRules) Columns() []string { return []string{"combo_rules"} }

func (ComboRules) Decode(v any) ([][]string, error) {
	arr, ok := v.(*phpser.Array)
	if !ok {
		return nil, fmt.Errorf("expected array of combo options, got %T", v)
	}

	var rules, modifiers jsonObject
	for _, e := range arr.Entries {
		key := phpser.KeyString(e.Key)
		switch key {
		case "combo", "itemcount":
			n, err := strconv.ParseInt(strings.TrimSpace(phpser.String(e.Value)), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid item count %q", key, phpser.String(e.Value))
			}
			rules.set("item_count", n)
		case "showPizzaIcons":
			rules.set("show_pizza_icons", phpser.String(e.Value) == "Y")
		case "displayHeader":
			rules.set("display_header", phpser.String(e.Value))
		default:
			modType, ok := ModifierTypes[key]
			if !ok {
				continue
			}
			cfg, err := modifierRule(e.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", modType, err)
			}
			modifiers.set(modType, cfg)
		}
	}
	if len(modifiers) > 0 {
		rules.set("modifier_rules", modifiers)
	}
	b, err := json.Marshal(rules)
	if err != nil {
		return nil, err
	}
	return [][]string{{string(b)}}, nil
}

var modifierRuleInts = map[string]string{
	"min":   "min",
	"max":   "max",
	"free":  "free_quantity",
	"order": "display_order",
}

func modifierRule(v any) (jsonObject, error) {
	var cfg jsonObject
	arr, ok := v.(*phpser.Array)
	if !ok {
		cfg.set("enabled", phpser.String(v) == "Y")
		return cfg, nil
	}
	for _, e := range arr.Entries {
		key := phpser.KeyString(e.Key)
		val := strings.TrimSpace(phpser.String(e.Value))
		switch {
		case key == "has":
			cfg.set("enabled", val == "Y")
		case key == "header":
			cfg.set("display_header", phpser.String(e.Value))
		case modifierRuleInts[key] != "":
			n := int64(0)
			if val != "" {
				var err error
				if n, err = strconv.ParseInt(val, 10, 64); err != nil {
					return nil, fmt.Errorf("invalid %s %q", key, val)
				}
			}
			cfg.set(modifierRuleInts[key], n)
		}
	}
	return cfg, nil
}

// jsonObject marshals its fields in insertion order. A later set of the same
// key replaces the value in place.
type jsonObject []jsonField

type jsonField struct {
	key   string
	value any
}

func (o *jsonObject) set(key string, value any) {
	for i := range *o {
		if (*o)[i].key == key {
			(*o)[i].value = value
			return
		}
	}
	*o = append(*o, jsonField{key, value})
}

func (o jsonObject) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// ComboSteps expands the V2 combo group items column, JSON of the form
// {"1": ["9552", "9553|L"], "2": [...]}, to one row per dish. The text after
// a "|" is the size suffix. Display order runs across all steps.
//
// The PHP form of the same structure is accepted by Decode.
type ComboSteps struct{}

func (ComboSteps) Name() string { return "combo_steps" }

func (ComboSteps) Columns() []string {
	return []string{"step", "dish_id", "suffix", "display_order"}
}

func (ComboSteps) DecodeRaw(data []byte) ([][]string, error) {
	var steps stepList
	err := jsonparser.ObjectEach(data, func(key, value []byte, typ jsonparser.ValueType, _ int) error {
		step := stepEntry{key: string(key)}
		if typ != jsonparser.Array {
			step.notList = true
			steps = append(steps, step)
			return nil
		}
		var itemErr error
		_, err := jsonparser.ArrayEach(value, func(item []byte, typ jsonparser.ValueType, _ int, _ error) {
			switch typ {
			case jsonparser.String:
				s, err := jsonparser.ParseString(item)
				if err != nil && itemErr == nil {
					itemErr = err
				}
				step.dishes = append(step.dishes, s)
			case jsonparser.Number:
				step.dishes = append(step.dishes, string(item))
			}
		})
		if err == nil {
			err = itemErr
		}
		if err != nil {
			return fmt.Errorf("step %s: %w", key, err)
		}
		steps = append(steps, step)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse combo steps: %w", err)
	}
	return steps.rows()
}

func (ComboSteps) Decode(v any) ([][]string, error) {
	arr, ok := v.(*phpser.Array)
	if !ok {
		return nil, fmt.Errorf("expected array of steps, got %T", v)
	}
	var steps stepList
	for _, e := range arr.Entries {
		step := stepEntry{key: phpser.KeyString(e.Key)}
		dishes, ok := e.Value.(*phpser.Array)
		if !ok {
			step.notList = true
		} else {
			for _, d := range dishes.Values() {
				step.dishes = append(step.dishes, phpser.String(d))
			}
		}
		steps = append(steps, step)
	}
	return steps.rows()
}

type stepEntry struct {
	key     string
	dishes  []string
	notList bool
}

type stepList []stepEntry

func (l stepList) rows() ([][]string, error) {
	var rows [][]string
	var issues []string
	order := 0
	for _, step := range l {
		n, err := strconv.Atoi(strings.TrimSpace(step.key))
		if err != nil {
			issues = append(issues, fmt.Sprintf("invalid step key %q", step.key))
			continue
		}
		if step.notList {
			issues = append(issues, fmt.Sprintf("step %d is not a list", n))
			continue
		}
		for _, d := range step.dishes {
			d = strings.TrimSpace(d)
			if d == "" {
				continue
			}
			id, suffix, _ := strings.Cut(d, "|")
			rows = append(rows, []string{
				strconv.Itoa(n),
				strings.TrimSpace(id),
				strings.TrimSpace(suffix),
				strconv.Itoa(order),
			})
			order++
		}
	}
	if len(issues) > 0 {
		return rows, &PartialError{Issues: issues}
	}
	return rows, nil
}
