package blob

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joestump/menuca-migrate/internal/phpser"
)

// JSON writes the whole value as JSON.
type JSON struct{}

func (JSON) Name() string      { return "json" }
func (JSON) Columns() []string { return []string{"json"} }

func (JSON) Decode(v any) ([][]string, error) {
	b, err := phpser.ToJSON(v)
	if err != nil {
		return nil, err
	}
	return [][]string{{string(b)}}, nil
}

// IDList flattens an array of ids into a JSON array of strings. It decodes
// the deals exceptions and items columns.
type IDList struct{}

func (IDList) Name() string      { return "id_list" }
func (IDList) Columns() []string { return []string{"ids"} }

func (IDList) Decode(v any) ([][]string, error) {
	vals, err := arrayValues(v)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(vals))
	for _, val := range vals {
		if s := strings.TrimSpace(phpser.String(val)); s != "" {
			ids = append(ids, s)
		}
	}
	return [][]string{{jsonStrings(ids)}}, nil
}

var weekdayNumbers = map[string]string{
	"1": "mon",
	"2": "tue",
	"3": "wed",
	"4": "thu",
	"5": "fri",
	"6": "sat",
	"7": "sun",
}

// Weekdays maps ISO day numbers 1..7 to short day names (deals active_days).
type Weekdays struct{}

func (Weekdays) Name() string      { return "weekdays" }
func (Weekdays) Columns() []string { return []string{"days"} }

func (Weekdays) Decode(v any) ([][]string, error) {
	vals, err := arrayValues(v)
	if err != nil {
		return nil, err
	}
	days := make([]string, 0, len(vals))
	var skipped []string
	for _, val := range vals {
		s := strings.TrimSpace(phpser.String(val))
		if d, ok := weekdayNumbers[s]; ok {
			days = append(days, d)
		} else if s != "" {
			skipped = append(skipped, fmt.Sprintf("unknown day %q", s))
		}
	}
	rows := [][]string{{jsonStrings(days)}}
	if len(skipped) > 0 {
		return rows, &PartialError{Issues: skipped}
	}
	return rows, nil
}

var weekOrder = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

var dayCodes = map[string]string{
	"sun": "sunday",
	"mon": "monday",
	"tue": "tuesday",
	"wed": "wednesday",
	"thu": "thursday",
	"fri": "friday",
	"sat": "saturday",
}

// HideOnDays turns the list of days a dish is hidden on into an availability
// schedule where true means the dish is offered that day.
type HideOnDays struct{}

func (HideOnDays) Name() string      { return "hide_on_days" }
func (HideOnDays) Columns() []string { return []string{"availability_schedule"} }

func (HideOnDays) Decode(v any) ([][]string, error) {
	hidden := map[string]bool{}
	if v != nil {
		vals, err := arrayValues(v)
		if err != nil {
			return nil, err
		}
		for _, val := range vals {
			s := strings.ToLower(strings.TrimSpace(phpser.String(val)))
			if len(s) >= 3 {
				if day, ok := dayCodes[s[:3]]; ok {
					hidden[day] = true
				}
			}
		}
	}

	var b strings.Builder
	b.WriteByte('{')
	for i, day := range weekOrder {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q:%t", day, !hidden[day])
	}
	b.WriteByte('}')
	return [][]string{{b.String()}}, nil
}

func arrayValues(v any) ([]any, error) {
	switch x := v.(type) {
	case *phpser.Array:
		return x.Values(), nil
	case *phpser.Object:
		return x.Values(), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected array, got %T", v)
	}
}

func jsonStrings(s []string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
