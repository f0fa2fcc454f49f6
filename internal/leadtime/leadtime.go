package leadtime

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Unit string

const (
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
	Days    Unit = "days"
)

// DefaultUnit applies when a token has no unit or an unknown one.
// Existing event configuration relies on "2" meaning two hours.
const DefaultUnit = Hours

// LeadTime is how long before an event a reminder should fire.
type LeadTime struct {
	Unit  Unit
	Value int
}

func (l LeadTime) Duration() time.Duration {
	return time.Duration(l.Value) * l.Unit.size()
}

func (u Unit) size() time.Duration {
	switch u {
	case Minutes:
		return time.Minute
	case Days:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

func (l LeadTime) String() string {
	return fmt.Sprintf("%d_%s", l.Value, l.Unit)
}

// Parse reads a comma-separated lead-time list such as "24_hours, 30_minutes".
// Malformed tokens are dropped; order and duplicates are preserved.
func Parse(spec string) []LeadTime {
	var out []LeadTime
	for _, raw := range strings.Split(spec, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		lt, err := ParseToken(token)
		if err != nil {
			log.Debug().Err(err).Str("token", token).Msg("Dropping lead time token")
			continue
		}
		out = append(out, lt)
	}
	return out
}

// ParseToken parses a single <integer>[_<unit>] token.
func ParseToken(token string) (LeadTime, error) {
	num, unit, hasUnit := strings.Cut(strings.TrimSpace(token), "_")

	value, err := strconv.Atoi(num)
	if err != nil {
		return LeadTime{}, fmt.Errorf("invalid lead time %q: %w", token, err)
	}
	if value <= 0 {
		return LeadTime{}, fmt.Errorf("invalid lead time %q: value must be positive", token)
	}

	lt := LeadTime{Unit: DefaultUnit, Value: value}
	if hasUnit {
		switch u := Unit(strings.ToLower(unit)); u {
		case Minutes, Hours, Days:
			lt.Unit = u
		default:
			log.Debug().Str("token", token).Str("unit", unit).Msg("Unknown lead time unit, defaulting to hours")
		}
	}
	if int64(lt.Value) > math.MaxInt64/int64(lt.Unit.size()) {
		return LeadTime{}, fmt.Errorf("invalid lead time %q: out of range", token)
	}
	return lt, nil
}
