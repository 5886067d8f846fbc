package billing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/platinummonkey/meterline/pkg/tenants"
)

// Period is a billing interval [Start, End) with its label
type Period struct {
	Label  string
	Cycle  tenants.BillingCycle
	Start  time.Time
	End    time.Time
	Months int
}

// PeriodFor returns the period of the given cycle containing t. Labels are
// "2025-01" for monthly, "2025-Q1" for quarterly and "2025" for annual cycles.
func PeriodFor(cycle tenants.BillingCycle, t time.Time) Period {
	t = t.UTC()
	year, month := t.Year(), t.Month()

	switch cycle {
	case tenants.BillingCycleQuarterly:
		quarter := (int(month)-1)/3 + 1
		start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return Period{
			Label:  fmt.Sprintf("%d-Q%d", year, quarter),
			Cycle:  cycle,
			Start:  start,
			End:    start.AddDate(0, 3, 0),
			Months: 3,
		}
	case tenants.BillingCycleAnnual:
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return Period{
			Label:  strconv.Itoa(year),
			Cycle:  cycle,
			Start:  start,
			End:    start.AddDate(1, 0, 0),
			Months: 12,
		}
	default:
		start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		return Period{
			Label:  start.Format("2006-01"),
			Cycle:  tenants.BillingCycleMonthly,
			Start:  start,
			End:    start.AddDate(0, 1, 0),
			Months: 1,
		}
	}
}

var periodLabelPattern = regexp.MustCompile(`^\d{4}(-(0[1-9]|1[0-2])|-Q[1-4])?$`)

// ValidPeriodLabel reports whether label is a monthly, quarterly or annual period label
func ValidPeriodLabel(label string) bool {
	return periodLabelPattern.MatchString(label)
}

// ParsePeriodLabel returns the period a label denotes
func ParsePeriodLabel(label string) (Period, error) {
	if !ValidPeriodLabel(label) {
		return Period{}, newValidationError("billing_period", fmt.Sprintf("unrecognised period %q", label))
	}
	year, _ := strconv.Atoi(label[:4])

	switch {
	case len(label) == 4:
		return PeriodFor(tenants.BillingCycleAnnual, time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)), nil
	case label[5] == 'Q':
		quarter := int(label[6] - '0')
		return PeriodFor(tenants.BillingCycleQuarterly, time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)), nil
	default:
		month, _ := strconv.Atoi(label[5:7])
		return PeriodFor(tenants.BillingCycleMonthly, time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)), nil
	}
}

// periodYear extracts the calendar year a period label belongs to
func periodYear(label string) int {
	if len(label) >= 4 {
		if year, err := strconv.Atoi(label[:4]); err == nil {
			return year
		}
	}
	return time.Now().UTC().Year()
}
