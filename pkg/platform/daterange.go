package platform

import (
	"time"

	"github.com/telekom/acctl/pkg/autherr"
)

// DateLayout is the YYYY-MM-DD format report ranges are given in.
const DateLayout = "2006-01-02"

// DefaultRangeDays is the report window used when no "from" date is given.
const DefaultRangeDays = 14

// DateRange bounds an activity or usage report. Empty fields take defaults:
// To is today and From is DefaultRangeDays before To.
type DateRange struct {
	From string
	To   string
}

// Resolve validates r and returns its bounds as UTC midnights.
func (r DateRange) Resolve(now time.Time) (from, to time.Time, err error) {
	to = now.UTC().Truncate(24 * time.Hour)
	if r.To != "" {
		if to, err = time.Parse(DateLayout, r.To); err != nil {
			return time.Time{}, time.Time{}, autherr.Type(`Expected "to" date to be in the format YYYY-MM-DD`)
		}
	}
	from = to.AddDate(0, 0, -DefaultRangeDays)
	if r.From != "" {
		if from, err = time.Parse(DateLayout, r.From); err != nil {
			return time.Time{}, time.Time{}, autherr.Type(`Expected "from" date to be in the format YYYY-MM-DD`)
		}
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, autherr.Type(`Expected "from" date to be before "to" date`)
	}
	return from, to, nil
}
