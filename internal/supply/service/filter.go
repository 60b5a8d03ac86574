package service

import (
	"time"

	"github.com/jinzhu/now"
)

// DateRange turns date_from/date_to (any layout jinzhu/now understands, e.g.
// 2026-10-01) into a half-open [from, to) range covering whole days. month
// (2026-10) selects a calendar month and wins over the explicit bounds.
func DateRange(dateFrom, dateTo, month string) (from, to *time.Time, err error) {
	if month != "" {
		t, err := now.Parse(month)
		if err != nil {
			return nil, nil, invalidf("month: %v", err)
		}
		b := now.With(t).BeginningOfMonth()
		e := b.AddDate(0, 1, 0)
		return &b, &e, nil
	}
	if dateFrom != "" {
		t, err := now.Parse(dateFrom)
		if err != nil {
			return nil, nil, invalidf("date_from: %v", err)
		}
		b := now.With(t).BeginningOfDay()
		from = &b
	}
	if dateTo != "" {
		t, err := now.Parse(dateTo)
		if err != nil {
			return nil, nil, invalidf("date_to: %v", err)
		}
		e := now.With(t).BeginningOfDay().AddDate(0, 0, 1)
		to = &e
	}
	if from != nil && to != nil && !from.Before(*to) {
		return nil, nil, invalidf("date_from must not be after date_to")
	}
	return from, to, nil
}
