package service

import (
	"time"

	"freshness-orders/internal/model"
)

// nextDeliveryDate is the first delivery day strictly after day. Daily plans
// advance one day, weekly plans take the smallest advance that lands on a
// listed weekday.
func nextDeliveryDate(sub *model.Subscription, day time.Time) time.Time {
	if sub.Frequency == model.FrequencyDaily {
		return day.AddDate(0, 0, 1)
	}
	for d := 1; d <= 7; d++ {
		candidate := day.AddDate(0, 0, d)
		if sub.DeliversOn(candidate.Weekday()) {
			return candidate
		}
	}
	return day.AddDate(0, 0, 7)
}

// firstDeliveryDate aligns start to the first delivery day on or after it.
func firstDeliveryDate(sub *model.Subscription, start time.Time) time.Time {
	if sub.DeliversOn(start.Weekday()) {
		return start
	}
	return nextDeliveryDate(sub, start)
}

// isDue reports whether sub should produce an order for day.
func isDue(sub *model.Subscription, day time.Time) bool {
	return sub.Status == model.SubscriptionActive &&
		!sub.NextDeliveryDate.After(day) &&
		sub.DeliversOn(day.Weekday())
}
