// Package recurrence computes the next trigger instant of a reminder schedule.
//
// All wall-clock arithmetic happens in the reminder's civil timezone via
// time.Date, never by adding fixed durations, so "every day at 09:00" stays at
// 09:00 across daylight-saving transitions. The interval kind is the single
// exception: it is duration-based by definition.
package recurrence
