// Package scheduler owns the periodic triggers of the process: the reminder
// poller tick, leader lease renewal and the housekeeping job. Triggers are
// robfig/cron entries; a trigger never overlaps with its own previous run.
package scheduler
