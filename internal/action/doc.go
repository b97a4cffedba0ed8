// Package action decodes inline-button interaction tokens and applies the
// user's Done and Snooze choices to stored reminders.
//
// Both verbs are safe to repeat: every store write is guarded by the
// reminder id and its owning chat, and runs under the reminder's own lease
// so it cannot interleave with a dispatch of the same reminder.
package action
