// Package storage is the persistence layer shared by every backend instance.
//
// All mutations are single-record conditional updates:
//   - named leases (process leadership) use an atomic upsert guarded by
//     "expired or already mine"
//   - per-reminder leases and state changes update the reminder row in place
//   - due reminders are found with a sorted, bounded range query
//
// Drivers: "sqlite" (default), "mongo", "memory".
package storage
