// Package entitlement decides whether a caller may run a detection check and
// keeps the per-identity balance that decision is based on.
//
// Every identity owns one Record holding a weekly free allowance, a balance of
// purchased credits and an optional unlimited subscription plan. Policy is the
// pure decision function over a Record; Service is the only writer. It runs
// the policy inside a Store.Update call so the read, the decision and the
// decrement commit as one atomic step per identity.
//
// Payment events go through Service.Credit, Service.Activate and
// Service.Lapse, which use Store.ApplyOnce: the event id is recorded in the
// same write as the balance change, so a redelivered event is detected and
// never applied twice.
//
// Store implementations live in subpackages (pgstore, redisstore,
// sqlitestore); MemoryStore in this package serves tests and single-process
// deployments.
package entitlement
