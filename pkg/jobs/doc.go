// Package jobs runs accessgate's periodic maintenance: sweeping expired
// permission cache entries and rate limit windows, pruning unreachable
// read replicas and enforcing audit retention.
package jobs
