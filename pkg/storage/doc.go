// Package storage opens the connections accessgate keeps to external
// stores. The postgres subpackage manages SQL pools; NewRedisClient builds
// the redis client shared by the rate limiter and the permission cache.
package storage
