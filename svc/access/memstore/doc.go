// Package memstore is an in-memory access.Store for tests, demos and
// single-process deployments. The same value also implements
// session.Store and audit.Storage.
package memstore
