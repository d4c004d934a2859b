// Package store defines interfaces for persisting capture history. Concrete
// implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store
