// "Bolt Light ORM", doesn't do much else than persist structs into Bolt..
package blorm

import (
	"errors"

	bolt "go.etcd.io/bbolt"
)

var (
	ErrNotFound   = errors.New("database: record not found")
	StopIteration = errors.New("blorm: stop iteration")
)

type Repository[T any] interface {
	Bootstrap(tx *bolt.Tx) error
	OpenByPrimaryKey(id []byte, tx *bolt.Tx) (*T, error)
	Update(record *T, tx *bolt.Tx) error
	Delete(record *T, tx *bolt.Tx) error
	// return blorm.StopIteration from "fn" to stop iteration. that error is not returned
	// to the API caller
	Each(fn func(record *T) error, tx *bolt.Tx) error
}
