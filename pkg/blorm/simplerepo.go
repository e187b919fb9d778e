package blorm

import (
	"errors"
	"fmt"

	"github.com/asdine/storm/codec/msgpack"
	bolt "go.etcd.io/bbolt"
)

var errNoBucket = errors.New("blorm: bucket not found")

type simpleRepository[T any] struct {
	bucketName  []byte
	idExtractor func(record *T) []byte
}

func NewSimpleRepo[T any](bucketName string, idExtractor func(*T) []byte) Repository[T] {
	return &simpleRepository[T]{
		bucketName:  []byte(bucketName),
		idExtractor: idExtractor,
	}
}

// safe to call on every start
func (r *simpleRepository[T]) Bootstrap(tx *bolt.Tx) error {
	_, err := tx.CreateBucketIfNotExists(r.bucketName)
	return err
}

func (r *simpleRepository[T]) OpenByPrimaryKey(id []byte, tx *bolt.Tx) (*T, error) {
	bucket := tx.Bucket(r.bucketName)
	if bucket == nil {
		return nil, errNoBucket
	}

	data := bucket.Get(id)
	if data == nil {
		return nil, ErrNotFound
	}

	record := new(T)
	if err := msgpack.Codec.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}

	return record, nil
}

func (r *simpleRepository[T]) Update(record *T, tx *bolt.Tx) error {
	bucket := tx.Bucket(r.bucketName)
	if bucket == nil {
		return errNoBucket
	}

	data, err := msgpack.Codec.Marshal(record)
	if err != nil {
		return err
	}

	return bucket.Put(r.idExtractor(record), data)
}

func (r *simpleRepository[T]) Delete(record *T, tx *bolt.Tx) error {
	bucket := tx.Bucket(r.bucketName)
	if bucket == nil {
		return errNoBucket
	}

	id := r.idExtractor(record)

	if bucket.Get(id) == nil { // bucket.Delete() does not return error for non-existing keys
		return ErrNotFound
	}

	return bucket.Delete(id)
}

func (r *simpleRepository[T]) Each(fn func(record *T) error, tx *bolt.Tx) error {
	bucket := tx.Bucket(r.bucketName)
	if bucket == nil {
		return errNoBucket
	}

	all := bucket.Cursor()
	for key, value := all.First(); key != nil; key, value = all.Next() {
		record := new(T)

		if err := msgpack.Codec.Unmarshal(value, record); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}

		if err := fn(record); err != nil {
			if err == StopIteration {
				return nil // not an error, so don't give one out
			}

			return err
		}
	}

	return nil
}
