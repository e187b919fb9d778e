package varjoblock

import (
	"time"

	"github.com/function61/varjo/pkg/blorm"
	bolt "go.etcd.io/bbolt"
)

type storedBlock struct {
	Path    string
	Owner   string
	Created time.Time
}

var blockRepository = blorm.NewSimpleRepo[storedBlock]("blocks", func(b *storedBlock) []byte {
	return []byte(b.Path)
})

// persists blocks so they survive restarts
type Store struct {
	db *bolt.DB
}

func OpenStore(dbLocation string) (*Store, error) {
	// timeout so that a second instance on the same DB errors out instead of hanging
	db, err := bolt.Open(dbLocation, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(blockRepository.Bootstrap); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(block Block) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return blockRepository.Update(&storedBlock{
			Path:    block.Path,
			Owner:   block.Owner,
			Created: block.Created,
		}, tx)
	})
}

func (s *Store) Delete(blockPath string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return blockRepository.Delete(&storedBlock{Path: blockPath}, tx)
	})
}

func (s *Store) All() ([]Block, error) {
	blocks := []Block{}

	return blocks, s.db.View(func(tx *bolt.Tx) error {
		return blockRepository.Each(func(record *storedBlock) error {
			blocks = append(blocks, Block{
				Path:    record.Path,
				Owner:   record.Owner,
				Created: record.Created,
			})
			return nil
		}, tx)
	})
}
