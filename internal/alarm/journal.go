package alarm

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Journal records which (reminder, day, slot) occurrences have already fired,
// so a slot cannot ring twice on the same day even across a process restart
// within the scheduled minute.
type Journal interface {
	// MarkFired records the occurrence and reports whether it had already
	// been recorded.
	MarkFired(reminderID, day, slot string) (already bool, err error)
}

type badgerJournal struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerJournal creates a fired-slot journal over badger. Entries expire
// after 24 hours; the key embeds the day, so expiry is a cleanup detail rather
// than a correctness one.
func NewBadgerJournal(db *badger.DB) Journal {
	return &badgerJournal{db: db, ttl: 24 * time.Hour}
}

func (j *badgerJournal) MarkFired(reminderID, day, slot string) (bool, error) {
	key := []byte(fmt.Sprintf("fired/%s/%s/%s", reminderID, day, slot))

	already := false
	err := j.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			already = true
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		entry := badger.NewEntry(key, []byte{1}).WithTTL(j.ttl)
		return txn.SetEntry(entry)
	})
	return already, err
}
