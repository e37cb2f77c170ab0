package storage

import (
	"database/sql"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/flovyn/flovyn/pkg/storage"
)

func placeholder(n int) string {
	return strconv.Itoa(n)
}

func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

// inTxStore is inTx with the transactional store view instead of the raw tx.
func (s *PostgresStore) inTxStore(fn func(tx storage.Store) error) error {
	if _, ok := s.db.(*sqlx.Tx); ok {
		return fn(s)
	}
	txStore, err := s.Begin()
	if err != nil {
		return err
	}
	if err := fn(txStore); err != nil {
		if rbErr := txStore.Rollback(); rbErr != nil {
			return rbErr
		}
		return err
	}
	return txStore.Commit()
}
