package store

import (
	"fmt"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// Open opens (creating if necessary) the account database at dbfile
// and returns a read/write connection pool, sized the way
// spilldb/db.Open sizes its pool.
func Open(dbfile string) (*sqlitex.Pool, error) {
	conn, err := sqlite.OpenConn(dbfile, 0)
	if err != nil {
		return nil, fmt.Errorf("store.Open: init open: %v", err)
	}
	if err := Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store.Open: init: %v", err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("store.Open: init close: %v", err)
	}
	pool, err := sqlitex.Open(dbfile, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("store.Open: pool: %v", err)
	}
	return pool, nil
}

// Init creates the schema on conn if it does not already exist and
// applies the account database's pragmas.
func Init(conn *sqlite.Conn) error {
	if err := sqlitex.ExecTransient(conn, "PRAGMA journal_mode=WAL;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecTransient(conn, "PRAGMA foreign_keys=ON;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecScript(conn, createSQL); err != nil {
		return err
	}
	return nil
}

// InsertRandID mirrors spillbox.InsertRandID: it retries stmt with a
// fresh random rowid in [minVal, 1<<23) bound to param until the
// insert succeeds, so rowids are sparse (harder to enumerate) rather
// than sequential.
func InsertRandID(stmt *sqlite.Stmt, param string) (id int64, err error) {
	return sqlitex.InsertRandID(stmt, param, 1, 1<<23)
}
