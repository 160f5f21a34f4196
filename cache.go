// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlreq

import (
	"context"
	"database/sql"
	"runtime"
	"sync"
	"sync/atomic"
)

// dbIDCount generates unique IDs for DBs. Request identities come from the
// requestIDs allocator in ident.go.
var dbIDCount uint64

// statementCache caches the sql.Stmt objects prepared for each Request. A
// Request can correspond to multiple sql.Stmt values on different databases.
// The cache is indexed by the request identity and the DB ID.
//
// The cache closes sql.Stmt objects with a finalizer on the Request.
// Similarly a finalizer is set on DB objects to close all statements
// prepared on the DB and remove references to the DB from the cache.
//
// The mutex must be locked when accessing either the stmtDBCache or the
// dbStmtCache.
type statementCache struct {
	stmtDBCache map[uint64]map[uint64]*sql.Stmt
	dbStmtCache map[uint64]map[uint64]bool
	mutex       sync.RWMutex
}

var stmtCacheOnce sync.Once
var singleStmtCache *statementCache

// stmtCache is the single instance of the statement cache.
var stmtCache = newStatementCache()

func newStatementCache() *statementCache {
	stmtCacheOnce.Do(func() {
		singleStmtCache = &statementCache{
			stmtDBCache: map[uint64]map[uint64]*sql.Stmt{},
			dbStmtCache: map[uint64]map[uint64]bool{},
		}
	})
	return singleStmtCache
}

// register allocates an identity for a non-oneshot Request and enters it in
// the cache. A finalizer is set on the Request to remove all sql.Stmt values
// associated with it from the cache and close them once the Request is
// garbage collected.
func (sc *statementCache) register(r *Request) {
	r.id = requestIDs.Next()
	sc.mutex.Lock()
	sc.stmtDBCache[r.id] = map[uint64]*sql.Stmt{}
	sc.mutex.Unlock()
	runtime.SetFinalizer(r, sc.requestFinalizer)
}

// newDB returns a new DB and allocates it in the cache. A finalizer is set
// on the DB which removes it from the cache and closes all sql.Stmt values
// prepared upon it once the DB is garbage collected.
func (sc *statementCache) newDB(sqldb *sql.DB, info DriverInfo) *DB {
	cacheID := atomic.AddUint64(&dbIDCount, 1)
	sc.mutex.Lock()
	sc.dbStmtCache[cacheID] = map[uint64]bool{}
	sc.mutex.Unlock()
	db := &DB{sqldb: sqldb, info: info, cacheID: cacheID}
	runtime.SetFinalizer(db, sc.dbFinalizer)
	return db
}

// lookupStmt returns the statement prepared for the request on the DB, if
// there is one.
func (sc *statementCache) lookupStmt(db *DB, r *Request) (*sql.Stmt, bool) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	// The request identity is only removed from the cache when the finalizer
	// is run, so it is always in stmtDBCache.
	sqlstmt, ok := sc.stmtDBCache[r.id][db.cacheID]
	return sqlstmt, ok
}

// prepareSubstrate is an object that queries can be prepared on, e.g. a
// sql.DB or sql.Conn.
type prepareSubstrate interface {
	PrepareContext(context.Context, string) (*sql.Stmt, error)
}

// prepareStmt prepares a request on a prepareSubstrate, first checking the
// cache for a statement already prepared on the DB. At most one prepared
// statement per (request identity, DB) pair survives concurrent first use.
// The prepareSubstrate must be associated with the DB passed to prepareStmt.
func (sc *statementCache) prepareStmt(ctx context.Context, db *DB, ps prepareSubstrate, r *Request, sqlText string) (*sql.Stmt, error) {
	sqlstmt, ok := sc.lookupStmt(db, r)
	if ok {
		return sqlstmt, nil
	}
	sqlstmt, err := ps.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	sc.mutex.Lock()
	// Check if a statement has been inserted by someone else since we last
	// checked.
	sqlstmtAlt, ok := sc.stmtDBCache[r.id][db.cacheID]
	if ok {
		sqlstmt.Close()
		sqlstmt = sqlstmtAlt
	} else {
		sc.stmtDBCache[r.id][db.cacheID] = sqlstmt
		sc.dbStmtCache[db.cacheID][r.id] = true
	}
	sc.mutex.Unlock()
	return sqlstmt, nil
}

// requestFinalizer removes a Request from the cache and closes all sql.Stmt
// values prepared for it.
func (sc *statementCache) requestFinalizer(r *Request) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	dbCache := sc.stmtDBCache[r.id]
	for dbCacheID, sqlstmt := range dbCache {
		sqlstmt.Close()
		delete(sc.dbStmtCache[dbCacheID], r.id)
	}
	delete(sc.stmtDBCache, r.id)
}

// dbFinalizer closes and removes from the cache all sql.Stmt values prepared
// on the database, then removes the database from the cache. The underlying
// sql.DB is left for its owner to close.
func (sc *statementCache) dbFinalizer(db *DB) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	for reqID := range sc.dbStmtCache[db.cacheID] {
		dbCache := sc.stmtDBCache[reqID]
		dbCache[db.cacheID].Close()
		delete(dbCache, db.cacheID)
	}
	delete(sc.dbStmtCache, db.cacheID)
}
