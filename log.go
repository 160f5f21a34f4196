// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlreq

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/canonical/sqlreq/typedesc"
)

// debugValuesFlag gates the inclusion of parameter values in debug output
// and trace events. It defaults to the SQLREQ_DEBUG_VALUES environment
// variable and is off unless explicitly enabled.
var debugValuesFlag uint32

func init() {
	if on, err := strconv.ParseBool(os.Getenv("SQLREQ_DEBUG_VALUES")); err == nil && on {
		atomic.StoreUint32(&debugValuesFlag, 1)
	}
}

// SetDebugValues enables or disables the inclusion of parameter values,
// redacted ones included, in debug output and trace events.
func SetDebugValues(on bool) {
	var v uint32
	if on {
		v = 1
	}
	atomic.StoreUint32(&debugValuesFlag, v)
}

// DebugValues reports whether parameter values are included in debug output.
func DebugValues() bool {
	return atomic.LoadUint32(&debugValuesFlag) == 1
}

var loggerMutex sync.RWMutex
var logger = zerolog.Nop()

// SetLogger installs a logger for query tracing. Trace events are emitted at
// debug level with the dialect, request identity, multiplicity, rendered SQL
// and timing of every execution. Parameter values are only included when
// value debugging is enabled. By default nothing is logged.
func SetLogger(l zerolog.Logger) {
	loggerMutex.Lock()
	logger = l
	loggerMutex.Unlock()
}

func getLogger() zerolog.Logger {
	loggerMutex.RLock()
	defer loggerMutex.RUnlock()
	return logger
}

// traceQuery emits one trace event for a query execution.
func traceQuery(r *Request, dialect, sql string, param any, dur time.Duration, err error) {
	l := getLogger()
	ev := l.Debug()
	if err != nil {
		ev = l.Error().Err(err)
	}
	if !ev.Enabled() {
		return
	}
	if id, ok := r.Identity(); ok {
		ev = ev.Uint64("request_id", id)
	} else {
		ev = ev.Bool("oneshot", true)
	}
	if DebugValues() {
		ev = ev.Str("params", typedesc.Describe(r.ParamType(), param, true))
	}
	ev.Str("dialect", dialect).
		Stringer("mult", r.RowMult()).
		Str("sql", sql).
		Dur("duration", dur).
		Msg("query")
}
