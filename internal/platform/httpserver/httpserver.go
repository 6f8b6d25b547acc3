// Package httpserver fixes the server timeouts for the stage API. Stage
// handlers block while a fan-out runs against a paced source, so the write
// side must stay open far longer than on a typical request/response
// service.
package httpserver

import (
	"net/http"
	"time"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 30 * time.Second
	idleTimeout       = 2 * time.Minute

	// A run request holds its connection for the whole extraction DAG of
	// one source, pacing included.
	writeTimeout = 30 * time.Minute
)

// New builds the stage API server around the router.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}
