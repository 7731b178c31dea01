// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/molecula/aws-bill-analysis/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsServer exposes the prometheus registry while a run is going.
type metricsServer struct {
	srv *http.Server
	ln  net.Listener
}

func newMetricsRouter() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET").Name("GetMetrics")
	return router
}

// serveMetrics starts serving /metrics on addr.
func serveMetrics(addr string, log logger.Logger) (*metricsServer, error) {
	if log == nil {
		log = logger.NopLogger
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening for metrics on %s", addr)
	}
	ms := &metricsServer{
		srv: &http.Server{Handler: newMetricsRouter(), ReadHeaderTimeout: 10 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := ms.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("serving metrics: %v", err)
		}
	}()
	log.Infof("Serving metrics on http://%s/metrics", ln.Addr())
	return ms, nil
}

// Addr returns the address being listened on.
func (ms *metricsServer) Addr() string {
	return ms.ln.Addr().String()
}

func (ms *metricsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ms.srv.Shutdown(ctx)
}
