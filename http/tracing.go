// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"
	"strings"
)

// HttpTrace records connection events seen while a Transport with HTTP logging enabled
// handles a request.
type HttpTrace struct {
	WaitedFor100Continue bool
	Seen100Continue      bool
}

type traceContextKey struct{}

// WithHttpTrace returns a context that makes the Transport fill in trace.
func WithHttpTrace(ctx context.Context, trace *HttpTrace) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetHttpTrace returns the trace stored by WithHttpTrace, or nil.
func GetHttpTrace(ctx context.Context) *HttpTrace {
	trace, _ := ctx.Value(traceContextKey{}).(*HttpTrace)
	return trace
}

func (t *Transport) setupLogging(req *http.Request) *http.Request {
	trace := GetHttpTrace(req.Context())
	if trace == nil {
		trace = &HttpTrace{}
		req = req.WithContext(WithHttpTrace(req.Context(), trace))
	}

	if httptrace.ContextClientTrace(req.Context()) != nil {
		return req
	}

	log := t.log.V(2).WithName("httptrace")
	ctrace := &httptrace.ClientTrace{
		GetConn: func(hostPort string) {
			log.Info("getting connection", "hostPort", hostPort)
		},
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Conn.LocalAddr() == nil {
				log.Info("obtained connection", "reused", info.Reused)
			} else {
				log.Info("obtained connection", "local", info.Conn.LocalAddr().String(), "remote", info.Conn.RemoteAddr().String(), "reused", info.Reused)
			}
		},
		GotFirstResponseByte: func() {
			log.Info("got first response byte")
		},
		Got100Continue: func() {
			log.Info("got 100-continue")
			trace.Seen100Continue = true
		},
		WroteHeaders: func() {
			log.Info("wrote headers")
		},
		Wait100Continue: func() {
			log.Info("waiting for 100-continue")
			trace.WaitedFor100Continue = true
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			log.Info("wrote request", "err", info.Err)
		},
	}

	return req.WithContext(httptrace.WithClientTrace(req.Context(), ctrace))
}

func (t *Transport) requestLogging(req *http.Request) error {
	log := t.log.V(2)
	if !log.Enabled() {
		return nil
	}

	// the body is not dumped
	by, err := httputil.DumpRequestOut(req, false)
	if err != nil {
		return fmt.Errorf("failed to dump request: %w", err)
	}

	for _, line := range strings.Split(strings.TrimRight(string(by), "\r\n"), "\n") {
		log.Info("> " + strings.TrimRight(line, "\r"))
	}

	return nil
}

func (t *Transport) responseLogging(resp *http.Response) error {
	log := t.log.V(2)
	if !log.Enabled() {
		return nil
	}

	by, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return fmt.Errorf("failed to dump response: %w", err)
	}

	for _, line := range strings.Split(strings.TrimRight(string(by), "\r\n"), "\n") {
		log.Info("< " + strings.TrimRight(line, "\r"))
	}

	return nil
}
