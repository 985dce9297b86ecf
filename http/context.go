// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"net"
	"net/http"
)

type contextKey struct {
	name string
}

func (k *contextKey) String() string { return "gssctx/http context value " + k.name }

var (
	connContextKey      = &contextKey{"conn"}
	initiatorContextKey = &contextKey{"initiator"}
)

// ServerWithStashConn sets the server's ConnContext hook so that handlers can reach the
// underlying connection, which the Handler needs to look up the server certificate when
// the TLS configuration selects it per connection.  An existing hook is preserved.
func ServerWithStashConn(s *http.Server) *http.Server {
	prev := s.ConnContext
	s.ConnContext = func(ctx context.Context, c net.Conn) context.Context {
		if prev != nil {
			ctx = prev(ctx, c)
		}
		return stashConnContext(ctx, c)
	}

	return s
}

func stashConnContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connContextKey, c)
}

func getConnContext(ctx context.Context) net.Conn {
	conn, ok := ctx.Value(connContextKey).(net.Conn)
	if !ok {
		return nil
	}
	return conn
}

func getServerContext(ctx context.Context) *http.Server {
	server, ok := ctx.Value(http.ServerContextKey).(*http.Server)
	if !ok {
		return nil
	}
	return server
}

func stashInitiatorName(ctx context.Context, in *InitiatorName) context.Context {
	return context.WithValue(ctx, initiatorContextKey, in)
}

func getInitiatorNameContext(ctx context.Context) *InitiatorName {
	in, ok := ctx.Value(initiatorContextKey).(*InitiatorName)
	if !ok {
		return nil
	}
	return in
}
