// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/golang-auth/go-gssctx"
	"github.com/golang-auth/go-gssctx/internal/metrics"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Accept contexts from gssctl clients and answer their messages with a MIC",
	Example: `  # Serve Kerberos clients using the keytab in KRB5_KTNAME
  gssctl server --port 1234 --metrics-addr :9090

  # Handle a single loopback client and exit
  gssctl server --mech loopback --once`,
	Args: cobra.NoArgs,
	RunE: serverCmdRun,
}

type serverFlags struct {
	port        int
	mech        string
	once        bool
	metricsAddr string
	timeout     time.Duration
}

var serverArgs = serverFlags{}

func init() {
	serverCmd.Flags().IntVar(&serverArgs.port, "port", 1234,
		"The TCP port to listen on.")
	serverCmd.Flags().StringVar(&serverArgs.mech, "mech", "kerberos_v5",
		"The mechanism to accept, see 'gssctl mechs'.")
	serverCmd.Flags().BoolVar(&serverArgs.once, "once", false,
		"Exit after handling one connection.")
	serverCmd.Flags().StringVar(&serverArgs.metricsAddr, "metrics-addr", "",
		"The address to serve Prometheus metrics on, eg. ':9090'.  Disabled when empty.")
	serverCmd.Flags().DurationVar(&serverArgs.timeout, "timeout", time.Minute,
		"The time allowed for each connection.")
	rootCmd.AddCommand(serverCmd)
}

func serverCmdRun(cmd *cobra.Command, _ []string) error {
	log := newLogger(cmd)

	mech, err := gssctx.NewMechanism(serverArgs.mech)
	if err != nil {
		return fmt.Errorf("mechanism %q: %w", serverArgs.mech, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &server{
		mech:    mech,
		log:     log,
		out:     cmd.OutOrStdout(),
		timeout: serverArgs.timeout,
	}

	if serverArgs.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if srv.metrics, err = metrics.NewRecorder(reg); err != nil {
			return err
		}

		ms := newMetricsServer(serverArgs.metricsAddr, reg)
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "metrics server failed")
			}
		}()
		defer ms.Close() //nolint:errcheck
		log.Info("serving metrics", "addr", serverArgs.metricsAddr)
	}

	l, err := net.Listen("tcp", ":"+strconv.Itoa(serverArgs.port))
	if err != nil {
		return err
	}
	log.Info("listening", "addr", l.Addr().String(), "mech", gssctx.MechName(mech.Oid()))

	return srv.serve(ctx, l, serverArgs.once)
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type server struct {
	mech    gssctx.Mechanism
	log     logr.Logger
	metrics *metrics.Recorder
	timeout time.Duration

	mu  sync.Mutex // guards out
	out io.Writer
}

// serve accepts connections on l until ctx is done, or after the first connection
// when once is set.
func (s *server) serve(ctx context.Context, l net.Listener, once bool) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if once {
			err := s.handleConn(conn)
			_ = l.Close()
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.handleConn(conn); err != nil {
				s.log.Error(err, "connection failed", "remote", conn.RemoteAddr().String())
			}
		}()
	}
}

func (s *server) handleConn(conn net.Conn) error {
	defer conn.Close() //nolint:errcheck

	if s.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}

	log := s.log.WithValues("remote", conn.RemoteAddr().String())
	log.V(1).Info("accepted connection")

	sc, err := gssctx.NewSecContext(s.mech, gssctx.WithContextLogger(log))
	if err != nil {
		return err
	}
	defer sc.Destroy() //nolint:errcheck

	for !sc.Established() {
		in, err := recvToken(conn)
		if err != nil {
			return fmt.Errorf("reading context token: %w", err)
		}
		log.V(2).Info("read context token", "len", len(in), "token", formatToken(in))

		step, err := sc.Accept(in)
		s.metrics.Handshake(s.mech.Oid(), false, step, err)
		if len(step.Token) > 0 {
			if sendErr := sendToken(conn, step.Token); sendErr != nil {
				return sendErr
			}
			log.V(2).Info("sent context token", "len", len(step.Token), "token", formatToken(step.Token))
		}
		if err != nil {
			return fmt.Errorf("accepting context: %w", err)
		}
	}

	s.metrics.ContextOpened(sc.Mech())
	defer s.metrics.ContextClosed(sc.Mech())

	initiator := sc.SourceName().String()
	log.Info("context established", "initiator", initiator, "flags", sc.Flags().String())

	inMsg, err := recvToken(conn)
	if err != nil {
		return fmt.Errorf("reading message: %w", err)
	}
	log.V(2).Info("read wrap token", "len", len(inMsg), "token", formatToken(inMsg))

	msg, conf, _, err := sc.UnwrapConf(inMsg)
	s.metrics.Message("gss_unwrap", err)
	if err != nil {
		return err
	}

	protStr := "signed"
	if conf {
		protStr = "sealed"
	}
	s.mu.Lock()
	_, err = fmt.Fprintf(s.out, "Received %s message from %s: %q\n", protStr, initiator, msg)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	mic, err := sc.GetMIC(msg, 0)
	s.metrics.Message("gss_get_mic", err)
	if err != nil {
		return err
	}

	return sendToken(conn, mic)
}
