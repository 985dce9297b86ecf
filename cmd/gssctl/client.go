// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/golang-auth/go-gssctx"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Establish a context with a gssctl server and exchange a protected message",
	Example: `  # Authenticate to host/server.example.com with Kerberos and send a sealed message
  gssctl client --host server.example.com --service host --mutual --conf --message hello

  # Try the in-process test mechanism against a local server
  gssctl client --mech loopback --message hello`,
	Args: cobra.NoArgs,
	RunE: clientCmdRun,
}

type clientFlags struct {
	host    string
	port    int
	service string
	mech    string
	mutual  bool
	deleg   bool
	conf    bool
	seq     bool
	message string
	timeout time.Duration
}

var clientArgs = clientFlags{}

func init() {
	clientCmd.Flags().StringVar(&clientArgs.host, "host", "localhost",
		"The server host name.")
	clientCmd.Flags().IntVar(&clientArgs.port, "port", 1234,
		"The server port.")
	clientCmd.Flags().StringVar(&clientArgs.service, "service", "host",
		"The service name, or a full service@host name.")
	clientCmd.Flags().StringVar(&clientArgs.mech, "mech", "kerberos_v5",
		"The mechanism to use, see 'gssctl mechs'.")
	clientCmd.Flags().BoolVar(&clientArgs.mutual, "mutual", false,
		"Request mutual authentication.")
	clientCmd.Flags().BoolVar(&clientArgs.deleg, "deleg", false,
		"Request credential delegation.")
	clientCmd.Flags().BoolVar(&clientArgs.conf, "conf", false,
		"Seal (encrypt) the message.")
	clientCmd.Flags().BoolVar(&clientArgs.seq, "seq", false,
		"Request replay and sequence detection.")
	clientCmd.Flags().StringVar(&clientArgs.message, "message", "Hello from gssctl",
		"The message to send.")
	clientCmd.Flags().DurationVar(&clientArgs.timeout, "timeout", time.Minute,
		"The time allowed for the whole exchange.")
	rootCmd.AddCommand(clientCmd)
}

func clientCmdRun(cmd *cobra.Command, _ []string) error {
	log := newLogger(cmd)

	mech, err := gssctx.NewMechanism(clientArgs.mech)
	if err != nil {
		return fmt.Errorf("mechanism %q: %w", clientArgs.mech, err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), clientArgs.timeout)
	defer cancel()

	addr := net.JoinHostPort(clientArgs.host, strconv.Itoa(clientArgs.port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	log.V(1).Info("connected", "addr", addr)

	return runClient(conn, mech, clientArgs, log, cmd.OutOrStdout())
}

func (a clientFlags) target() string {
	if strings.Contains(a.service, "@") {
		return a.service
	}

	return a.service + "@" + a.host
}

func (a clientFlags) flags() gssctx.ContextFlag {
	flags := gssctx.ContextFlagInteg
	if a.mutual {
		flags |= gssctx.ContextFlagMutual
	}
	if a.deleg {
		flags |= gssctx.ContextFlagDeleg
	}
	if a.conf {
		flags |= gssctx.ContextFlagConf
	}
	if a.seq {
		flags |= gssctx.ContextFlagReplay | gssctx.ContextFlagSequence
	}

	return flags
}

// runClient establishes a context over conn, sends the wrapped message and checks the
// MIC the server returns for it.
func runClient(conn io.ReadWriter, mech gssctx.Mechanism, args clientFlags, log logr.Logger, out io.Writer) error {
	target, err := gssctx.ImportNameString(mech, args.target(), gssctx.GSS_NT_HOSTBASED_SERVICE)
	if err != nil {
		return err
	}
	defer target.Release() //nolint:errcheck

	sc, err := gssctx.NewSecContext(mech, gssctx.WithContextLogger(log))
	if err != nil {
		return err
	}
	defer sc.Destroy() //nolint:errcheck

	flags := args.flags()
	log.V(1).Info("requesting context", "target", target.String(), "flags", flags.String())

	var in []byte
	for {
		step, err := sc.Init(target, in, gssctx.WithInitiatorFlags(flags))
		if len(step.Token) > 0 {
			if sendErr := sendToken(conn, step.Token); sendErr != nil {
				return sendErr
			}
			log.V(2).Info("sent context token", "len", len(step.Token), "token", formatToken(step.Token))
		}
		if err != nil {
			return fmt.Errorf("initializing context: %w", err)
		}
		if step.Complete() {
			break
		}

		if in, err = recvToken(conn); err != nil {
			return fmt.Errorf("reading context token: %w", err)
		}
		log.V(2).Info("read context token", "len", len(in), "token", formatToken(in))
	}

	log.V(1).Info("context established",
		"mech", gssctx.MechName(sc.Mech()),
		"flags", sc.Flags().String(),
		"source", sc.SourceName().String(),
		"target", sc.TargetName().String())

	msg := []byte(args.message)
	wrapped, err := sc.Wrap(msg, 0, args.conf)
	if err != nil {
		return err
	}
	if err := sendToken(conn, wrapped); err != nil {
		return err
	}
	log.V(2).Info("sent wrap token", "len", len(wrapped), "token", formatToken(wrapped))

	mic, err := recvToken(conn)
	if err != nil {
		return fmt.Errorf("reading MIC: %w", err)
	}
	log.V(2).Info("read MIC token", "len", len(mic), "token", formatToken(mic))

	if _, err := sc.VerifyMIC(msg, mic); err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, "Successfully verified message signature (MIC) from server")
	return err
}
