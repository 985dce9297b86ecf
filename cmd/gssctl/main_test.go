// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"testing"

	"github.com/spf13/pflag"

	"github.com/golang-auth/go-gssctx/test"
)

// executeCommand runs the CLI with args and returns its output.
func executeCommand(args []string) (string, error) {
	defer resetCmdArgs()

	buf := new(bytes.Buffer)

	cmd := rootCmd
	cmd.SetArgs(args)
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	err := cmd.Execute()

	return buf.String(), err
}

// resetCmdArgs puts every flag back to its default so that tests do not see each
// other's values.
func resetCmdArgs() {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}

	rootCmd.PersistentFlags().VisitAll(reset)
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(reset)
	}
}

func TestMechsCmd(t *testing.T) {
	assert := test.NewAssert(t)

	out, err := executeCommand([]string{"mechs"})
	assert.NoErrorFatal(err)

	assert.Contains(out, "NAME")
	assert.Regexp(`(?m)^loopback\s+1\.3\.6\.1\.4\.1\.32473\.1\.1\s+concrete-mech,\S*channel-bindings$`, out)
	assert.Regexp(`(?m)^kerberos_v5\s+1\.2\.840\.113554\.1\.2\.2\s+concrete-mech,initial-is-framed,\S+$`, out)
}

func TestUnknownCommand(t *testing.T) {
	assert := test.NewAssert(t)

	_, err := executeCommand([]string{"frobnicate"})
	assert.ErrorContains(err, "unknown command")
}

func TestResetCmdArgs(t *testing.T) {
	assert := test.NewAssert(t)

	assert.NoError(clientCmd.Flags().Set("message", "changed"))
	assert.NoError(rootCmd.PersistentFlags().Set("verbose", "3"))
	resetCmdArgs()

	assert.Equal("Hello from gssctl", clientArgs.message)
	assert.False(clientCmd.Flags().Changed("message"))
	assert.Equal(0, rootArgs.verbose)
}
