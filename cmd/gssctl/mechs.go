// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/golang-auth/go-gssctx"
)

var mechsCmd = &cobra.Command{
	Use:   "mechs",
	Short: "List the available mechanisms",
	Args:  cobra.NoArgs,
	RunE:  mechsCmdRun,
}

func init() {
	rootCmd.AddCommand(mechsCmd)
}

func mechsCmdRun(cmd *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tOID\tATTRIBUTES")

	for _, name := range gssctx.RegisteredMechanisms() {
		mech, err := gssctx.NewMechanism(name)
		if err != nil {
			_, _ = fmt.Fprintf(w, "%s\tunavailable: %v\n", name, err)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, mech.Oid(), attrList(mech))
	}

	return w.Flush()
}

// attrList is the comma separated short descriptions of the attributes of mech, or "-"
func attrList(mech gssctx.Mechanism) string {
	attrs, _, err := gssctx.InquireAttrsForMech(mech)
	if err != nil || len(attrs) == 0 {
		return "-"
	}

	short := make([]string, len(attrs))
	for i, a := range attrs {
		_, short[i], _ = a.Display()
	}

	return strings.Join(short, ",")
}
