package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/refi-monitor/internal/template"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the alert templates and their default inputs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tTITLE\tDEFAULT INPUTS")
		for _, t := range template.Default.All() {
			raw, err := template.MarshalInputs(t.DefaultInputs)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.Kind, t.Title, raw)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
}
