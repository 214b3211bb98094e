package definitions

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"assetforge/cmd/assetctl/app"
)

func NewDefinitionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definitions",
		Short: "Inspect asset definitions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List asset definitions with their tables and capacities",
		RunE:  listCommand,
	})
	return cmd
}

func listCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := app.Open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	defs, err := a.Manager.Store().Definitions(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tACTIVE\tTABLE\tCAPACITIES")
	for i := range defs {
		d := &defs[i]
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\n", d.ID, d.SystemName, d.IsActive, d.GeneratedTable(), strings.Join(d.CapacityList(), ","))
	}
	return w.Flush()
}
