package seed

import (
	"fmt"

	"github.com/spf13/cobra"

	"assetforge/cmd/assetctl/app"
)

func NewSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Apply *.dsl definitions and YAML dropdown catalogs",
		Long: `Applies the definitions from --seed-dir and the dropdown catalogs from
--dropdowns-dir. Existing definitions and dropdowns are extended, never recreated.`,
		RunE: seedCommand,
	}
}

func seedCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := app.Open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	s := a.Config.Seed
	if s.Dir == "" && s.DropdownsDir == "" {
		return fmt.Errorf("nothing to seed: set --seed-dir or --dropdowns-dir")
	}
	rep, err := a.Manager.SeedDirs(ctx, s.Dir, s.DropdownsDir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "dropdowns created:   %d\n", rep.DropdownsCreated)
	fmt.Fprintf(out, "items inserted:      %d\n", rep.ItemsInserted)
	fmt.Fprintf(out, "definitions created: %d\n", rep.DefinitionsCreated)
	fmt.Fprintf(out, "fields added:        %d\n", rep.FieldsAdded)
	fmt.Fprintf(out, "capacities enabled:  %d\n", rep.CapacitiesEnabled)
	return nil
}
