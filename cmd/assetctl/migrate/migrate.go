package migrate

import (
	"fmt"
	"strconv"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"assetforge/cmd/assetctl/app"
	"assetforge/internal/importer"
	"assetforge/internal/logging"
	"assetforge/internal/schema"
)

const (
	sourceDriverFlag = "source-driver"
	sourceDSNFlag    = "source-dsn"
	batchFlag        = "batch"
)

var flags = map[string]cobraflags.Flag{
	sourceDriverFlag: &cobraflags.StringFlag{
		Name:  sourceDriverFlag,
		Value: schema.MySQL,
		Usage: "Driver of the legacy GLPI database (mysql, postgres, sqlite)",
	},
	sourceDSNFlag: &cobraflags.StringFlag{
		Name:  sourceDSNFlag,
		Value: "",
		Usage: "DSN of the legacy GLPI database (required)",
	},
	batchFlag: &cobraflags.StringFlag{
		Name:  batchFlag,
		Value: "200",
		Usage: "Rows read from a legacy table per query",
	},
}

func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import data from legacy plugins",
	}
	cmd.AddCommand(newGenericObjectCommand())
	return cmd
}

func newGenericObjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genericobject",
		Short: "Import genericobject types, dropdowns and rows as asset definitions",
		Long: `Reads the genericobject plugin tables from the source database and
recreates every object type as an asset definition, every plugin dropdown as
a dropdown definition, and copies the rows. Row failures are reported and do
not stop the run.`,
		RunE: genericObjectCommand,
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func genericObjectCommand(cmd *cobra.Command, _ []string) error {
	dsn := flags[sourceDSNFlag].GetString()
	if dsn == "" {
		return fmt.Errorf("--%s is required", sourceDSNFlag)
	}
	batch, err := strconv.Atoi(flags[batchFlag].GetString())
	if err != nil || batch <= 0 {
		return fmt.Errorf("--%s must be a positive integer", batchFlag)
	}

	ctx := cmd.Context()
	a, err := app.Open(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	source, err := schema.Open(flags[sourceDriverFlag].GetString(), dsn, schema.OpenOptions{})
	if err != nil {
		return fmt.Errorf("open source database: %w", err)
	}
	defer schema.Close(source)

	im := importer.New(a.Manager, a.Types, a.Assets)
	im.Batch = batch
	res, err := im.ProcessMigration(ctx, source)
	for _, rowErr := range res.Errors {
		logging.Warn("row not migrated", "table", rowErr.Table, "row", rowErr.RowID, "error", rowErr.Err.Error())
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "definitions created: %d\n", len(res.CreatedDefinitions))
	fmt.Fprintf(out, "dropdowns created:   %d\n", len(res.CreatedDropdowns))
	fmt.Fprintf(out, "rows migrated:       %d\n", res.MigratedRows)
	fmt.Fprintf(out, "rows failed:         %d\n", len(res.Errors))
	return err
}
