package cli

import (
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:     "catalog",
	Short:   "Manage the course catalog",
	GroupID: "data",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Upsert catalog modules and their teaching formats from YAML",
	Long: `Upsert every module listed in the file. Modules not in the file are left
untouched. The whole file is validated before anything is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		count, err := svc.importer.ImportCatalog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "Imported "+printCount(count, "module", "modules"))
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogImportCmd)
}
