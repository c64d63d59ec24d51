package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

var templateOwner string

var templateCmd = &cobra.Command{
	Use:     "template",
	Short:   "Manage planning templates",
	GroupID: "data",
}

var templateImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Save the templates in a YAML file for one staff member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner := strings.TrimSpace(templateOwner)
		if owner == "" {
			return fmt.Errorf("--owner is required")
		}
		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		saved, err := svc.importer.ImportTemplates(cmd.Context(), models.Actor{UserID: owner, Role: models.RoleStaff}, args[0])
		out := cmd.OutOrStdout()
		if len(saved) > 0 {
			printSection(out, "Templates")
			for _, tpl := range saved {
				printLabelValue(out, tpl.Name, fmt.Sprintf("%s (%s)", tpl.ID, tpl.TermType))
			}
		}
		if err != nil {
			return err
		}
		printSuccess(out, fmt.Sprintf("Saved %s for %s", printCount(len(saved), "template", "templates"), owner))
		return nil
	},
}

func init() {
	templateImportCmd.Flags().StringVar(&templateOwner, "owner", "", "User id that will own the templates")
	templateCmd.AddCommand(templateImportCmd)
}
