package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/goosewin/glot/internal/backend"
	"github.com/goosewin/glot/internal/config"
	"github.com/spf13/cobra"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List available completion backends",
	RunE:  runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	names := backend.Names()
	if len(names) == 0 {
		fmt.Println("No backends registered")
		return nil
	}

	current := config.GetString("defaults.backend", backend.DefaultName())
	writer := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tDEFAULT MODEL\tCREDENTIAL\tCONFIGURED")
	fmt.Fprintln(writer, "----\t-------------\t----------\t----------")

	for _, name := range names {
		desc, ok := backend.Lookup(name)
		if !ok {
			continue
		}
		label := name
		if name == current {
			label += " *"
		}
		credential := desc.CredentialEnv
		if !desc.RequiresCredential {
			credential = "-"
		}
		configured := "no"
		if hasCredential(name) {
			configured = "yes"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", label, desc.DefaultModel, credential, configured)
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Println("")
	fmt.Println("* default backend")
	fmt.Println("Usage: glot translate --backend <name> --language <language> <text>")
	return nil
}
