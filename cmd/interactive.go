package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goosewin/glot/internal/apperr"
	"github.com/goosewin/glot/internal/ui"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var (
	interactiveLanguage string
	interactiveFlags    pipelineFlags
)

var interactiveCmd = &cobra.Command{
	Use:     "interactive",
	Aliases: []string{"i"},
	Short:   "Translate in a prompt loop",
	Args:    cobra.NoArgs,
	RunE:    runInteractive,
}

func init() {
	interactiveCmd.Flags().StringVarP(&interactiveLanguage, "language", "l", "", "Initial target language")
	interactiveFlags.register(interactiveCmd)

	rootCmd.AddCommand(interactiveCmd)
}

func runInteractive(cmd *cobra.Command, args []string) error {
	if !ui.IsTerminal(os.Stdin) {
		return errors.New("interactive mode needs a terminal; use glot translate with piped input")
	}

	eng, err := newEngine(interactiveFlags)
	if err != nil {
		return err
	}
	defer eng.Close()

	b := eng.pipeline.Backend()
	fmt.Fprintln(os.Stderr, ui.Title("glot"), ui.Muted(fmt.Sprintf("%s / %s", b.Name(), b.Model())))
	fmt.Fprintln(os.Stderr, ui.Muted("Press Ctrl+C or Ctrl+D to quit."))

	language := resolveLanguage(interactiveLanguage)
	ctx := cmd.Context()
	for {
		next, err := (&promptui.Prompt{
			Label:     "Target language",
			Default:   language,
			AllowEdit: true,
		}).Run()
		if isPromptExit(err) {
			return nil
		}
		if err != nil {
			return err
		}

		text, err := (&promptui.Prompt{Label: "Text"}).Run()
		if isPromptExit(err) {
			return nil
		}
		if err != nil {
			return err
		}

		next = strings.TrimSpace(next)
		if next == "" || strings.TrimSpace(text) == "" {
			ui.Warn(os.Stderr, "%s", inputRequiredMessage)
			continue
		}
		language = next

		spinner := ui.StartSpinner(os.Stderr, fmt.Sprintf("Translating to %s...", language))
		result, err := eng.pipeline.Translate(ctx, language, text)
		spinner.Stop()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ui.Error(os.Stderr, err, apperr.Hint(err))
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Result(result))
		fmt.Fprintln(cmd.OutOrStdout())
	}
}

func isPromptExit(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF)
}
