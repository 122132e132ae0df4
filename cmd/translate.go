package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goosewin/glot/internal/ui"
	"github.com/spf13/cobra"
)

var (
	translateLanguage string
	translateVars     []string
	translatePlain    bool
	translateFlags    pipelineFlags
)

var translateCmd = &cobra.Command{
	Use:   "translate [text...]",
	Short: "Translate text into a target language",
	Long: "Translate text into a target language. Text is read from the arguments, " +
		"or from stdin when it is piped.",
	RunE: runTranslate,
}

func init() {
	translateCmd.Flags().StringVarP(&translateLanguage, "language", "l", "", "Target language (default from config, else French)")
	translateCmd.Flags().StringArrayVar(&translateVars, "var", nil, "Extra template value as key=value (repeatable)")
	translateCmd.Flags().BoolVar(&translatePlain, "plain", false, "Print only the translation, without styling")
	translateFlags.register(translateCmd)

	rootCmd.AddCommand(translateCmd)
}

func runTranslate(cmd *cobra.Command, args []string) error {
	language := resolveLanguage(translateLanguage)
	text, err := readText(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if strings.TrimSpace(language) == "" || strings.TrimSpace(text) == "" {
		return errInputRequired
	}

	inputs, err := parseVars(translateVars)
	if err != nil {
		return err
	}
	inputs["language"] = language
	inputs["text"] = text

	eng, err := newEngine(translateFlags)
	if err != nil {
		return err
	}
	defer eng.Close()

	styled := !translatePlain && ui.IsTerminal(os.Stdout)
	if !styled {
		ui.DisableColor()
	}

	var spinner *ui.Spinner
	if !translatePlain && ui.IsTerminal(os.Stderr) {
		spinner = ui.StartSpinner(os.Stderr, fmt.Sprintf("Translating to %s...", language))
	}
	result, err := eng.pipeline.Run(cmd.Context(), inputs)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if styled {
		fmt.Fprintln(out, ui.Title("Translation ("+language+")"))
		fmt.Fprintln(out, ui.Result(result))
		return nil
	}
	fmt.Fprintln(out, result)
	return nil
}

// readText joins the arguments, falling back to stdin when it is not a
// terminal. A single trailing newline from piped input is dropped.
func readText(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if stdin == nil || ui.IsTerminal(stdin) {
		return "", nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSuffix(string(data), "\n")
	return strings.TrimSuffix(text, "\r"), nil
}

func parseVars(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs)+2)
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", pair)
		}
		values[key] = value
	}
	return values, nil
}
