package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/YJPM/ti-options/internal/host"
	"github.com/YJPM/ti-options/plugins/options"
	"github.com/spf13/cobra"
)

var (
	suggestContextFile  string
	suggestSnapshotFile string
	suggestShowPrompt   bool
)

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Run one generation cycle against a saved host context and print the options",
	Long: `Run one generation cycle with the stored settings.

The host context comes from either a JSON file in the bridge's context format
(--context) or an HTML snapshot of the chat page (--snapshot).`,
	Example: `  ti-options suggest --context chat.json
  ti-options suggest --snapshot page.html --prompt`,
	RunE: runSuggest,
}

func init() {
	suggestCmd.Flags().StringVar(&suggestContextFile, "context", "", "JSON host context file")
	suggestCmd.Flags().StringVar(&suggestSnapshotFile, "snapshot", "", "HTML chat page snapshot")
	suggestCmd.Flags().BoolVar(&suggestShowPrompt, "prompt", false, "print the assembled prompt")
	suggestCmd.MarkFlagsMutuallyExclusive("context", "snapshot")
	suggestCmd.MarkFlagsOneRequired("context", "snapshot")
	rootCmd.AddCommand(suggestCmd)
}

func runSuggest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	mode := host.KindAccessors
	if suggestSnapshotFile != "" {
		mode = host.KindSnapshot
	}
	cfg.UI.TypewriterDelay = 0
	a, err := newApp(ctx, cfg, appOptions{hostMode: mode})
	if err != nil {
		return err
	}
	defer a.close()

	a.bridge.Hello(host.Capabilities{Session: "cli", Client: "cli", Accessors: mode == host.KindAccessors})
	if err := loadHostState(a.bridge); err != nil {
		return err
	}

	res, err := a.options.Service().Generate(ctx, options.TriggerManual)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if suggestShowPrompt {
		fmt.Fprintf(out, "── prompt ──\n%s\n── options ──\n", res.Prompt)
	}
	if len(res.Suggestions) == 0 {
		fmt.Fprintln(out, "(no options parsed)")
		return nil
	}
	for i, s := range res.Suggestions {
		fmt.Fprintf(out, "%d. %s\n", i+1, s)
	}
	return nil
}

func loadHostState(b *host.Bridge) error {
	if suggestSnapshotFile != "" {
		page, err := os.ReadFile(suggestSnapshotFile)
		if err != nil {
			return err
		}
		return b.UpdateSnapshot(page)
	}
	raw, err := os.ReadFile(suggestContextFile)
	if err != nil {
		return err
	}
	var hc host.Context
	if err := json.Unmarshal(raw, &hc); err != nil {
		return fmt.Errorf("parse %s: %w", suggestContextFile, err)
	}
	return b.UpdateContext(hc)
}
