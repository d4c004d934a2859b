package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errFallback is returned by capture --strict when no preview was produced.
var errFallback = errors.New("no preview produced, fallback returned")

func newCaptureCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "capture <domain>",
		Short: "Captures one preview and prints the JSON result",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			res := rt.app.Capture(cmd.Context(), args[0])

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			if strict && !res.OK() {
				return errFallback
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when only the fallback could be produced")
	return cmd
}
