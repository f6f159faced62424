// Command scalectl is the manual-mode CLI of spec section 6: a
// single operator-invoked resize against one stream, as an
// alternative to running the always-on autoscaler daemon.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor classifies a returned error into spec section 6's exit
// codes: 1 for usage errors, 2 for everything else (operational
// failures reaching the control plane).
func exitCodeFor(err error) int {
	var ue *usageError
	if errors.As(err, &ue) {
		return 1
	}
	return 2
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func newUsageError(format string, args ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:           "scalectl",
	Short:         "Manually trigger a Kinesis stream resize",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and returns the first error, if any.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(scaleUpCmd, scaleDownCmd, resizeCmd, reportCmd)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})
}
