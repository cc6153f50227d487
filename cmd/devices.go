// cmd/devices.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/tickrate/internal/cli/analyze"
)

// listDevices enumerates capture devices.
var listDevices = analyze.ListAudioDevices

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture devices",
	Long:  `Lists capture devices with the index accepted by --device.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := listDevices()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(devices) == 0 {
			_, _ = fmt.Fprintln(out, "no capture devices found")
			return nil
		}
		for _, d := range devices {
			marker := ""
			if d.IsDefault {
				marker = " (default)"
			}
			_, _ = fmt.Fprintf(out, "[%d] %s%s\n", d.Index, d.Name, marker)
		}
		return nil
	},
}
