package main

import (
	"fmt"

	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/operations"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var flagHaltOnFirst bool

var fsckCmd = &cobra.Command{
	Use:   "fsck <image>",
	Short: "walk an AMFS volume and report structural defects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := block.Open(args[0])
		if err != nil {
			return err
		}
		defer d.Close()

		report, err := operations.Fsck(d, flagHaltOnFirst)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			format = viper.GetString("format")
		}

		if format == "yaml" {
			out, err := report.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
		} else {
			fmt.Printf("scanned %d blocks, %d findings\n", report.BlocksScanned, len(report.Findings))
			for _, f := range report.Findings {
				fmt.Printf("  %s: %s (%s)\n", f.Location, f.Kind, f.Detail)
			}
		}

		if len(report.Findings) > 0 {
			return fmt.Errorf("amfs: fsck found %d structural defect(s)", len(report.Findings))
		}
		return nil
	},
}

func init() {
	fsckCmd.Flags().BoolVar(&flagHaltOnFirst, "halt", false, "stop at the first structural defect found")
	fsckCmd.Flags().String("format", "", "output format (text, yaml)")
}
