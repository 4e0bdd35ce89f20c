package main

import (
	"fmt"
	"os"

	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/operations"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var dumpfsCmd = &cobra.Command{
	Use:   "dumpfs <image>",
	Short: "annotate each block of an AMFS volume by inferred structural role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := block.Open(args[0])
		if err != nil {
			return err
		}
		defer d.Close()

		inv, err := operations.Dumpfs(d)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			format = viper.GetString("format")
		}

		if format == "yaml" {
			out, err := inv.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		}
		return inv.WriteHex(os.Stdout, d)
	},
}

func init() {
	dumpfsCmd.Flags().String("format", "", "output format (text, yaml)")
}
