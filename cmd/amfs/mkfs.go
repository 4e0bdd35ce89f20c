package main

import (
	"fmt"

	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/operations"
	"github.com/spf13/cobra"
)

var mkfsCmd = &cobra.Command{
	Use:   "mkfs <image>",
	Short: "format a disk image as a new AMFS volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := block.Open(args[0])
		if err != nil {
			return err
		}
		defer d.Close()

		if err := operations.Mkfs(d); err != nil {
			return err
		}
		fmt.Printf("amfs: formatted %s\n", args[0])
		return nil
	},
}
