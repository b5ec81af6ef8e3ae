package cmd

import (
	"fmt"

	"github.com/sergev/stim/device"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long:  "List serial ports with their USB identifiers and mark supported stimulators.",
	Run: func(cmd *cobra.Command, args []string) {
		ports, err := device.ListPorts()
		if err != nil {
			cobra.CheckErr(err)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return
		}
		for _, p := range ports {
			if !p.IsUSB {
				fmt.Printf("%-20s\n", p.Name)
				continue
			}
			fmt.Printf("%-20s %04x:%04x", p.Name, p.VendorID, p.ProductID)
			if p.Product != "" {
				fmt.Printf("  %s", p.Product)
			}
			if p.SerialNumber != "" {
				fmt.Printf("  serial %s", p.SerialNumber)
			}
			if p.Supported != "" {
				fmt.Printf("  [%s]", p.Supported)
			}
			fmt.Printf("\n")
		}
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
