package cmd

import (
	"fmt"

	"github.com/sergev/stim/config"
	"github.com/sergev/stim/device"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and attached stimulators",
	Long:  "Show the experiment configuration and any stimulator found on the serial bus.",
	Run: func(cmd *cobra.Command, args []string) {
		path := configFile
		if path == "" {
			path, _ = config.Path()
		}
		fmt.Printf("Configuration script: %s\n", path)
		fmt.Printf("Output directory: %s\n", conf.OutputDir)
		fmt.Printf("Link: %d baud, command timeout %s, read timeout %s\n",
			conf.Baud, conf.CommandTimeout, conf.ReadTimeout)
		if conf.Journal != "" {
			fmt.Printf("Journal: %s\n", conf.Journal)
		}
		if conf.Archive.Bucket != "" {
			fmt.Printf("Archive: s3://%s/%s\n", conf.Archive.Bucket, conf.Archive.Prefix)
		}

		fmt.Printf("\nExperiments:\n")
		for _, e := range conf.Experiment {
			mark := " "
			if e.Name == conf.Default {
				mark = "*"
			}
			fmt.Printf("%s %-12s %-11s %d trials x %d", mark, e.Name, e.Variant, len(e.Trial), e.Repeats)
			if e.Calibration {
				fmt.Printf(", calibrated")
			}
			if len(e.Sessions) > 0 {
				fmt.Printf(", sessions %v", e.Sessions)
			}
			fmt.Printf("\n")
		}

		fmt.Printf("\nStimulators:\n")
		ports, err := device.ListPorts()
		if err != nil {
			fmt.Printf("  %v\n", err)
			return
		}
		found := false
		for _, p := range ports {
			if p.Supported == "" {
				continue
			}
			found = true
			fmt.Printf("  %s on %s (%04x:%04x)\n", p.Supported, p.Name, p.VendorID, p.ProductID)
		}
		if !found {
			fmt.Printf("  none found; use --port MOCK to run with the simulator\n")
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
