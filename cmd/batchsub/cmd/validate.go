package cmd

import (
	"errors"
	"fmt"

	"batchsub/internal/config"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a job configuration file without submitting anything",
	Long: `Parse and validate a configuration file, reporting every problem at once:
unrecognized keys, malformed lines, missing required fields and empty lists.

Example:
  batchsub validate -c job.conf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")

		spec, err := config.Load(configFile)
		if err != nil {
			var verr *config.ValidationError
			if errors.As(err, &verr) {
				cmd.Println("Configuration problems:")
				for _, problem := range verr.Problems {
					cmd.Printf("  - %s\n", problem)
				}
				return fmt.Errorf("%s is invalid", configFile)
			}
			return err
		}

		cmd.Printf("✓ %s is valid\n", configFile)
		cmd.Printf("Job: %s\n", spec.JobName)
		cmd.Printf("Input container: %s\n", spec.InputContainer())
		cmd.Printf("Output container: %s\n", spec.OutputContainer())
		cmd.Printf("VM: %s (%s)\n", spec.VMImage, spec.VMSize)
		return nil
	},
}

func init() {
	flags := validateCmd.Flags()
	flags.StringP("config", "c", "", "Path to the job configuration file (required)")
	validateCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(validateCmd)
}
