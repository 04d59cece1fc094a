package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "batchsub",
	Short: "Batchsub submits one-shot jobs to a remote batch compute pool",
	Long: `batchsub stages local input files into remote blob storage, provisions an
ephemeral compute pool, runs a single command on it, waits for completion,
retrieves the results, and removes every remote resource it created.

A run is described by a configuration file of KEY:=VALUE lines:

  BATCH_ACCOUNT_NAME:=mybatch
  BATCH_ACCOUNT_KEY:=...
  BATCH_ACCOUNT_URL:=https://mybatch.example.com
  STORAGE_ACCOUNT_NAME:=mystore
  STORAGE_ACCOUNT_KEY:=...
  JOB_NAME:=sequencing-run-42
  COMMAND:=analyze --input data.csv
  INPUT:=./in/*.csv
  OUTPUT:=out/*.json
  VM_IMAGE:=ubuntu-22.04

INPUT and OUTPUT may repeat; each occurrence appends. An INPUT value with more
than one token uploads its glob patterns into the last token, a destination
directory on the compute node.

Common workflows:

  Check a configuration file:
    batchsub validate -c job.conf

  Submit a job and download its outputs when it finishes:
    batchsub submit -c job.conf

  Submit and leave the outputs in remote storage:
    batchsub submit -c job.conf --no-download

Configuration:
  Some flags can also be set via environment variables:
    BATCHSUB_POLL_INTERVAL   Wait between completion checks (default: 30s)
    BATCHSUB_OUTPUT_DIR      Directory downloaded outputs land in (default: .)`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Read environment variables that match "BATCHSUB_VARNAME"
	viper.SetEnvPrefix("BATCHSUB")
	viper.AutomaticEnv()
}
