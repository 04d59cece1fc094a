package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"batchsub/internal/batch"
	"batchsub/internal/config"
	"batchsub/internal/logger"
	"batchsub/internal/orchestrator"
	"batchsub/internal/staging"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job and wait for it to finish",
	Long: `Submit one job described by a configuration file: stage its inputs, provision
a single-node pool, run the command, wait until the task completes, download
the outputs and clean up every remote resource.

Interrupting the run (Ctrl-C) or exceeding --timeout cancels the wait; cleanup
of everything created so far still runs.

Example:
  batchsub submit -c job.conf
  batchsub submit -c job.conf --no-download --timeout 2h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		configFile, _ := flags.GetString("config")
		noDownload, _ := flags.GetBool("no-download")
		timeout, _ := flags.GetDuration("timeout")

		spec, err := config.Load(configFile)
		if err != nil {
			return err
		}

		log := logger.New()
		ctx := logger.WithRunID(cmd.Context(), uuid.NewString())
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		store, err := staging.NewMinioStore(staging.StoreConfig{
			Endpoint:  spec.StorageEndpoint(),
			AccessKey: spec.StorageAccountName,
			SecretKey: spec.StorageAccountKey,
		})
		if err != nil {
			return err
		}
		stager := staging.New(store, log, staging.DefaultURLTTL)
		client := batch.NewClient(spec.BatchAccountName, spec.BatchAccountKey, spec.BatchAccountURL)

		outputDir := viper.GetString("output_dir")
		runner := orchestrator.NewRunner(spec, stager, client, log, orchestrator.Options{
			DownloadOutputs: !noDownload,
			OutputDir:       outputDir,
			PollInterval:    viper.GetDuration("poll_interval"),
		})

		logger.FromContext(ctx, log).Info("submitting job", "job", spec.JobName, "config", configFile)
		if err := runner.Run(ctx); err != nil {
			return err
		}

		cmd.Printf("✓ Job %s complete\n", spec.JobName)
		if noDownload {
			cmd.Printf("Outputs left in remote container %s\n", spec.OutputContainer())
		} else {
			cmd.Printf("Outputs downloaded to %s\n", outputDir)
		}
		return nil
	},
}

func init() {
	flags := submitCmd.Flags()
	flags.StringP("config", "c", "", "Path to the job configuration file (required)")
	submitCmd.MarkFlagRequired("config")
	flags.Bool("no-download", false, "Leave outputs in remote storage; the output container is kept")
	flags.StringP("output-dir", "o", ".", "Directory downloaded outputs land in")
	flags.Duration("poll-interval", orchestrator.DefaultPollInterval, "Wait between completion checks")
	flags.Duration("timeout", 0, "Abort the wait after this long (0 waits forever)")

	viper.BindPFlag("output_dir", flags.Lookup("output-dir"))
	viper.BindPFlag("poll_interval", flags.Lookup("poll-interval"))

	rootCmd.AddCommand(submitCmd)
}
