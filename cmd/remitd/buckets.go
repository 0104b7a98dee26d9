package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remitflow/remitflow/internal/bucketing"
	"github.com/remitflow/remitflow/internal/config"
	"github.com/remitflow/remitflow/internal/storage/sqlite"
)

var (
	bucketActor    string
	bucketComments string
	bucketReason   string
)

var bucketCmd = &cobra.Command{
	Use:   "bucket",
	Short: "Operate on accumulation buckets",
}

var bucketApproveCmd = &cobra.Command{
	Use:   "approve <bucket-id>...",
	Short: "Approve pending buckets for generation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, store, err := openLifecycle(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if len(args) == 1 {
			if err := lc.Approve(cmd.Context(), args[0], bucketActor, bucketComments); err != nil {
				return err
			}
		} else {
			if err := lc.BulkApprove(cmd.Context(), args, bucketActor, bucketComments); err != nil {
				return err
			}
		}
		fmt.Printf("Approved %d bucket(s)\n", len(args))
		return nil
	},
}

var bucketRejectCmd = &cobra.Command{
	Use:   "reject <bucket-id>",
	Short: "Return a pending bucket to accumulation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, store, err := openLifecycle(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := lc.Reject(cmd.Context(), args[0], bucketActor, bucketReason, bucketComments); err != nil {
			return err
		}
		fmt.Printf("Rejected bucket %s\n", args[0])
		return nil
	},
}

var bucketResolveCmd = &cobra.Command{
	Use:   "resolve <bucket-id>",
	Short: "Release a bucket parked on missing configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, store, err := openLifecycle(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := lc.ResolveMissingConfiguration(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Resolved bucket %s\n", args[0])
		return nil
	},
}

func openLifecycle(cmd *cobra.Command) (*bucketing.Lifecycle, *sqlite.Store, error) {
	settings := config.Load()
	store, err := sqlite.New(cmd.Context(), settings.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return bucketing.NewLifecycle(store, nil, nil), store, nil
}

func init() {
	bucketCmd.PersistentFlags().StringVar(&bucketActor, "actor", "", "Acting user")
	bucketCmd.PersistentFlags().StringVar(&bucketComments, "comments", "", "Free-form comments")
	bucketRejectCmd.Flags().StringVar(&bucketReason, "reason", "", "Rejection reason")

	bucketCmd.AddCommand(bucketApproveCmd)
	bucketCmd.AddCommand(bucketRejectCmd)
	bucketCmd.AddCommand(bucketResolveCmd)
	rootCmd.AddCommand(bucketCmd)
}
