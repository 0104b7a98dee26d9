package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/remitflow/remitflow/internal/checks"
	"github.com/remitflow/remitflow/internal/config"
	"github.com/remitflow/remitflow/internal/storage/sqlite"
	"github.com/remitflow/remitflow/internal/types"
)

var (
	checkActor  string
	checkRole   string
	checkNumber string
	checkAmount string
	checkBank   string
	checkReason string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Operate on check payments",
}

var checkAssignCmd = &cobra.Command{
	Use:   "assign <bucket-id>",
	Short: "Assign a check to a pending bucket",
	Long: `Assigns a check payment to a bucket awaiting approval. With --number the
check details are taken from the flags (manual assignment); without it the
next number is drawn from the payer's oldest active reservation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, store, err := openCheckService(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		var check *types.CheckPayment
		if checkNumber != "" {
			amount, err := decimal.NewFromString(checkAmount)
			if err != nil {
				return fmt.Errorf("bad --amount %q: %w", checkAmount, err)
			}
			check, err = svc.AssignManual(cmd.Context(), args[0], types.CheckDetails{
				CheckNumber: checkNumber,
				CheckAmount: amount,
				CheckDate:   time.Now().UTC(),
				BankName:    checkBank,
			}, checkActor)
			if err != nil {
				return err
			}
		} else {
			check, err = svc.AssignAuto(cmd.Context(), args[0], checkActor)
			if err != nil {
				return err
			}
		}
		fmt.Printf("Assigned check %s (%s) to bucket %s\n", check.CheckNumber, check.ID, args[0])
		return nil
	},
}

var checkAckCmd = &cobra.Command{
	Use:   "acknowledge <check-id>",
	Short: "Acknowledge an assigned check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, store, err := openCheckService(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return svc.Acknowledge(cmd.Context(), args[0], checkActor)
	},
}

var checkIssueCmd = &cobra.Command{
	Use:   "issue <check-id>",
	Short: "Mark a check issued",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, store, err := openCheckService(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return svc.MarkIssued(cmd.Context(), args[0], checkActor)
	},
}

var checkVoidCmd = &cobra.Command{
	Use:   "void <check-id>",
	Short: "Void a check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, store, err := openCheckService(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return svc.Void(cmd.Context(), args[0], checkReason, checkActor, checkRole)
	},
}

func openCheckService(cmd *cobra.Command) (*checks.Service, *sqlite.Store, error) {
	settings := config.Load()
	store, err := sqlite.New(cmd.Context(), settings.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	svc := checks.NewService(store,
		checks.WithSeparateReservationTx(settings.CheckSeparateTx),
		checks.WithVoidWindow(settings.VoidWindow),
		checks.WithVoidRoles(settings.VoidRoles))
	return svc, store, nil
}

func init() {
	checkCmd.PersistentFlags().StringVar(&checkActor, "actor", "", "Acting user")
	checkCmd.PersistentFlags().StringVar(&checkRole, "role", "", "Acting user's role")
	checkAssignCmd.Flags().StringVar(&checkNumber, "number", "", "Check number (manual assignment)")
	checkAssignCmd.Flags().StringVar(&checkAmount, "amount", "0", "Check amount (manual assignment)")
	checkAssignCmd.Flags().StringVar(&checkBank, "bank", "", "Bank name (manual assignment)")
	checkVoidCmd.Flags().StringVar(&checkReason, "reason", "", "Void reason")

	checkCmd.AddCommand(checkAssignCmd)
	checkCmd.AddCommand(checkAckCmd)
	checkCmd.AddCommand(checkIssueCmd)
	checkCmd.AddCommand(checkVoidCmd)
	rootCmd.AddCommand(checkCmd)
}
