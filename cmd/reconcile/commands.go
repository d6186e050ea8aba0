package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/eksporyuk/backend/internal/export"
	"github.com/eksporyuk/backend/internal/services/entitlement"
	"github.com/eksporyuk/backend/internal/services/ledger"
	"github.com/eksporyuk/backend/internal/services/reconcile"
	"github.com/spf13/cobra"
)

var errInvariantViolated = errors.New("wallet earnings fall short of valid conversions")

var (
	userFlags    []string
	dryRunFlag   bool
	applyFlag    bool
	reasonFlag   string
	repairFlag   bool
	pruneFlag    bool
	applyWallets bool
	outFlag      string
)

var walletsCmd = &cobra.Command{
	Use:   "wallets",
	Short: "Compare wallet earnings with conversions, optionally correcting drift",
	RunE: run(func(ctx context.Context, e *env, _ []string) error {
		userIDs, err := parseUserIDs(userFlags)
		if err != nil {
			return err
		}
		reports, err := e.services.Ledger.WalletReports(ctx, userIDs)
		if err != nil {
			return err
		}
		if !applyFlag {
			return e.print(reports)
		}
		if reasonFlag == "" {
			return errors.New("--reason is required with --apply")
		}

		var corrections []*ledger.CorrectionResult
		for _, r := range reports {
			if !r.Drift {
				continue
			}
			result, err := e.services.Ledger.ApplyCorrection(ctx, r.UserID, ledger.Correction{Reason: reasonFlag})
			if errors.Is(err, ledger.ErrNoDrift) {
				continue
			}
			if err != nil {
				return fmt.Errorf("correcting %s: %w", r.UserID, err)
			}
			corrections = append(corrections, result)
		}
		return e.print(corrections)
	}),
}

var entitlementsCmd = &cobra.Command{
	Use:   "entitlements",
	Short: "Create missing enrollments and group memberships for members",
	RunE: run(func(ctx context.Context, e *env, _ []string) error {
		userIDs, err := parseUserIDs(userFlags)
		if err != nil {
			return err
		}
		results := make([]*entitlement.Result, 0, len(userIDs))
		for _, id := range userIDs {
			result, err := e.services.Entitlements.Reconcile(ctx, id, entitlement.Options{DryRun: dryRunFlag})
			if err != nil {
				return fmt.Errorf("reconciling %s: %w", id, err)
			}
			results = append(results, result)
		}
		if len(userIDs) > 0 {
			return e.print(results)
		}

		report, err := e.services.Runner.Run(ctx, reconcile.Options{DryRun: dryRunFlag})
		if err != nil {
			return err
		}
		return e.print(report)
	}),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile entitlements and wallets for every user",
	RunE: run(func(ctx context.Context, e *env, _ []string) error {
		userIDs, err := parseUserIDs(userFlags)
		if err != nil {
			return err
		}
		report, err := e.services.Runner.Run(ctx, reconcile.Options{
			UserIDs:                userIDs,
			DryRun:                 dryRunFlag,
			ApplyWalletCorrections: applyWallets,
		})
		if err != nil {
			return err
		}
		return e.print(report)
	}),
}

var nightlyCmd = &cobra.Command{
	Use:   "nightly",
	Short: "Run the scheduled sequence once: expire, backfill, reconcile",
	RunE: run(func(ctx context.Context, e *env, _ []string) error {
		return e.services.ReconcileJob.RunNightly(ctx)
	}),
}

var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "Fulfill SUCCESS transactions missing a membership or conversion",
	RunE: run(func(ctx context.Context, e *env, _ []string) error {
		report, err := e.services.Runner.BackfillTransactions(ctx, reconcile.Options{DryRun: dryRunFlag})
		if err != nil {
			return err
		}
		return e.print(report)
	}),
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List, repair or prune conversions pointing at no affiliate profile",
	RunE: run(func(ctx context.Context, e *env, _ []string) error {
		opts := ledger.OrphanOptions{DryRun: dryRunFlag}
		switch {
		case repairFlag && pruneFlag:
			return errors.New("--repair and --prune are exclusive")
		case repairFlag:
			report, err := e.services.Ledger.RepairOrphans(ctx, opts)
			if err != nil {
				return err
			}
			return e.print(report)
		case pruneFlag:
			report, err := e.services.Ledger.PruneOrphans(ctx, opts)
			if err != nil {
				return err
			}
			return e.print(report)
		}

		orphans, err := e.services.Ledger.FindOrphans(ctx)
		if err != nil {
			return err
		}
		return e.print(orphans)
	}),
}

var invariantsCmd = &cobra.Command{
	Use:   "invariants",
	Short: "Check that wallets hold at least what valid conversions earned",
	RunE: run(func(ctx context.Context, e *env, _ []string) error {
		report, err := e.services.Ledger.CheckInvariant(ctx)
		if err != nil {
			return err
		}
		if err := e.print(report); err != nil {
			return err
		}
		if !report.Holds {
			return errInvariantViolated
		}
		return nil
	}),
}

var commissionsCmd = &cobra.Command{
	Use:   "commissions",
	Short: "List suspicious commission settings on memberships and products",
	RunE: run(func(ctx context.Context, e *env, _ []string) error {
		warnings, err := e.services.Commission.AuditAll(ctx)
		if err != nil {
			return err
		}
		return e.print(warnings)
	}),
}

var slugsCmd = &cobra.Command{
	Use:   "slugs",
	Short: "Fill empty slugs on memberships, courses, groups and products",
	RunE: run(func(ctx context.Context, e *env, _ []string) error {
		report, err := e.services.Catalog.BackfillSlugs(ctx, dryRunFlag)
		if err != nil {
			return err
		}
		return e.print(report)
	}),
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Mark lapsed ACTIVE memberships as EXPIRED",
	RunE: run(func(ctx context.Context, e *env, _ []string) error {
		n, err := e.services.Entitlements.ExpireMemberships(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		return e.print(map[string]int64{"expired": n})
	}),
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write wallet reports and orphan conversions to an xlsx workbook",
	RunE: run(func(ctx context.Context, e *env, _ []string) error {
		reports, err := e.services.Ledger.WalletReports(ctx, nil)
		if err != nil {
			return err
		}
		orphans, err := e.services.Ledger.FindOrphans(ctx)
		if err != nil {
			return err
		}

		f, err := os.Create(outFlag)
		if err != nil {
			return err
		}
		if err := export.WalletWorkbook(f, reports, orphans, time.Now().UTC()); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return e.print(map[string]interface{}{"file": outFlag, "wallets": len(reports), "orphans": len(orphans)})
	}),
}

func init() {
	for _, c := range []*cobra.Command{walletsCmd, entitlementsCmd, runCmd} {
		c.Flags().StringSliceVar(&userFlags, "user", nil, "limit to these user ids")
	}
	for _, c := range []*cobra.Command{entitlementsCmd, runCmd, transactionsCmd, orphansCmd, slugsCmd} {
		c.Flags().BoolVar(&dryRunFlag, "dry-run", false, "report without writing")
	}

	walletsCmd.Flags().BoolVar(&applyFlag, "apply", false, "correct drifting wallets")
	walletsCmd.Flags().StringVar(&reasonFlag, "reason", "", "reason recorded in the audit log")
	runCmd.Flags().BoolVar(&applyWallets, "apply-wallets", false, "correct wallet drift instead of flagging it")
	orphansCmd.Flags().BoolVar(&repairFlag, "repair", false, "repoint orphans stored with a user id")
	orphansCmd.Flags().BoolVar(&pruneFlag, "prune", false, "delete uncredited orphans that cannot be repaired")
	exportCmd.Flags().StringVarP(&outFlag, "out", "o", "wallet-reconciliation.xlsx", "output file")

	rootCmd.AddCommand(walletsCmd, entitlementsCmd, runCmd, nightlyCmd, transactionsCmd,
		orphansCmd, invariantsCmd, commissionsCmd, slugsCmd, expireCmd, exportCmd)
}
