package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
	"github.com/dhegstad/AdsX-sub003/internal/obs"
	"github.com/dhegstad/AdsX-sub003/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func flushDigestsCommand(envFile *string) *cobra.Command {
	var ruleID int
	var orgID string
	cmd := &cobra.Command{
		Use:   "flush-digests",
		Short: "Flush due digest buffers once, or force one rule with --rule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := bootstrap(ctx, *envFile, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			digests, closeDigests, err := rt.digestStore(ctx)
			if err != nil {
				return err
			}
			defer closeDigests()
			worker := alert.NewDigestWorker(rt.db, digests, rt.log, obs.New())

			if ruleID == 0 {
				n, err := worker.FlushDue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "digests emitted: %d\n", n)
				return nil
			}
			return flushOne(ctx, cmd, worker, orgID, ruleID)
		},
	}
	cmd.Flags().IntVar(&ruleID, "rule", 0, "rule ID to flush regardless of schedule")
	cmd.Flags().StringVar(&orgID, "org", "", "organization owning --rule")
	return cmd
}

func flushOne(ctx context.Context, cmd *cobra.Command, worker *alert.DigestWorker, orgID string, ruleID int) error {
	if orgID == "" {
		return fmt.Errorf("--org is required with --rule")
	}
	row, found, err := store.GetRule(ctx, worker.DB, orgID, ruleID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("rule %d not found in org %s", ruleID, orgID)
	}
	rule, err := alert.RuleFromModel(row)
	if err != nil {
		return err
	}
	if rule.DigestMode != alert.DigestHourly && rule.DigestMode != alert.DigestDaily {
		return fmt.Errorf("rule %d does not use digests (mode %s)", ruleID, rule.DigestMode)
	}
	sent, err := worker.FlushRule(ctx, rule, time.Now(), true)
	if err != nil {
		return err
	}
	worker.Logger.Info("manual digest flush", zap.Int("rule_id", ruleID), zap.Bool("emitted", sent))
	fmt.Fprintf(cmd.OutOrStdout(), "rule %d flushed: %t\n", ruleID, sent)
	return nil
}
