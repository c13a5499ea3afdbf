package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
	"github.com/dhegstad/AdsX-sub003/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type dryRunOutcome struct {
	RuleID   int             `json:"ruleId"`
	RuleName string          `json:"ruleName"`
	Matched  bool            `json:"matched"`
	Decision *alert.Decision `json:"decision,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func evaluateCommand(envFile *string) *cobra.Command {
	var file, at string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Dry-run one change event (JSON from --file or stdin) against its organization's active rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t
			}

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var ev alert.ChangeEvent
			if err := json.NewDecoder(in).Decode(&ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			alert.NormalizeEvent(&ev, now)
			if err := alert.ValidateEvent(ev); err != nil {
				return err
			}

			rt, err := bootstrap(ctx, *envFile, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			rows, err := store.ListActiveRules(ctx, rt.db, ev.OrganizationID)
			if err != nil {
				return err
			}
			matcher := alert.Matcher{EqualsEpsilon: rt.cfg.BudgetEqualsEpsilon}
			out := make([]dryRunOutcome, 0, len(rows))
			for _, row := range rows {
				o := dryRunOutcome{RuleID: row.ID, RuleName: row.Name}
				rule, err := alert.RuleFromModel(row)
				if err != nil {
					rt.log.Warn("skip malformed rule", zap.Int("rule_id", row.ID), zap.Error(err))
					o.Error = err.Error()
					out = append(out, o)
					continue
				}
				matched, decision := alert.Preview(matcher, rule, ev, now)
				o.Matched = matched
				if matched {
					o.Decision = &decision
				}
				out = append(out, o)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"eventId":     ev.ID,
				"evaluatedAt": now.UTC(),
				"outcomes":    out,
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "path to a change event JSON document, - for stdin")
	cmd.Flags().StringVar(&at, "at", "", "evaluation time (RFC 3339), defaults to now")
	return cmd
}
