package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/orgmem/internal/engine"
)

var (
	decayScope       scopeFlags
	consolidateScope scopeFlags
	reconcileScope   scopeFlags
	repair           bool
	minAgeDays       int
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Apply one salience decay tick",
	Long:  "Lowers salience by the configured rate. Without --tenant every tenant is decayed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cfg, log, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		var updated int
		if decayScope.tenant == "" {
			updated, err = rt.engine.DecayAll(cmd.Context())
		} else {
			var sc *engine.Scope
			if sc, err = decayScope.scope(rt.engine); err != nil {
				return err
			}
			updated, err = sc.Decay(cmd.Context())
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "decayed %d nodes\n", updated)
		return nil
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Decay, reward cross-layer links and list prune candidates for a team",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cfg, log, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		sc, err := consolidateScope.scope(rt.engine)
		if err != nil {
			return err
		}
		cc := rt.engine.Config().Consolidation
		if cmd.Flags().Changed("min-age-days") {
			cc.MinAgeDays = minAgeDays
		}
		res, err := sc.Consolidate(cmd.Context(), cc)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare a team's nodes with the similarity index",
	Long:  "Reports nodes missing from the index and index entries without a node. --repair re-indexes and purges them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cfg, log, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		sc, err := reconcileScope.scope(rt.engine)
		if err != nil {
			return err
		}
		rep, err := sc.Reconcile(cmd.Context(), engine.ReconcileOptions{Repair: repair})
		if err != nil {
			return err
		}
		return printJSON(cmd, rep)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func addScopeFlags(cmd *cobra.Command, f *scopeFlags, required bool) {
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "tenant uuid")
	cmd.Flags().StringVar(&f.team, "team", "default", "team id")
	if required {
		cmd.MarkFlagRequired("tenant")
	}
}

func init() {
	addScopeFlags(decayCmd, &decayScope, false)
	addScopeFlags(consolidateCmd, &consolidateScope, true)
	addScopeFlags(reconcileCmd, &reconcileScope, true)
	consolidateCmd.Flags().IntVar(&minAgeDays, "min-age-days", 30, "only nodes older than this are prune candidates")
	reconcileCmd.Flags().BoolVar(&repair, "repair", false, "re-index missing nodes and purge orphaned entries")
}
