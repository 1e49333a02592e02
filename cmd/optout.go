package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospector/internal/model"
)

var (
	optOutScope  string
	optOutValue  string
	optOutReason string
	optOutFile   string
)

var optOutCmd = &cobra.Command{
	Use:   "optout",
	Short: "Manage the opt-out registry",
}

var optOutAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record an opt-out for a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if !validScope(optOutScope) {
			return eris.Errorf("invalid scope %q (domain, email, phone, fingerprint)", optOutScope)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.AddOptOut(ctx, model.OptOutEntry{
			ScopeType:  optOutScope,
			ScopeValue: optOutValue,
			Reason:     optOutReason,
		}); err != nil {
			return err
		}

		zap.L().Info("opt-out recorded",
			zap.String("scope", optOutScope),
			zap.String("value", optOutValue),
		)
		return nil
	},
}

var optOutRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove an opt-out entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.RemoveOptOut(ctx, optOutScope, optOutValue); err != nil {
			return err
		}

		zap.L().Info("opt-out removed",
			zap.String("scope", optOutScope),
			zap.String("value", optOutValue),
		)
		return nil
	},
}

var optOutListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all opt-out entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.ListOptOuts(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

// optOutSeedFile is the YAML shape accepted by `optout import`.
type optOutSeedFile struct {
	OptOuts []struct {
		Scope  string `yaml:"scope"`
		Value  string `yaml:"value"`
		Reason string `yaml:"reason"`
	} `yaml:"opt_outs"`
}

var optOutImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-import opt-out entries from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(optOutFile)
		if err != nil {
			return eris.Wrap(err, "read opt-out file")
		}

		var seed optOutSeedFile
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return eris.Wrap(err, "parse opt-out file")
		}

		entries := make([]model.OptOutEntry, 0, len(seed.OptOuts))
		for _, o := range seed.OptOuts {
			if !validScope(o.Scope) {
				return eris.Errorf("invalid scope %q for value %q", o.Scope, o.Value)
			}
			entries = append(entries, model.OptOutEntry{
				ScopeType:  o.Scope,
				ScopeValue: o.Value,
				Reason:     o.Reason,
			})
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ImportOptOuts(ctx, entries)
		if err != nil {
			return err
		}

		zap.L().Info("opt-outs imported", zap.Int("count", n))
		return nil
	},
}

func validScope(scope string) bool {
	switch scope {
	case model.ScopeDomain, model.ScopeEmail, model.ScopePhone, model.ScopeFingerprint:
		return true
	}
	return false
}

func init() {
	optOutAddCmd.Flags().StringVar(&optOutScope, "scope", "", "scope type: domain, email, phone, fingerprint (required)")
	optOutAddCmd.Flags().StringVar(&optOutValue, "value", "", "scope value (required)")
	optOutAddCmd.Flags().StringVar(&optOutReason, "reason", "", "why the identity opted out")
	_ = optOutAddCmd.MarkFlagRequired("scope")
	_ = optOutAddCmd.MarkFlagRequired("value")

	optOutRemoveCmd.Flags().StringVar(&optOutScope, "scope", "", "scope type (required)")
	optOutRemoveCmd.Flags().StringVar(&optOutValue, "value", "", "scope value (required)")
	_ = optOutRemoveCmd.MarkFlagRequired("scope")
	_ = optOutRemoveCmd.MarkFlagRequired("value")

	optOutImportCmd.Flags().StringVar(&optOutFile, "file", "", "path to YAML seed file (required)")
	_ = optOutImportCmd.MarkFlagRequired("file")

	optOutCmd.AddCommand(optOutAddCmd, optOutRemoveCmd, optOutListCmd, optOutImportCmd)
	rootCmd.AddCommand(optOutCmd)
}
