package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"speakerscribe/internal/config"
	"speakerscribe/internal/corrections"
	"speakerscribe/internal/pipeline"
	"speakerscribe/internal/services"
)

func newCorrectionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corrections",
		Short: "Inspect transcript correction rules",
	}
	cmd.AddCommand(newCorrectionsShowCommand(ctx))
	cmd.AddCommand(newCorrectionsApplyCommand(ctx))
	return cmd
}

func activeRules(cfg *config.Config) (corrections.Rules, error) {
	rules, err := pipeline.LoadRules(cfg)
	if err != nil {
		return corrections.Rules{}, err
	}
	if err := rules.Validate(); err != nil {
		return corrections.Rules{}, services.Wrap(services.ErrConfiguration, "corrections", "validate rules", "", err)
	}
	return rules, nil
}

func newCorrectionsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active correction rule table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rules, err := activeRules(cfg)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, rules)
			}
			rows := make([][]string, 0, len(rules.Substitutions))
			for i, s := range rules.Substitutions {
				rows = append(rows, []string{strconv.Itoa(i + 1), s.Pattern, s.Replacement})
			}
			out := cmd.OutOrStdout()
			source := "built-in"
			if cfg.Corrections.RulesFile != "" {
				source = cfg.Corrections.RulesFile
			}
			fmt.Fprintf(out, "Rules: %s (enabled: %s)\n", source, yesNo(cfg.Corrections.Enabled))
			fmt.Fprintln(out, renderTable([]string{"#", "Heard", "Replacement"}, rows, []columnAlignment{alignRight}))
			h := rules.Interjection
			if h.ThresholdSeconds > 0 {
				fmt.Fprintf(out, "Interjections: segments under %.2fs", h.ThresholdSeconds)
				if h.MaxWords > 0 {
					fmt.Fprintf(out, " and at most %d words", h.MaxWords)
				}
				fmt.Fprintln(out)
			} else {
				fmt.Fprintln(out, "Interjections: disabled")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print rules as JSON")
	return cmd
}

func newCorrectionsApplyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <text>",
		Short: "Run the substitution rules over a line of text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rules, err := activeRules(cfg)
			if err != nil {
				return err
			}
			engine, err := corrections.NewEngine(rules)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), engine.CorrectText(args[0]))
			return nil
		},
	}
}
