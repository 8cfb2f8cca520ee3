package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"speakerscribe/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var serverMode bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools, devices, directories, and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if serverMode {
				if err := cfg.EnsureServerDirectories(); err != nil {
					return err
				}
			}
			tools := preflight.CheckSystemDeps(cmd.Context(), cfg)
			checks := preflight.RunAll(cmd.Context(), cfg, serverMode, ctx.checkers)

			if jsonOutput {
				return writeJSON(cmd, map[string]any{"dependencies": tools, "checks": checks})
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if ctx.configPath != "" {
				fmt.Fprintln(out, renderStatusLine("Config", statusInfo, ctx.configPath, colorize))
			}
			writeLines(out, renderSectionHeader("Dependencies", colorize))
			problems := 0
			for _, t := range tools {
				kind, detail := statusOK, t.Detail
				switch {
				case !t.Available && t.Optional:
					kind = statusWarn
				case !t.Available:
					kind = statusError
					problems++
				}
				if detail == "" {
					detail = t.Command
				}
				fmt.Fprintln(out, renderStatusLine(t.Name, kind, detail, colorize))
			}
			writeLines(out, renderSectionHeader("Environment", colorize))
			for _, c := range checks {
				kind := statusOK
				if !c.Passed {
					kind = statusError
					problems++
				}
				fmt.Fprintln(out, renderStatusLine(c.Name, kind, c.Detail, colorize))
			}
			if problems > 0 {
				return fmt.Errorf("%d check(s) failed", problems)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&serverMode, "server", false, "Also check web-mode directories")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	return cmd
}
