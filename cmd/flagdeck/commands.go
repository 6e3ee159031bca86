package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/matt-riley/flagdeck/internal/core"
)

func newFeaturesCommand() *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "features",
		Short: "List features, optionally filtered by a search query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openConsole(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()

			return writeFeatureTable(cmd.OutOrStdout(), c.svc.SearchFeatures(query))
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Case-insensitive match on name, key, description and tags")

	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <feature-id>",
		Short: "Print a feature as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openConsole(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()

			feature, err := c.svc.Feature(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), feature)
		},
	}
}

func newAudienceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audience <feature-id>",
		Short: "List the clients a feature currently applies to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openConsole(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()

			labels, all, err := c.svc.AudienceLabels(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if all {
				_, err = fmt.Fprintln(out, "All clients")
				return err
			}
			if len(labels) == 0 {
				_, err = fmt.Fprintln(out, "No clients")
				return err
			}
			for _, label := range labels {
				if _, err := fmt.Fprintln(out, label); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env <feature-id> <environment> on|off|toggle",
		Short: "Turn a feature on or off in one environment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := core.ParseEnvironment(args[1])
			if err != nil {
				return err
			}
			action := strings.ToLower(strings.TrimSpace(args[2]))
			if action != "on" && action != "off" && action != "toggle" {
				return fmt.Errorf("unknown action %q: want on, off or toggle", args[2])
			}

			c, err := openConsole(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()

			id := args[0]
			if _, err := c.svc.Feature(id); err != nil {
				return err
			}

			ctx := cmd.Context()
			switch action {
			case "toggle":
				err = c.svc.ToggleEnvironmentFlag(ctx, id, env)
			default:
				err = c.svc.SetEnvironmentFlag(ctx, id, env, action == "on")
			}
			if err != nil {
				return err
			}

			feature, err := c.svc.Feature(id)
			if err != nil {
				return err
			}
			value, _ := feature.Env.Get(env)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", feature.Key, env, onOff(value))
			return err
		},
	}
}

func newChangesCommand() *cobra.Command {
	var (
		featureID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Print the newest change log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openConsole(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()

			if featureID != "" {
				if _, err := c.svc.Feature(featureID); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, entry := range c.svc.ChangeLog(featureID, limit) {
				fmt.Fprintf(w, "%s\t%s\t%s\n", entry.When.Format("2006-01-02 15:04:05"), entry.Who, entry.What)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&featureID, "feature", "", "Only entries for this feature id, plus global entries")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries")

	return cmd
}

func newEvaluateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <environment> <client-id>",
		Short: "Print every flag key's value for a client in one environment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := core.ParseEnvironment(args[0])
			if err != nil {
				return err
			}

			c, err := openConsole(cmd, nil)
			if err != nil {
				return err
			}
			defer c.close()

			flags, err := c.svc.Evaluate(env, args[1])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), flags)
		},
	}
}

func newResetCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored console state",
		Long: `Delete the blob stored under STATE_KEY. The next command that opens the
console starts again from the sample state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return errors.New("reset deletes every feature, group and change; pass --force to confirm")
			}

			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			repo, _, closeRepo, err := openRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeRepo()

			if err := repo.DeleteBlob(cmd.Context(), cfg.StateKey); err != nil {
				return fmt.Errorf("delete state %q: %w", cfg.StateKey, err)
			}
			log.Info("state deleted", "key", cfg.StateKey, "blob_store", cfg.BlobStore)

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted state %s\n", cfg.StateKey)
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm deleting the stored state")

	return cmd
}

func writeFeatureTable(out io.Writer, features []core.Feature) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKEY\tNAME\tON\tTARGETING")
	for _, f := range features {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.ID, f.Key, f.Name, enabledIn(f.Env), core.ModeOf(f.Targeting))
	}
	return w.Flush()
}

func enabledIn(env core.EnvFlags) string {
	on := make([]string, 0, len(core.Environments))
	for _, e := range core.Environments {
		if v, _ := env.Get(e); v {
			on = append(on, string(e))
		}
	}
	if len(on) == 0 {
		return "-"
	}
	return strings.Join(on, ",")
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
