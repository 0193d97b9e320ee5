package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mbd888/sentinel/internal/config"
	"github.com/mbd888/sentinel/internal/detection"
	"github.com/mbd888/sentinel/internal/velocity"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the engine configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config after defaults and SENTINEL_ overrides",
		RunE:  runConfigShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config and train the anomaly model once",
		RunE:  runConfigValidate,
	})
	return cmd
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadEngineStrict(path)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadEngineStrict(path)
	if err != nil {
		return err
	}

	r := detection.FromConfig(cfg, velocity.NewMemoryStore()).Report()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: OK\n", path)
	fmt.Fprintf(w, "  training points:   %d\n", r.TrainedOn)
	if r.UsedFallbackSeed {
		fmt.Fprintln(w, "  anomaly model:     trained on fallback seed data")
	}
	fmt.Fprintf(w, "  trust graph:       %d nodes, %d edges\n", r.GraphNodes, r.GraphEdges)
	fmt.Fprintf(w, "  user profiles:     %d\n", r.Profiles)
	return nil
}
