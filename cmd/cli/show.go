package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-lab-harvester/internal/config"
	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored harvest runs",
}

var showRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List harvest runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		runs, err := fetchRuns(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to get runs: %w", err)
		}
		if outputJSON {
			return printJSON(runs)
		}
		printRuns(runs)
		return nil
	},
}

var showRunCmd = &cobra.Command{
	Use:   "run [id]",
	Short: "Show one harvest run and its record counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		run, err := fetchRun(ctx, cfg, args[0])
		if err != nil {
			return fmt.Errorf("failed to get run: %w", err)
		}
		if outputJSON {
			return printJSON(run)
		}
		printRuns([]*domain.HarvestRun{run})
		return nil
	},
}

func init() {
	showCmd.AddCommand(showRunsCmd)
	showCmd.AddCommand(showRunCmd)
}

func fetchRuns(ctx context.Context, cfg *config.Config) ([]*domain.HarvestRun, error) {
	if remote {
		return newAPIClient(cfg).GetRuns(ctx)
	}
	store, err := requireStorage(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.GetRuns(ctx)
}

func fetchRun(ctx context.Context, cfg *config.Config, id string) (*domain.HarvestRun, error) {
	if remote {
		return newAPIClient(cfg).GetRun(ctx, id)
	}
	store, err := requireStorage(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.GetRun(ctx, id)
}

func printRuns(runs []*domain.HarvestRun) {
	if len(runs) == 0 {
		fmt.Println("No harvest runs")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Phase", "Status", "Started", "Duration", "Succeeded", "Failed", "Query"})
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		table.Append([]string{
			r.ID,
			string(r.Phase),
			r.Status,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			strconv.Itoa(r.Succeeded),
			strconv.Itoa(r.Failed),
			r.Query,
		})
	}
	table.Render()
}
