package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/binarymax/llm-primitives/pkg/models"
)

func newCostCmd() *cobra.Command {
	var (
		configPath string
		group      string
		start      string
		end        string
		interval   string
	)

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show completion spend by group or time bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			f := models.CostFilter{GroupID: group, Interval: interval}
			if start != "" {
				f.Start, err = time.Parse("2006-01-02", start)
				if err != nil {
					return fmt.Errorf("invalid --start date (use YYYY-MM-DD): %w", err)
				}
			}
			if end != "" {
				f.End, err = time.Parse("2006-01-02", end)
				if err != nil {
					return fmt.Errorf("invalid --end date (use YYYY-MM-DD): %w", err)
				}
			}

			buckets, err := s.CostSummary(context.Background(), f)
			if err != nil {
				return err
			}

			fmt.Print(formatCostTable(buckets))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&group, "group", "g", "", "filter by group id")
	cmd.Flags().StringVar(&start, "start", "", "inclusive start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "exclusive end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&interval, "interval", "", "bucket by time: day or hour")

	return cmd
}

func formatCostTable(buckets []models.CostBucket) string {
	if len(buckets) == 0 {
		return "No completions found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %8s %12s %12s\n", "BUCKET", "COUNT", "TOTAL", "AVG")
	b.WriteString(strings.Repeat("-", 60) + "\n")

	var total float64
	for _, bucket := range buckets {
		name := bucket.Bucket
		if name == "" {
			name = "(ungrouped)"
		}
		fmt.Fprintf(&b, "%-25s %8d $%11.4f $%11.4f\n", name, bucket.Count, bucket.TotalCost, bucket.AvgCost)
		total += bucket.TotalCost
	}
	b.WriteString(strings.Repeat("-", 60) + "\n")
	fmt.Fprintf(&b, "%34s $%11.4f\n", "TOTAL:", total)
	return b.String()
}
