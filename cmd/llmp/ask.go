package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/binarymax/llm-primitives/pkg/llm"
)

func newAskCmd() *cobra.Command {
	var (
		configPath  string
		model       string
		group       string
		answerType  string
		options     []string
		temperature float32
		maxTokens   int
		stream      bool
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask a one-shot question, answered from cache when possible",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if model != "" {
				cfg.Model = model
			}
			if group != "" {
				cfg.GroupID = group
			}

			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			client, err := llm.New(llm.Options{
				APIKey:  cfg.APIKey,
				BaseURL: cfg.BaseURL,
				Model:   cfg.Model,
				System:  cfg.System,
				GroupID: cfg.GroupID,
				Prompts: cfg.Prompts,
				Store:   s,
			})
			if err != nil {
				return err
			}

			ctx := context.Background()
			content := strings.Join(args, " ")

			if stream {
				_, err := client.Stream(ctx, content, func(e llm.StreamEvent) {
					if e.Chunk != "" {
						fmt.Print(e.Chunk)
					}
					if e.Done {
						fmt.Println()
					}
				}, temperature)
				return err
			}

			switch answerType {
			case "bool":
				v, err := client.Bool(ctx, content, temperature)
				if err != nil {
					return err
				}
				fmt.Println(v)
			case "int":
				v, err := client.Int(ctx, content, temperature)
				if err != nil {
					return err
				}
				fmt.Println(v)
			case "float":
				v, err := client.Float(ctx, content, temperature)
				if err != nil {
					return err
				}
				fmt.Println(v)
			case "date":
				v, err := client.Date(ctx, content, "", temperature)
				if err != nil {
					return err
				}
				fmt.Println(v.Format("2006-01-02"))
			case "enum":
				if len(options) == 0 {
					return fmt.Errorf("--options is required for --type enum")
				}
				v, err := client.Enum(ctx, content, options, temperature)
				if err != nil {
					return err
				}
				fmt.Println(v)
			case "string":
				v, err := client.String(ctx, content, maxTokens, temperature)
				if err != nil {
					return err
				}
				fmt.Println(v)
			default:
				return fmt.Errorf("unknown answer type %q", answerType)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id (overrides config)")
	cmd.Flags().StringVarP(&group, "group", "g", "", "group id for cache scoping")
	cmd.Flags().StringVarP(&answerType, "type", "t", "string", "answer type: string, bool, int, float, date, enum")
	cmd.Flags().StringSliceVar(&options, "options", nil, "choices for --type enum")
	cmd.Flags().Float32Var(&temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "cap completion tokens for --type string")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the answer to stdout")

	return cmd
}
