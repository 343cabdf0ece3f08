// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// granulectl backfill 运维命令行：多数子命令调用控制面 HTTP API，
// inventory import 与 rotate-credentials 直接访问存储。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"granule-backfill/internal/credentials"
	"granule-backfill/internal/granule"
	"granule-backfill/internal/inventory"
	"granule-backfill/internal/storage/postgres"
	"granule-backfill/pkg/config"
	"granule-backfill/pkg/log"
	"granule-backfill/pkg/secrets"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var apiURL string
	root := &cobra.Command{
		Use:           "granulectl",
		Short:         "Operate the granule backfill: feed, inspect logs, redrive channels",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api", "", "control plane URL (default $GRANULE_BACKFILL_API_URL or "+defaultAPIURL+")")
	client := func() *apiClient { return newClient(apiURL) }

	root.AddCommand(
		versionCmd(),
		feedCmd(client),
		submitCmd(client),
		eventCmd(client),
		redriveCmd(client),
		channelCmd(client),
		trackerCmd(client),
		logsCmd(client),
		reconcileCmd(client),
		inventoryCmd(),
		rotateCredentialsCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the granulectl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "granulectl %s\n", version)
		},
	}
}

func feedCmd(client func() *apiClient) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Run one submit_batch now (count 0 uses feeder.batch_size)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := client().do(http.MethodPost, "/v1/feeder/run", map[string]int{"count": count}, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of granules to submit")
	return cmd
}

func submitCmd(client func() *apiClient) *cobra.Command {
	var attempt int
	var debugBucket string
	cmd := &cobra.Command{
		Use:   "submit <granule_id>...",
		Short: "Submit specific granules without touching the tracker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events := make([]map[string]interface{}, 0, len(args))
			for _, id := range args {
				if _, err := granule.ParseID(id); err != nil {
					return err
				}
				events = append(events, map[string]interface{}{"granule_id": id, "attempt": attempt, "debug_bucket": debugBucket})
			}
			var out map[string]interface{}
			if err := client().do(http.MethodPost, "/v1/feeder/submit", map[string]interface{}{"events": events}, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&attempt, "attempt", 0, "attempt number carried by the event")
	cmd.Flags().StringVar(&debugBucket, "debug-bucket", "", "bucket for debug output")
	return cmd
}

func eventCmd(client func() *apiClient) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Report a cluster terminal outcome (JSON from --file or stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var outcome json.RawMessage
			if err := json.NewDecoder(r).Decode(&outcome); err != nil {
				return fmt.Errorf("decode outcome: %w", err)
			}
			var out map[string]interface{}
			if err := client().do(http.MethodPost, "/v1/events", outcome, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "outcome JSON file, - for stdin")
	return cmd
}

func redriveCmd(client func() *apiClient) *cobra.Command {
	var from, to string
	var limit int
	cmd := &cobra.Command{
		Use:   "redrive",
		Short: "Move messages between channels (default failure -> retry)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"from": from, "to": to, "limit": limit}
			var out map[string]interface{}
			if err := client().do(http.MethodPost, "/v1/channels/redrive", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source channel")
	cmd.Flags().StringVar(&to, "to", "", "destination channel")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum messages to move, 0 for all")
	return cmd
}

func channelCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "channel <name>",
		Short: "Show ready and in-flight counts of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := client().do(http.MethodGet, "/v1/channels/"+url.PathEscape(args[0]), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func trackerCmd(client func() *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Inspect or reset the progress cursor",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print row_start and version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := client().do(http.MethodGet, "/v1/tracker", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	var yes bool
	reset := &cobra.Command{
		Use:   "reset <row_start>",
		Short: "Overwrite row_start; only for restarting a backfill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowStart, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || rowStart < 0 {
				return fmt.Errorf("row_start must be a non-negative integer: %q", args[0])
			}
			if !yes {
				return fmt.Errorf("refusing to reset the tracker without --yes")
			}
			var out map[string]interface{}
			if err := client().do(http.MethodPost, "/v1/tracker/reset", map[string]int64{"row_start": rowStart}, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	reset.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	cmd.AddCommand(show, reset)
	return cmd
}

func logsCmd(client func() *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Read job outcome logs",
	}
	show := &cobra.Command{
		Use:   "show <granule_id>",
		Short: "Print the log history and current state of a granule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := client().do(http.MethodGet, "/v1/granules/"+url.PathEscape(args[0]), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	var date string
	list := &cobra.Command{
		Use:   "list <outcome>",
		Short: "List log keys under an outcome (success, retryable_failure, non_retryable_failure)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := granule.ParseOutcome(args[0])
			if err != nil {
				return err
			}
			path := "/v1/logs/" + string(o)
			if date != "" {
				path += "?date=" + url.QueryEscape(date)
			}
			var out map[string]interface{}
			if err := client().do(http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	list.Flags().StringVar(&date, "date", "", "acquisition date YYYY-MM-DD")
	cmd.AddCommand(show, list)
	return cmd
}

func reconcileCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <granule_id>",
		Short: "Remove failure logs of a granule that has since succeeded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := client().do(http.MethodPost, "/v1/granules/"+url.PathEscape(args[0])+"/reconcile", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func inventoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Manage the granule inventory",
	}
	var dsn string
	var batch int
	imp := &cobra.Command{
		Use:   "import <report>",
		Short: "Append completed rows of a flat inventory report to the postgres inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = os.Getenv("INVENTORY_DSN")
			}
			if dsn == "" {
				return fmt.Errorf("--dsn or INVENTORY_DSN is required")
			}
			r, closeFn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			pool, err := postgres.OpenWithSchema(ctx, dsn)
			if err != nil {
				return err
			}
			defer pool.Close()
			stats, err := inventory.Import(ctx, pool, r, batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted=%d skipped=%d\n", stats.Inserted, stats.Skipped)
			return nil
		},
	}
	imp.Flags().StringVar(&dsn, "dsn", "", "postgres DSN (default $INVENTORY_DSN)")
	imp.Flags().IntVar(&batch, "batch", 1000, "rows per insert batch")

	count := &cobra.Command{
		Use:   "count <report>",
		Short: "Count completed rows of a flat inventory report without importing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeFn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeFn()
			var completed, published int
			err = inventory.ScanReport(r, func(row inventory.Row) error {
				completed++
				if row.Published {
					published++
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "completed=%d published=%d\n", completed, published)
			return nil
		},
	}
	cmd.AddCommand(imp, count)
	return cmd
}

func rotateCredentialsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "rotate-credentials",
		Short: "Fetch temporary S3 credentials and store them in the output secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Credentials.URL == "" {
				return fmt.Errorf("credentials.url is not configured")
			}
			store, err := secrets.NewStore(cfg.Secrets)
			if err != nil {
				return err
			}
			logger, err := log.NewLogger(&cfg.Log)
			if err != nil {
				return err
			}
			r := credentials.NewRotator(store, credentials.Config{
				URL:            cfg.Credentials.URL,
				UserPassSecret: cfg.Credentials.UserPassSecret,
				OutputSecret:   cfg.Credentials.OutputSecret,
				Timeout:        cfg.API.Timeout,
			}, logger)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if _, err := r.Rotate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credentials written to %s\n", cfg.Credentials.OutputSecret)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/worker.yaml", "config file")
	return cmd
}

// openInput 打开文件，"-" 表示 stdin
func openInput(cmd *cobra.Command, name string) (io.Reader, func(), error) {
	if name == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
