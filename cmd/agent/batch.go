package agent

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agent-checker/internal/checking"
	"github.com/agent-checker/internal/plugins"
	"github.com/agent-checker/internal/submit"
	"github.com/agent-checker/pkg/logger"
)

type batchResult struct {
	host   string
	result *checking.HostResult
	err    error
}

func newBatchCmd() *cobra.Command {
	flags := &checkFlags{}
	var workers int
	cmd := &cobra.Command{
		Use:   "batch [HOST...]",
		Short: "Run one check cycle for several hosts in parallel and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			engine, err := checking.NewEngine(cfg, flags.options())
			if err != nil {
				return err
			}
			hosts := args
			if len(hosts) == 0 {
				hosts = engine.Hosts()
			}
			if workers <= 0 {
				workers = cfg.Check.Workers
			}

			bar := progressbar.NewOptions(len(hosts),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(50),
				progressbar.OptionSetDescription("[cyan]Checking hosts[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)

			start := time.Now()
			results := make([]batchResult, len(hosts))
			p := pool.New().WithMaxGoroutines(workers)
			for i, host := range hosts {
				p.Go(func() {
					res, err := engine.Check(cmd.Context(), host)
					results[i] = batchResult{host: host, result: res, err: err}
					_ = bar.Add(1)
				})
			}
			p.Wait()
			_ = bar.Finish()
			fmt.Fprintln(cmd.ErrOrStderr())

			worst := printBatchSummary(cmd.OutOrStdout(), results)
			logger.Info("batch finished", "",
				zap.Int("hosts", len(hosts)),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("worst", worst.String()))
			exitCode = int(worst)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of hosts checked in parallel (default check.workers)")
	return cmd
}

// printBatchSummary 输出每个主机一行，返回最差状态
func printBatchSummary(w io.Writer, results []batchResult) plugins.State {
	worst := plugins.OK
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tSTATE\tSERVICES\tELAPSED\tOUTPUT")
	for _, r := range results {
		if r.err != nil {
			worst = plugins.Unknown
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t%v\n", r.host, submit.Colorize(plugins.Unknown, "UNKNOWN"), r.err)
			continue
		}
		res := r.result
		if res.State > worst {
			worst = res.State
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.1fs\t%s\n",
			r.host,
			submit.Colorize(res.State, res.State.String()),
			len(res.Services),
			res.Elapsed.Seconds(),
			strings.Join(res.Infotexts, ", "))
	}
	_ = tw.Flush()
	return worst
}
