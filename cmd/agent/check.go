package agent

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agent-checker/internal/cachestore"
	"github.com/agent-checker/internal/checking"
	"github.com/agent-checker/internal/submit"
	"github.com/agent-checker/pkg/config"
)

// checkFlags check/batch 共用的运行模式参数
type checkFlags struct {
	cache    bool
	noCache  bool
	noTCP    bool
	useWalk  bool
	force    bool
	noSubmit bool
	perfdata bool
}

func (f *checkFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.BoolVar(&f.cache, "cache", false, "use cached agent data regardless of its age")
	fs.BoolVar(&f.noCache, "no-cache", false, "never read cached agent data")
	fs.BoolVar(&f.noTCP, "no-tcp", false, "do not contact agents over the network, cache only")
	fs.BoolVar(&f.useWalk, "usewalk", false, "read SNMP data from stored walk files")
	fs.BoolVar(&f.force, "force", false, "ignore SNMP check intervals and use outdated persisted sections")
	fs.BoolVar(&f.noSubmit, "no-submit", false, "do not submit results and do not store counters")
	fs.BoolVar(&f.perfdata, "perfdata", false, "show performance data")
}

func (f *checkFlags) options() checking.Options {
	return checking.Options{
		Cache: cachestore.Mode{
			UseCache:    f.cache,
			UseOutdated: f.cache,
			NoCache:     f.noCache,
			NoTCP:       f.noTCP,
		},
		Force:    f.force,
		NoSubmit: f.noSubmit,
		UseWalk:  f.useWalk,
	}
}

func newCheckCmd() *cobra.Command {
	flags := &checkFlags{}
	cmd := &cobra.Command{
		Use:   "check HOST",
		Short: "Run one check cycle for a host and print every service result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			console := submit.NewConsoleSink(out, flags.perfdata)

			engine, err := checking.NewEngine(cfg, flags.options(),
				checking.WithSinkFactory(consoleSinkFactory(cfg, console, flags.noSubmit)))
			if err != nil {
				return err
			}
			res, err := engine.Check(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res.Output())
			exitCode = res.ExitCode()
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// consoleSinkFactory 终端输出之外，未指定 --no-submit 时同时提交到监控核心
func consoleSinkFactory(cfg *config.Config, console submit.Sink, noSubmit bool) checking.SinkFactory {
	return func(string) (submit.Sink, error) {
		if noSubmit {
			return console, nil
		}
		core, err := submit.New(cfg.Check.Submission, cfg.Paths.CommandPipe, cfg.Paths.CheckResultDir)
		if err != nil {
			return nil, err
		}
		return submit.Multi{console, core}, nil
	}
}
