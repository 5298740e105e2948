package agent

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agent-checker/internal/cachestore"
	"github.com/agent-checker/internal/checking"
	"github.com/agent-checker/internal/fetcher"
	"github.com/agent-checker/internal/piggyback"
)

func newDumpCmd() *cobra.Command {
	var useCache bool
	cmd := &cobra.Command{
		Use:   "dump HOST",
		Short: "Print the raw agent output of a host, including piggyback data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			engine, err := checking.NewEngine(cfg, checking.Options{NoSubmit: true})
			if err != nil {
				return err
			}
			host, ok := engine.Host(args[0])
			if !ok {
				return fmt.Errorf("unknown host %s", args[0])
			}

			mode := cachestore.Mode{UseCache: useCache, UseOutdated: useCache, NoCache: !useCache}
			pb := piggyback.New(cfg.Paths.PiggybackDir)
			f := fetcher.NewAgentFetcher(cachestore.New(cfg.Paths.CacheDir, mode), pb,
				fetcher.WithConnectTimeout(cfg.Check.ConnectTimeout))

			data, err := f.Fetch(cmd.Context(), host.Agent, cfg.Check.MaxCacheAge)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := out.Write(data); err != nil {
				return err
			}
			extra, err := f.FetchPiggyback(host.Name, cfg.Check.PiggybackMaxCacheAge)
			if err != nil {
				return err
			}
			_, err = out.Write(extra)
			return err
		},
	}
	cmd.Flags().BoolVar(&useCache, "cache", false, "print cached agent data if present")
	return cmd
}
