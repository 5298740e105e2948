package config

import (
	"fmt"
	"regexp"
	"time"
)

// Validate 目录校验：所有数据目录必须可创建
func (p *PathsConfig) Validate() error {
	dirs := map[string]string{
		"cache_dir":        p.CacheDir,
		"piggyback_dir":    p.PiggybackDir,
		"counter_dir":      p.CounterDir,
		"persisted_dir":    p.PersistedDir,
		"crash_dir":        p.CrashDir,
		"check_result_dir": p.CheckResultDir,
	}
	for name, dir := range dirs {
		if err := ensureDir(dir); err != nil {
			return fmt.Errorf("Paths.%s %s: %w", name, dir, err)
		}
	}
	return nil
}

func (c *Config) validateTimePeriods() error {
	for name, ranges := range c.TimePeriods {
		for _, r := range ranges {
			start, err := time.Parse("15:04", r.Start)
			if err != nil {
				return fmt.Errorf("time period %s: invalid start %q", name, r.Start)
			}
			end, err := time.Parse("15:04", r.End)
			if err != nil && r.End != "24:00" {
				return fmt.Errorf("time period %s: invalid end %q", name, r.End)
			}
			if err == nil && !end.After(start) {
				return fmt.Errorf("time period %s: end %s must be after start %s", name, r.End, r.Start)
			}
		}
	}
	return nil
}

func (c *Config) validateHosts() error {
	names := make(map[string]struct{}, len(c.Hosts))
	for _, h := range c.Hosts {
		if _, dup := names[h.Name]; dup {
			return fmt.Errorf("host %s defined twice", h.Name)
		}
		names[h.Name] = struct{}{}
	}

	for _, h := range c.Hosts {
		for _, node := range h.Nodes {
			if _, ok := names[node]; !ok {
				return fmt.Errorf("cluster %s: unknown node %s", h.Name, node)
			}
		}
		if h.Datasource == "program" && h.Program == "" {
			return fmt.Errorf("host %s: datasource program requires a command line", h.Name)
		}
		if h.Encryption.Mode == "enforced" && h.Encryption.Passphrase == "" {
			return fmt.Errorf("host %s: enforced encryption requires a passphrase", h.Name)
		}
		for _, svc := range h.Services {
			if svc.CheckPeriod == "" {
				continue
			}
			if _, ok := c.TimePeriods[svc.CheckPeriod]; !ok {
				return fmt.Errorf("host %s: service %s uses unknown time period %s", h.Name, svc.CheckType, svc.CheckPeriod)
			}
		}
		if h.ExitSpec != nil {
			if err := h.ExitSpec.validatePatterns(); err != nil {
				return fmt.Errorf("host %s: %w", h.Name, err)
			}
		}
	}

	if err := c.ExitSpec.validatePatterns(); err != nil {
		return err
	}
	for _, r := range c.Piggyback.Regex {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("piggyback regex %q: %w", r.Pattern, err)
		}
	}
	return nil
}

func (e *ExitSpecConfig) validatePatterns() error {
	for _, s := range e.SpecificMissingSections {
		if _, err := regexp.Compile(s.Pattern); err != nil {
			return fmt.Errorf("exit_spec specific_missing_sections %q: %w", s.Pattern, err)
		}
	}
	return nil
}
