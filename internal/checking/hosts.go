package checking

import (
	"fmt"
	"time"

	"github.com/agent-checker/internal/fetcher"
	"github.com/agent-checker/internal/plugins"
	"github.com/agent-checker/internal/snmp"
	"github.com/agent-checker/pkg/config"
)

// Service 检查表中的一项
type Service struct {
	CheckType   string
	Item        string
	Description string
	Params      plugins.Params
	CheckPeriod string
	Interval    time.Duration
}

// Host 一个被监控主机（或集群）及其检查表
type Host struct {
	Name     string
	Agent    fetcher.HostSpec
	SNMP     *snmp.Target
	Nodes    []string
	Services []Service
	ExitSpec ExitSpec
}

// IsCluster 是否为集群主机
func (h *Host) IsCluster() bool {
	return len(h.Nodes) > 0
}

// HostsFromConfig 把配置中的主机转换为检查主机，服务名缺省时由插件推导
func HostsFromConfig(cfg *config.Config, registry *plugins.Registry) (map[string]*Host, error) {
	hosts := make(map[string]*Host, len(cfg.Hosts))
	for i := range cfg.Hosts {
		h, err := hostFromConfig(cfg, &cfg.Hosts[i], registry)
		if err != nil {
			return nil, err
		}
		hosts[h.Name] = h
	}
	return hosts, nil
}

func hostFromConfig(cfg *config.Config, hc *config.HostConfig, registry *plugins.Registry) (*Host, error) {
	exitCfg := cfg.ExitSpec
	if hc.ExitSpec != nil {
		exitCfg = *hc.ExitSpec
	}
	exitSpec, err := NewExitSpec(exitCfg)
	if err != nil {
		return nil, fmt.Errorf("host %s: %w", hc.Name, err)
	}

	address := hc.Address
	if address == "" {
		address = hc.Name
	}
	h := &Host{
		Name:     hc.Name,
		Nodes:    hc.Nodes,
		ExitSpec: exitSpec,
		Agent: fetcher.HostSpec{
			Name:       hc.Name,
			Address:    address,
			Datasource: fetcher.Datasource(hc.Datasource),
			Port:       hc.Port,
			Program:    hc.Program,
			SSH: fetcher.SSHSettings{
				User:       hc.SSH.User,
				Port:       hc.SSH.Port,
				Password:   hc.SSH.Password,
				KeyFile:    hc.SSH.KeyFile,
				KnownHosts: hc.SSH.KnownHosts,
				Command:    hc.SSH.Command,
				Timeout:    hc.SSH.Timeout,
			},
			Encryption: fetcher.Encryption{
				Mode:       fetcher.EncryptionMode(hc.Encryption.Mode),
				Passphrase: hc.Encryption.Passphrase,
			},
		},
	}

	if hc.SNMP != nil {
		h.SNMP = &snmp.Target{
			Host:      hc.Name,
			Address:   address,
			Community: hc.SNMP.Community,
			Version:   hc.SNMP.Version,
			Port:      hc.SNMP.Port,
			Timeout:   hc.SNMP.Timeout,
			Retries:   hc.SNMP.Retries,
		}
		// 纯 SNMP 主机没有 agent
		if hc.Datasource == "" {
			h.Agent.Datasource = fetcher.DatasourceNone
		}
	}

	for _, sc := range hc.Services {
		svc := Service{
			CheckType:   sc.CheckType,
			Item:        sc.Item,
			Description: sc.Description,
			Params:      plugins.Params(sc.Params),
			CheckPeriod: sc.CheckPeriod,
			Interval:    sc.Interval,
		}
		if svc.Description == "" {
			if p, ok := registry.Get(sc.CheckType); ok {
				svc.Description = p.ServiceDescription(sc.Item)
			} else if sc.Item != "" {
				svc.Description = sc.CheckType + " " + sc.Item
			} else {
				svc.Description = sc.CheckType
			}
		}
		h.Services = append(h.Services, svc)
	}
	return h, nil
}
