package plugins

import (
	"fmt"
	"strconv"

	"github.com/agent-checker/internal/snmp"
)

const oidSystem = ".1.3.6.1.2.1.1"

func snmpUptimePlugin() *Plugin {
	spec := snmp.Single(oidSystem, "3.0")
	return &Plugin{
		Name:    "snmp_uptime",
		Service: "Uptime",
		SNMP:    &spec,
		Check: func(ctx *Context, _ string, params Params, section any) (Output, error) {
			rows, err := rowsOf(section)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 || len(rows[0]) == 0 || rows[0][0] == "" {
				return nil, nil
			}
			// sysUpTime 单位为 1/100 秒
			ticks, err := strconv.ParseFloat(rows[0][0], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid sysUpTime %q: %w", rows[0][0], err)
			}
			return uptimeResult(ctx.Now, ticks/100, params), nil
		},
	}
}

func snmpInfoPlugin() *Plugin {
	spec := snmp.Single(oidSystem, "1.0", "4.0", "5.0", "6.0")
	return &Plugin{
		Name:    "snmp_info",
		Service: "SNMP Info",
		SNMP:    &spec,
		Check: func(_ *Context, _ string, _ Params, section any) (Output, error) {
			rows, err := rowsOf(section)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 || len(rows[0]) < 4 {
				return nil, nil
			}
			r := rows[0]
			return Result{State: OK, Text: fmt.Sprintf("%s, %s, %s, %s", r[0], r[1], r[2], r[3])}, nil
		},
	}
}
