package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var valid = validator.New()

// Config 全局配置结构体
type Config struct {
	Server      ServerConfig                 `yaml:"server" mapstructure:"server" comment:"HTTP服务配置（serve 模式）"`
	Check       CheckConfig                  `yaml:"check" mapstructure:"check" comment:"检查执行配置"`
	Paths       PathsConfig                  `yaml:"paths" mapstructure:"paths" comment:"缓存/状态目录"`
	Log         ZapLogConfig                 `yaml:"log" mapstructure:"log" comment:"日志配置"`
	ExitSpec    ExitSpecConfig               `yaml:"exit_spec" mapstructure:"exit_spec" comment:"主机状态映射"`
	Piggyback   PiggybackConfig              `yaml:"piggyback" mapstructure:"piggyback" comment:"piggyback 主机名翻译"`
	TimePeriods map[string][]TimeRangeConfig `yaml:"time_periods" mapstructure:"time_periods" comment:"时间段定义"`
	Hosts       []HostConfig                 `yaml:"hosts" mapstructure:"hosts" validate:"dive" comment:"被监控主机"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr" env:"HTTP_ADDR" validate:"required,hostname_port" comment:"HTTP监听地址（格式：ip:port）"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"required,gt=0" comment:"读取超时时间（如30s）"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"required,gt=0" comment:"写入超时时间（如30s）"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"required,gt=0" comment:"空闲连接超时时间（如60s）"`
}

// CheckConfig 检查周期配置
type CheckConfig struct {
	Interval              time.Duration `yaml:"interval" mapstructure:"interval" validate:"required,gt=0" comment:"serve 模式检查间隔" default:"1m"`
	Workers               int           `yaml:"workers" mapstructure:"workers" validate:"required,gt=0" comment:"并发检查主机数" default:"8"`
	Timeout               time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"required,gt=0" comment:"单个主机检查周期超时" default:"60s"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout" validate:"required,gt=0" comment:"TCP 连接超时" default:"5s"`
	MaxCacheAge           time.Duration `yaml:"check_max_cachefile_age" mapstructure:"check_max_cachefile_age" validate:"gte=0" comment:"普通检查使用缓存的最大年龄，0 表示不用缓存" default:"0s"`
	ClusterMaxCacheAge    time.Duration `yaml:"cluster_max_cachefile_age" mapstructure:"cluster_max_cachefile_age" validate:"gte=0" comment:"集群节点数据缓存最大年龄" default:"90s"`
	PiggybackMaxCacheAge  time.Duration `yaml:"piggyback_max_cachefile_age" mapstructure:"piggyback_max_cachefile_age" validate:"gt=0" comment:"piggyback 数据最大年龄" default:"1h"`
	SimulationMode        bool          `yaml:"simulation_mode" mapstructure:"simulation_mode" comment:"模拟模式：只使用缓存"`
	AgentVersion          string        `yaml:"agent_version" mapstructure:"agent_version" comment:"期望的 agent 版本，空表示不检查"`
	DefaultEncoding       string        `yaml:"default_encoding" mapstructure:"default_encoding" validate:"required" comment:"解码失败时的回退编码" default:"latin-1"`
	Submission            string        `yaml:"submission" mapstructure:"submission" validate:"required,oneof=file pipe none" comment:"结果提交方式" default:"file"`
	PerfdataWithTimes     bool          `yaml:"perfdata_with_times" mapstructure:"perfdata_with_times" comment:"主机检查输出详细耗时"`
	AllowPrivilegedWrites bool          `yaml:"allow_privileged_writes" mapstructure:"allow_privileged_writes" comment:"允许 root 身份写缓存和计数器"`
}

// PathsConfig 目录配置
type PathsConfig struct {
	CacheDir       string `yaml:"cache_dir" mapstructure:"cache_dir" validate:"required" default:"./var/cache"`
	PiggybackDir   string `yaml:"piggyback_dir" mapstructure:"piggyback_dir" validate:"required" default:"./var/piggyback"`
	CounterDir     string `yaml:"counter_dir" mapstructure:"counter_dir" validate:"required" default:"./var/counters"`
	PersistedDir   string `yaml:"persisted_dir" mapstructure:"persisted_dir" validate:"required" default:"./var/persisted"`
	CrashDir       string `yaml:"crash_dir" mapstructure:"crash_dir" validate:"required" default:"./var/crash"`
	CheckResultDir string `yaml:"check_result_dir" mapstructure:"check_result_dir" validate:"required" default:"./var/checkresults"`
	CommandPipe    string `yaml:"command_pipe" mapstructure:"command_pipe" default:"./var/nagios.cmd"`
	WalkDir        string `yaml:"walk_dir" mapstructure:"walk_dir" validate:"required" default:"./var/snmpwalks"`
}

// ExitSpecConfig 主机检查状态映射（0..3）
type ExitSpecConfig struct {
	Connection              int                     `yaml:"connection" mapstructure:"connection" validate:"gte=0,lte=3" default:"2"`
	Timeout                 int                     `yaml:"timeout" mapstructure:"timeout" validate:"gte=0,lte=3" default:"2"`
	Exception               int                     `yaml:"exception" mapstructure:"exception" validate:"gte=0,lte=3" default:"3"`
	WrongVersion            int                     `yaml:"wrong_version" mapstructure:"wrong_version" validate:"gte=0,lte=3" default:"1"`
	MissingSections         int                     `yaml:"missing_sections" mapstructure:"missing_sections" validate:"gte=0,lte=3" default:"1"`
	EmptyOutput             int                     `yaml:"empty_output" mapstructure:"empty_output" validate:"gte=0,lte=3" default:"2"`
	SpecificMissingSections []SpecificMissingConfig `yaml:"specific_missing_sections" mapstructure:"specific_missing_sections" validate:"dive"`
}

// SpecificMissingConfig 针对特定检查类型的缺失状态
type SpecificMissingConfig struct {
	Pattern string `yaml:"pattern" mapstructure:"pattern" validate:"required"`
	State   int    `yaml:"state" mapstructure:"state" validate:"gte=0,lte=3"`
}

// PiggybackConfig piggyback 主机名翻译
type PiggybackConfig struct {
	Case       string            `yaml:"case" mapstructure:"case" validate:"omitempty,oneof=lower upper"`
	DropDomain bool              `yaml:"drop_domain" mapstructure:"drop_domain"`
	Regex      []RegexRuleConfig `yaml:"regex" mapstructure:"regex" validate:"dive"`
	Mapping    map[string]string `yaml:"mapping" mapstructure:"mapping"`
}

// RegexRuleConfig 正则翻译规则
type RegexRuleConfig struct {
	Pattern     string `yaml:"pattern" mapstructure:"pattern" validate:"required"`
	Replacement string `yaml:"replacement" mapstructure:"replacement"`
}

// TimeRangeConfig 时间段中的一个区间，例如 days: [mon, tue] start: "08:00" end: "17:00"
type TimeRangeConfig struct {
	Days  []string `yaml:"days" mapstructure:"days" validate:"dive,oneof=mon tue wed thu fri sat sun"`
	Start string   `yaml:"start" mapstructure:"start" validate:"required"`
	End   string   `yaml:"end" mapstructure:"end" validate:"required"`
}

// HostConfig 被监控主机
type HostConfig struct {
	Name       string           `yaml:"name" mapstructure:"name" validate:"required"`
	Address    string           `yaml:"address" mapstructure:"address"`
	Datasource string           `yaml:"datasource" mapstructure:"datasource" validate:"omitempty,oneof=tcp program ssh local none" comment:"agent 数据源，默认 tcp"`
	Port       int              `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535" comment:"agent TCP 端口，默认 6556"`
	Program    string           `yaml:"program" mapstructure:"program" comment:"数据源程序命令行，支持 <IP> <HOST> 宏"`
	SSH        SSHConfig        `yaml:"ssh" mapstructure:"ssh"`
	Encryption EncryptionConfig `yaml:"encryption" mapstructure:"encryption"`
	SNMP       *SNMPConfig      `yaml:"snmp" mapstructure:"snmp"`
	Nodes      []string         `yaml:"nodes" mapstructure:"nodes" comment:"集群节点，非空表示集群主机"`
	Services   []ServiceConfig  `yaml:"services" mapstructure:"services" validate:"dive"`
	ExitSpec   *ExitSpecConfig  `yaml:"exit_spec" mapstructure:"exit_spec"`
}

// SSHConfig SSH 数据源
type SSHConfig struct {
	User       string        `yaml:"user" mapstructure:"user"`
	Port       int           `yaml:"port" mapstructure:"port"`
	Password   string        `yaml:"password" mapstructure:"password"`
	KeyFile    string        `yaml:"key_file" mapstructure:"key_file"`
	KnownHosts string        `yaml:"known_hosts" mapstructure:"known_hosts"`
	Command    string        `yaml:"command" mapstructure:"command"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// EncryptionConfig agent 输出加密
type EncryptionConfig struct {
	Mode       string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=disabled opportunistic enforced"`
	Passphrase string `yaml:"passphrase" mapstructure:"passphrase"`
}

// SNMPConfig SNMP 访问参数
type SNMPConfig struct {
	Community string        `yaml:"community" mapstructure:"community"`
	Version   string        `yaml:"version" mapstructure:"version" validate:"omitempty,oneof=1 2c"`
	Port      int           `yaml:"port" mapstructure:"port"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Retries   int           `yaml:"retries" mapstructure:"retries"`
}

// ServiceConfig 检查表中的一项
type ServiceConfig struct {
	CheckType   string         `yaml:"check_type" mapstructure:"check_type" validate:"required"`
	Item        string         `yaml:"item" mapstructure:"item"`
	Description string         `yaml:"description" mapstructure:"description"`
	Params      map[string]any `yaml:"params" mapstructure:"params"`
	CheckPeriod string         `yaml:"check_period" mapstructure:"check_period"`
	Interval    time.Duration  `yaml:"interval" mapstructure:"interval" comment:"SNMP 检查间隔，0 表示每个周期都检查"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level   string `yaml:"level" mapstructure:"level" env:"LOG_LEVEL" validate:"required,oneof=debug info warn error" comment:"日志级别" default:"info"`
	Format  string `yaml:"format" mapstructure:"format" env:"LOG_FORMAT" validate:"required,oneof=json console" comment:"日志格式（json/console）" default:"console"`
	Path    string `yaml:"path" mapstructure:"path" env:"LOG_PATH" validate:"required" comment:"日志存储路径" default:"./logs"`
	MaxSize int    `yaml:"max_size" mapstructure:"max_size" validate:"required,gt=0" comment:"单个日志文件最大大小（MB）" default:"100"`
	MaxAge  int    `yaml:"max_age" mapstructure:"max_age" validate:"required,gt=0" comment:"日志文件最大保存天数" default:"7"`
}

// DefaultExitSpec 默认状态映射
func DefaultExitSpec() ExitSpecConfig {
	return ExitSpecConfig{
		Connection:      2,
		Timeout:         2,
		Exception:       3,
		WrongVersion:    1,
		MissingSections: 1,
		EmptyOutput:     2,
	}
}

// NewDefaultConfig 创建默认配置
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "0.0.0.0:9116",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Check: CheckConfig{
			Interval:             time.Minute,
			Workers:              8,
			Timeout:              60 * time.Second,
			ConnectTimeout:       5 * time.Second,
			ClusterMaxCacheAge:   90 * time.Second,
			PiggybackMaxCacheAge: time.Hour,
			DefaultEncoding:      "latin-1",
			Submission:           "file",
		},
		Paths: PathsConfig{
			CacheDir:       "./var/cache",
			PiggybackDir:   "./var/piggyback",
			CounterDir:     "./var/counters",
			PersistedDir:   "./var/persisted",
			CrashDir:       "./var/crash",
			CheckResultDir: "./var/checkresults",
			CommandPipe:    "./var/nagios.cmd",
			WalkDir:        "./var/snmpwalks",
		},
		Log: ZapLogConfig{
			Level:   "info",
			Format:  "console",
			Path:    "./logs",
			MaxSize: 100,
			MaxAge:  7,
		},
		ExitSpec:    DefaultExitSpec(),
		TimePeriods: map[string][]TimeRangeConfig{},
	}
}

// LoadConfigWithCli (Flags + YAML + ENV)
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	cfg := NewDefaultConfig()
	v := viper.New()

	// 1. 绑定 Cobra Flags → Viper
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	// 2. 解析配置文件 (--config)
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	// 3. 绑定环境变量 CHECKER_LOG_LEVEL -> log.level
	v.SetEnvPrefix("CHECKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := Decode(v.AllSettings(), cfg); err != nil {
		return nil, err
	}

	// 4. 校验配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Decode 把 viper 的配置树解码到结构体（支持 time.Duration 与逗号分隔列表）
func Decode(settings map[string]any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate 配置校验
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Paths.Validate(); err != nil {
		return err
	}
	if err := c.validateTimePeriods(); err != nil {
		return err
	}
	return c.validateHosts()
}

// Host 按名称查找主机配置
func (c *Config) Host(name string) (*HostConfig, bool) {
	for i := range c.Hosts {
		if c.Hosts[i].Name == name {
			return &c.Hosts[i], true
		}
	}
	return nil, false
}
