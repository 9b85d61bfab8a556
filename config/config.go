package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SysConfig holds system level options.
type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

// WebConfig holds web server options.
type WebConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Secret string `yaml:"secret" json:"secret"`
}

// DBConfig holds database connection options.
type DBConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Passwd   string `yaml:"passwd" json:"passwd"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

// AgentConfig holds defaults for the external WhatsApp agent.
type AgentConfig struct {
	// Script is the path of the agent program launched per account session.
	Script string `yaml:"script" json:"script"`
	// Endpoint is the default agent HTTP API endpoint for new accounts.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Timeout is the agent API request timeout in seconds.
	Timeout int `yaml:"timeout" json:"timeout"`
}

// LogConfig holds logging options.
type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

type AppConfig struct {
	System   SysConfig   `yaml:"system" json:"system"`
	Web      WebConfig   `yaml:"web" json:"web"`
	Database DBConfig    `yaml:"database" json:"database"`
	Agent    AgentConfig `yaml:"agent" json:"agent"`
	Logger   LogConfig   `yaml:"logger" json:"logger"`
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "walink",
		Location: "Asia/Jakarta",
		Workdir:  "/var/walink",
		Debug:    true,
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 1816,
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "walink",
		User:     "postgres",
		MaxConn:  100,
		IdleConn: 10,
	},
	Agent: AgentConfig{
		Script:   "/usr/local/lib/walink/whatsapp_server.js",
		Endpoint: "http://localhost:3000",
		Timeout:  10,
	},
	Logger: LogConfig{
		Mode:     "development",
		Filename: "/var/walink/walink.log",
	},
}

// Yaml renders the configuration for the -initcfg bootstrap flag.
func (c *AppConfig) Yaml() ([]byte, error) {
	return yaml.Marshal(c)
}

func setEnvValue(name string, val *string) {
	evalue := os.Getenv(name)
	if evalue != "" {
		*val = evalue
	}
}

func setEnvBoolValue(name string, val *bool) {
	evalue := os.Getenv(name)
	if evalue != "" {
		*val = evalue == "true" || evalue == "1" || evalue == "on"
	}
}

// LoadConfig reads the yaml configuration file and applies environment
// overrides. A missing file yields the defaults.
func LoadConfig(cfile string) *AppConfig {
	_ = godotenv.Load()

	cfg := DefaultAppConfig
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			cfg = new(AppConfig)
			if err := yaml.Unmarshal(data, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "config: parse %s: %v, using defaults\n", cfile, err)
				cfg = DefaultAppConfig
			}
		}
	}

	setEnvValue("WALINK_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvValue("WALINK_DB_HOST", &cfg.Database.Host)
	setEnvValue("WALINK_DB_NAME", &cfg.Database.Name)
	setEnvValue("WALINK_DB_USER", &cfg.Database.User)
	setEnvValue("WALINK_DB_PWD", &cfg.Database.Passwd)
	setEnvValue("WALINK_WEB_SECRET", &cfg.Web.Secret)
	setEnvValue("WALINK_AGENT_SCRIPT", &cfg.Agent.Script)
	setEnvValue("WALINK_AGENT_ENDPOINT", &cfg.Agent.Endpoint)
	setEnvBoolValue("WALINK_SYSTEM_DEBUG", &cfg.System.Debug)
	return cfg
}
