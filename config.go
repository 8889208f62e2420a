// YAML configuration loader.
//
// Shape modeled on original_source's Relay::init(): a top-level log
// level and ping interval, an optional status page, and a list of
// server descriptions each binding inputs[] to outputs[].

package main

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultRTMPPort = 1935

// ConnDescription mirrors spec.md §3/§6's input/output description.
type ConnDescription struct {
	Kind                     string   // "host" ⇒ bind+accept, "client" ⇒ dial
	Addresses                []string // "host:port" or "host" (default port 1935)
	ConnectionTimeout        float64  // seconds, 0 = no deadline
	ReconnectInterval        float64  // seconds
	ReconnectCount           uint32   // 0 = infinite
	ApplicationName          string   // empty = wildcard
	StreamName               string   // empty = wildcard
	OverrideApplicationName  string
	OverrideStreamName       string
	Video                    bool
	Audio                    bool
	Data                     bool
	IsOutput                 bool // true if declared under outputs[], false under inputs[]
}

type ServerDescription struct {
	Inputs  []ConnDescription
	Outputs []ConnDescription
}

type StatusPageConfig struct {
	Listen string
	Secret string
	TLS    *StatusPageTLSConfig
}

type StatusPageTLSConfig struct {
	Cert string
	Key  string
}

type Configuration struct {
	LogLevel     string
	PingInterval float64
	StatusPage   *StatusPageConfig
	Servers      []ServerDescription
}

// yamlConnDescription/yamlServerDescription/yamlConfiguration mirror
// the on-disk shape; raw yaml.v3 unmarshal targets, converted to the
// typed Configuration above so defaults (video/audio/data = true,
// port 1935) apply uniformly.
type yamlConnDescription struct {
	Type                     string      `yaml:"type"`
	Address                  interface{} `yaml:"address"`
	ConnectionTimeout        *float64    `yaml:"connectionTimeout"`
	ReconnectInterval        *float64    `yaml:"reconnectInterval"`
	ReconnectCount           *uint32     `yaml:"reconnectCount"`
	ApplicationName          string      `yaml:"applicationName"`
	StreamName               string      `yaml:"streamName"`
	OverrideApplicationName  string      `yaml:"overrideApplicationName"`
	OverrideStreamName       string      `yaml:"overrideStreamName"`
	Video                    *bool       `yaml:"video"`
	Audio                    *bool       `yaml:"audio"`
	Data                     *bool       `yaml:"data"`
}

type yamlServerDescription struct {
	Inputs  []yamlConnDescription `yaml:"inputs"`
	Outputs []yamlConnDescription `yaml:"outputs"`
}

type yamlStatusPageTLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type yamlStatusPage struct {
	Listen string             `yaml:"listen"`
	Secret string             `yaml:"secret"`
	TLS    *yamlStatusPageTLS `yaml:"tls"`
}

type yamlLog struct {
	Level string `yaml:"level"`
}

type yamlConfiguration struct {
	Log          yamlLog                  `yaml:"log"`
	PingInterval float64                  `yaml:"pingInterval"`
	StatusPage   *yamlStatusPage          `yaml:"statusPage"`
	Servers      []yamlServerDescription `yaml:"servers"`
}

// LoadConfiguration reads and validates the YAML routing file at path.
func LoadConfiguration(path string) (*Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newConfigError("cannot read config file", err)
	}

	var y yamlConfiguration
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return nil, newConfigError("invalid YAML", err)
	}

	cfg := &Configuration{
		LogLevel:     y.Log.Level,
		PingInterval: y.PingInterval,
	}

	if y.StatusPage != nil {
		sp := &StatusPageConfig{Listen: y.StatusPage.Listen, Secret: y.StatusPage.Secret}
		if sp.Secret == "" {
			sp.Secret = os.Getenv("STATUS_PAGE_SECRET")
		}
		if y.StatusPage.TLS != nil {
			sp.TLS = &StatusPageTLSConfig{Cert: y.StatusPage.TLS.Cert, Key: y.StatusPage.TLS.Key}
		}
		cfg.StatusPage = sp
	}

	for _, ys := range y.Servers {
		sd := ServerDescription{}
		for _, yc := range ys.Inputs {
			cd, err := convertConnDescription(yc, false)
			if err != nil {
				return nil, err
			}
			sd.Inputs = append(sd.Inputs, cd)
		}
		for _, yc := range ys.Outputs {
			cd, err := convertConnDescription(yc, true)
			if err != nil {
				return nil, err
			}
			sd.Outputs = append(sd.Outputs, cd)
		}
		cfg.Servers = append(cfg.Servers, sd)
	}

	return cfg, nil
}

func convertConnDescription(yc yamlConnDescription, isOutput bool) (ConnDescription, error) {
	if yc.Type != "host" && yc.Type != "client" {
		return ConnDescription{}, newConfigError("description type must be 'host' or 'client', got '"+yc.Type+"'", nil)
	}

	addresses, err := normalizeAddresses(yc.Address)
	if err != nil {
		return ConnDescription{}, err
	}

	cd := ConnDescription{
		Kind:                    yc.Type,
		Addresses:               addresses,
		ApplicationName:         yc.ApplicationName,
		StreamName:              yc.StreamName,
		OverrideApplicationName: yc.OverrideApplicationName,
		OverrideStreamName:      yc.OverrideStreamName,
		Video:                   true,
		Audio:                   true,
		Data:                    true,
		IsOutput:                isOutput,
	}
	if yc.Video != nil {
		cd.Video = *yc.Video
	}
	if yc.Audio != nil {
		cd.Audio = *yc.Audio
	}
	if yc.Data != nil {
		cd.Data = *yc.Data
	}
	if yc.ConnectionTimeout != nil {
		cd.ConnectionTimeout = *yc.ConnectionTimeout
	}
	if yc.ReconnectInterval != nil {
		cd.ReconnectInterval = *yc.ReconnectInterval
	}
	if yc.ReconnectCount != nil {
		cd.ReconnectCount = *yc.ReconnectCount
	}

	return cd, nil
}

// normalizeAddresses accepts a single "host:port"/"host" string or a
// YAML list of such, and appends the default RTMP port where absent.
func normalizeAddresses(raw interface{}) ([]string, error) {
	var items []string

	switch v := raw.(type) {
	case string:
		items = []string{v}
	case []interface{}:
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, newConfigError("address list entries must be strings", nil)
			}
			items = append(items, s)
		}
	case nil:
		return nil, newConfigError("description is missing an address", nil)
	default:
		return nil, newConfigError("address must be a string or a list of strings", nil)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if strings.Contains(item, ":") {
			out = append(out, item)
		} else {
			out = append(out, item+":1935")
		}
	}
	return out, nil
}
