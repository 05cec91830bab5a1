package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// ClientConfig is one entry of the named client table.
type ClientConfig struct {
	ClientURL   string `mapstructure:"client_url"`
	DisplayName string `mapstructure:"display_name"`
}

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr       string
		APIKey     string `mapstructure:"apikey"`
		APIKeyHash string `mapstructure:"apikey_hash"`
		// Client is the client name or URL the facade republishes.
		Client string
	}
	Database struct {
		Path string
	}
	Archive struct {
		Bucket    string
		KeyPrefix string `mapstructure:"keyprefix"`
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Embedded struct {
		DataDir string `mapstructure:"datadir"`
	}
	Clients map[string]ClientConfig
}

// Load reads configuration from environment variables and a config file.
// configFile may be empty, in which case tcbridge.{toml,yaml,json} is
// looked up in the working directory and $HOME/.config/tcbridge and may be
// absent.
func Load(configFile string) (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("TCBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.apikey", "")
	v.SetDefault("server.apikey_hash", "")
	v.SetDefault("server.client", "")
	v.SetDefault("database.path", "data/tcbridge.db")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.keyprefix", "tcbridge-torrents")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("embedded.datadir", "data/embedded")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("tcbridge")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/tcbridge")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for name, c := range cfg.Clients {
		if strings.TrimSpace(c.ClientURL) == "" {
			return Config{}, fmt.Errorf("client %q has no client_url", name)
		}
	}

	return cfg, nil
}

// ClientURL resolves a configured client name to its URL. Anything that
// already looks like a URL is returned unchanged.
func (c Config) ClientURL(nameOrURL string) (string, error) {
	if strings.Contains(nameOrURL, "://") {
		return nameOrURL, nil
	}
	// viper lowercases keys
	entry, ok := c.Clients[strings.ToLower(nameOrURL)]
	if !ok {
		return "", fmt.Errorf("unknown client %q", nameOrURL)
	}
	return entry.ClientURL, nil
}

// ClientNames lists the configured client names in order.
func (c Config) ClientNames() []string {
	names := make([]string, 0, len(c.Clients))
	for name := range c.Clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
