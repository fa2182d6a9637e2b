package config

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/presbrey/ircconn/irc"
)

// Duration is a time.Duration read from strings such as "30s" in every
// config format and in environment variables.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the client configuration
type Config struct {
	// Server to connect to
	Server struct {
		Host     string `yaml:"host" toml:"host" json:"host" env:"IRCCONN_HOST" validate:"required"`
		Port     int    `yaml:"port" toml:"port" json:"port" env:"IRCCONN_PORT" validate:"min=1,max=65535"`
		Secure   bool   `yaml:"secure" toml:"secure" json:"secure" env:"IRCCONN_SECURE"`
		Password string `yaml:"password" toml:"password" json:"password" env:"IRCCONN_PASSWORD"`
	} `yaml:"server" toml:"server" json:"server"`

	// Identity registered with the server
	Identity struct {
		Nick     string `yaml:"nick" toml:"nick" json:"nick" env:"IRCCONN_NICK" validate:"required"`
		User     string `yaml:"user" toml:"user" json:"user" env:"IRCCONN_USER" validate:"excludesall=@"`
		RealName string `yaml:"real_name" toml:"real_name" json:"real_name" env:"IRCCONN_REAL_NAME"`
	} `yaml:"identity" toml:"identity" json:"identity"`

	// Client behaviour
	Client struct {
		ContactPresenceTask  bool     `yaml:"contact_presence_task" toml:"contact_presence_task" json:"contact_presence_task" env:"IRCCONN_CONTACT_PRESENCE_TASK"`
		ChatRoomPresenceTask bool     `yaml:"chat_room_presence_task" toml:"chat_room_presence_task" json:"chat_room_presence_task" env:"IRCCONN_CHAT_ROOM_PRESENCE_TASK"`
		PresencePollInterval Duration `yaml:"presence_poll_interval" toml:"presence_poll_interval" json:"presence_poll_interval" env:"IRCCONN_PRESENCE_POLL_INTERVAL"`
		ConnectTimeout       Duration `yaml:"connect_timeout" toml:"connect_timeout" json:"connect_timeout" env:"IRCCONN_CONNECT_TIMEOUT"`
		MessageRate          float64  `yaml:"message_rate" toml:"message_rate" json:"message_rate" env:"IRCCONN_MESSAGE_RATE" validate:"gte=0"`
		MessageBurst         int      `yaml:"message_burst" toml:"message_burst" json:"message_burst" env:"IRCCONN_MESSAGE_BURST" validate:"gte=0"`
		ChannelListTTL       Duration `yaml:"channel_list_ttl" toml:"channel_list_ttl" json:"channel_list_ttl" env:"IRCCONN_CHANNEL_LIST_TTL"`
		Channels             []string `yaml:"channels" toml:"channels" json:"channels" env:"IRCCONN_CHANNELS"`
		Watch                []string `yaml:"watch" toml:"watch" json:"watch" env:"IRCCONN_WATCH"`
	} `yaml:"client" toml:"client" json:"client"`

	// Reconnect backoff after an interrupted connection
	Reconnect struct {
		Initial    Duration `yaml:"initial" toml:"initial" json:"initial" env:"IRCCONN_RECONNECT_INITIAL"`
		Max        Duration `yaml:"max" toml:"max" json:"max" env:"IRCCONN_RECONNECT_MAX"`
		MaxRetries int      `yaml:"max_retries" toml:"max_retries" json:"max_retries" env:"IRCCONN_RECONNECT_MAX_RETRIES" validate:"gte=0"`
	} `yaml:"reconnect" toml:"reconnect" json:"reconnect"`

	// Storage for the watch list
	Store struct {
		Driver  string `yaml:"driver" toml:"driver" json:"driver" env:"IRCCONN_STORE_DRIVER" validate:"omitempty,oneof=sqlite postgres mysql"`
		DSN     string `yaml:"dsn" toml:"dsn" json:"dsn" env:"IRCCONN_STORE_DSN" validate:"required_with=Driver"`
		Account string `yaml:"account" toml:"account" json:"account" env:"IRCCONN_STORE_ACCOUNT"`
	} `yaml:"store" toml:"store" json:"store"`

	// HTTP status API
	HTTP struct {
		Listen string `yaml:"listen" toml:"listen" json:"listen" env:"IRCCONN_HTTP_LISTEN"`
	} `yaml:"http" toml:"http" json:"http"`

	// Configuration source for reloading
	Source string `yaml:"-" toml:"-" json:"-"`
}

var validate = validator.New()

// defaults returns a Config holding the default values.
func defaults() *Config {
	cfg := &Config{}
	client := irc.DefaultClientConfig()

	cfg.Server.Port = 6667
	cfg.Client.ContactPresenceTask = client.ContactPresenceTask
	cfg.Client.ChatRoomPresenceTask = client.ChatRoomPresenceTask
	cfg.Client.PresencePollInterval = Duration{client.PresencePollInterval}
	cfg.Client.ConnectTimeout = Duration{client.ConnectTimeout}
	cfg.Client.MessageRate = client.MessageRate
	cfg.Client.MessageBurst = client.MessageBurst
	cfg.Client.ChannelListTTL = Duration{client.ChannelListTTL}
	cfg.Reconnect.Initial = Duration{5 * time.Second}
	cfg.Reconnect.Max = Duration{5 * time.Minute}
	cfg.HTTP.Listen = "127.0.0.1:8080"
	return cfg
}

// Load loads configuration from a file or URL. An empty source uses the
// defaults and the environment only. A .env file in the working directory is
// read first; variables already set in the environment win.
func Load(source string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := defaults()
	if source != "" {
		if err := cfg.loadFromSource(source); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	cfg.fill()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reload reloads the configuration from the original source or a new source
func (c *Config) Reload(newSource string) error {
	if newSource != "" {
		c.Source = newSource
	}
	newCfg, err := Load(c.Source)
	if err != nil {
		return err
	}
	*c = *newCfg
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := irc.ValidateNick(c.Identity.Nick, nil); err != nil {
		return fmt.Errorf("invalid config: identity nick %q: %w", c.Identity.Nick, err)
	}
	return nil
}

// fill derives identity fields left empty from the nickname.
func (c *Config) fill() {
	if c.Identity.User == "" {
		c.Identity.User = c.Identity.Nick
	}
	if c.Identity.RealName == "" {
		c.Identity.RealName = c.Identity.Nick
	}
	if c.Store.Account == "" {
		c.Store.Account = c.Identity.Nick + "@" + c.Server.Host
	}
}

// loadFromSource loads configuration from a file or URL
func (c *Config) loadFromSource(source string) error {
	var data []byte
	var err error

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return fmt.Errorf("failed to load config from URL: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to load config from URL, status: %s", resp.Status)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read config from URL: %w", err)
		}
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Determine the format based on file extension
	switch {
	case strings.HasSuffix(source, ".yaml") || strings.HasSuffix(source, ".yml"):
		err = yaml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".toml"):
		err = toml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".json"):
		err = json.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	c.Source = source
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem())
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

func applyEnvOverridesRecursive(v reflect.Value) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		if field.PkgPath != "" {
			continue
		}

		if envTag := field.Tag.Get("env"); envTag != "" {
			if envValue, exists := os.LookupEnv(envTag); exists {
				setFieldFromEnv(fieldValue, envValue)
			}
		} else if field.Type.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(fieldValue)
		}
	}
}

// setFieldFromEnv sets a field's value from an environment variable.
// Unparsable values leave the field unchanged.
func setFieldFromEnv(field reflect.Value, envValue string) {
	if field.CanAddr() && field.Addr().Type().Implements(textUnmarshalerType) {
		_ = field.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(envValue))
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			field.SetInt(v)
		}
	case reflect.Float32, reflect.Float64:
		if v, err := strconv.ParseFloat(envValue, 64); err == nil {
			field.SetFloat(v)
		}
	case reflect.Bool:
		field.SetBool(parseBool(envValue))
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(envValue, ",")
			slice := reflect.MakeSlice(field.Type(), 0, len(values))
			for _, v := range values {
				if v = strings.TrimSpace(v); v != "" {
					slice = reflect.Append(slice, reflect.ValueOf(v))
				}
			}
			field.Set(slice)
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "y"
}

// ClientConfig returns the client behaviour handed to irc.New.
func (c *Config) ClientConfig() irc.ClientConfig {
	return irc.ClientConfig{
		ContactPresenceTask:  c.Client.ContactPresenceTask,
		ChatRoomPresenceTask: c.Client.ChatRoomPresenceTask,
		PresencePollInterval: c.Client.PresencePollInterval.Duration,
		ConnectTimeout:       c.Client.ConnectTimeout.Duration,
		MessageRate:          c.Client.MessageRate,
		MessageBurst:         c.Client.MessageBurst,
		ChannelListTTL:       c.Client.ChannelListTTL.Duration,
	}
}

// ServerParameters returns the server and identity handed to Connection.Connect.
func (c *Config) ServerParameters() irc.ServerParameters {
	return irc.ServerParameters{
		Host:     c.Server.Host,
		Port:     c.Server.Port,
		Secure:   c.Server.Secure,
		Password: c.Server.Password,
		Nick:     c.Identity.Nick,
		User:     c.Identity.User,
		RealName: c.Identity.RealName,
	}
}

// Address returns the server's host:port.
func (c *Config) Address() string {
	return c.ServerParameters().Address()
}
