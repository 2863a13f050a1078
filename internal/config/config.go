package config

import (
	"bytes"
	"fmt"
	"net"
	neturl "net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 2333
	defaultEnv        = "development"
	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultDBUser     = "root"
	defaultDBPassword = "password"
	defaultDBName     = "mailblog"
	defaultDBCharset  = "utf8mb4"
	defaultDBLoc      = "Local"
	defaultRedisHost  = "localhost"
	defaultRedisPort  = 6379
	defaultRedisDB    = 0
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int                   `yaml:"port"`
	DSN            string                `yaml:"dsn"`
	RedisURL       string                `yaml:"redis_url"`
	Database       DatabaseRuntimeConfig `yaml:"database"`
	Redis          RedisRuntimeConfig    `yaml:"redis"`
	Env            string                `yaml:"env"` // "development" | "production"
	BaseURL        string                `yaml:"base_url"`
	AllowedOrigins []string              `yaml:"allowed_origins"`
	JWTSecret      string                `yaml:"jwt_secret"`
	AdminPassword  string                `yaml:"admin_password"`
	Mail           MailConfig            `yaml:"mail"`
}

type DatabaseRuntimeConfig struct {
	DSN       string            `yaml:"dsn"`
	URL       string            `yaml:"url"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Username  string            `yaml:"username"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	DBName    string            `yaml:"db_name"`
	Charset   string            `yaml:"charset"`
	ParseTime bool              `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

type RedisRuntimeConfig struct {
	URL      string            `yaml:"url"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	DB       int               `yaml:"db"`
	TLS      bool              `yaml:"tls"`
	Scheme   string            `yaml:"scheme"`
	Params   map[string]string `yaml:"params"`
}

// MailConfig configures the outbound mail provider.
type MailConfig struct {
	Enable  bool           `yaml:"enable"`
	From    string         `yaml:"from"`
	ReplyTo string         `yaml:"reply_to"`
	SMTP    SMTPConfig     `yaml:"smtp"`
	Resend  ResendConfig   `yaml:"resend"`
	Subject SubjectConfig  `yaml:"subjects"`
	Site    SiteMailConfig `yaml:"site"`
}

type SMTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

type ResendConfig struct {
	APIKey string `yaml:"api_key"`
}

// SubjectConfig allows overriding default mail subjects.
type SubjectConfig struct {
	Verify     string `yaml:"verify"`
	Welcome    string `yaml:"welcome"`
	Goodbye    string `yaml:"goodbye"`
	Newsletter string `yaml:"newsletter"`
}

// SiteMailConfig is branding used inside mail templates.
type SiteMailConfig struct {
	Name  string `yaml:"name"`
	Owner string `yaml:"owner"`
}

type rawAppConfig struct {
	Port               int               `yaml:"port"`
	DSN                string            `yaml:"dsn"`
	DatabaseURL        string            `yaml:"database_url"`
	RedisURL           string            `yaml:"redis_url"`
	Database           rawDatabaseConfig `yaml:"database"`
	Redis              rawRedisConfig    `yaml:"redis"`
	DBHost             string            `yaml:"db_host"`
	DBPort             int               `yaml:"db_port"`
	DBUser             string            `yaml:"db_user"`
	DBPassword         string            `yaml:"db_password"`
	DBName             string            `yaml:"db_name"`
	DBCharset          string            `yaml:"db_charset"`
	DBLoc              string            `yaml:"db_loc"`
	DBParseTime        *bool             `yaml:"db_parse_time"`
	RedisHost          string            `yaml:"redis_host"`
	RedisPort          int               `yaml:"redis_port"`
	RedisUsername      string            `yaml:"redis_username"`
	RedisPassword      string            `yaml:"redis_password"`
	RedisDB            *int              `yaml:"redis_db"`
	RedisTLS           *bool             `yaml:"redis_tls"`
	Env                string            `yaml:"env"`
	BaseURL            string            `yaml:"base_url"`
	Domain             string            `yaml:"domain"` // legacy alias for base_url
	AllowedOrigins     []string          `yaml:"allowed_origins"`
	CORSAllowedOrigins []string          `yaml:"cors_allowed_origins"`
	JWTSecret          string            `yaml:"jwt_secret"`
	JWTSecretLegacy    string            `yaml:"jwtsecret"`
	AdminPassword      string            `yaml:"admin_password"`
	Mail               MailConfig        `yaml:"mail"`
}

type rawDatabaseConfig struct {
	DSN       string            `yaml:"dsn"`
	URL       string            `yaml:"url"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Username  string            `yaml:"username"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	DBName    string            `yaml:"db_name"`
	Charset   string            `yaml:"charset"`
	ParseTime *bool             `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

type rawRedisConfig struct {
	URL      string            `yaml:"url"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	DB       *int              `yaml:"db"`
	TLS      *bool             `yaml:"tls"`
	Scheme   string            `yaml:"scheme"`
	Params   map[string]string `yaml:"params"`
}

func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	cfg := defaultAppConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	raw := rawAppConfig{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	applyRawAppConfig(&cfg, raw)
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d in %q, expected 1-65535", cfg.Port, path)
	}
	if cfg.Database.Port < 1 || cfg.Database.Port > 65535 {
		return nil, fmt.Errorf("invalid database.port %d in %q, expected 1-65535", cfg.Database.Port, path)
	}
	if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
		return nil, fmt.Errorf("invalid redis.port %d in %q, expected 1-65535", cfg.Redis.Port, path)
	}
	if cfg.Redis.DB < 0 {
		return nil, fmt.Errorf("invalid redis.db %d in %q, expected >= 0", cfg.Redis.DB, path)
	}

	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseRuntimeConfig{
			Host:      defaultDBHost,
			Port:      defaultDBPort,
			User:      defaultDBUser,
			Password:  defaultDBPassword,
			Name:      defaultDBName,
			Charset:   defaultDBCharset,
			ParseTime: true,
			Loc:       defaultDBLoc,
		},
		Redis: RedisRuntimeConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
			DB:   defaultRedisDB,
		},
	}
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) {
	if raw.Port > 0 {
		cfg.Port = raw.Port
	}
	if env := normalizeEnv(raw.Env); env != "" {
		cfg.Env = env
	}
	if v := strings.TrimSpace(raw.BaseURL); v != "" {
		cfg.BaseURL = v
	} else if v := strings.TrimSpace(raw.Domain); v != "" {
		cfg.BaseURL = v
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	origins := raw.AllowedOrigins
	if len(origins) == 0 {
		origins = raw.CORSAllowedOrigins
	}
	cfg.AllowedOrigins = normalizeOrigins(origins)

	if v := strings.TrimSpace(raw.JWTSecret); v != "" {
		cfg.JWTSecret = v
	} else if v := strings.TrimSpace(raw.JWTSecretLegacy); v != "" {
		cfg.JWTSecret = v
	}
	cfg.AdminPassword = strings.TrimSpace(raw.AdminPassword)

	cfg.Database = applyRawDatabaseConfig(cfg.Database, raw)
	cfg.Redis = applyRawRedisConfig(cfg.Redis, raw)
	cfg.Mail = raw.Mail

	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
	if v := strings.TrimSpace(raw.DSN); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(raw.RedisURL); v != "" {
		cfg.RedisURL = v
	}
}

func applyRawDatabaseConfig(current DatabaseRuntimeConfig, raw rawAppConfig) DatabaseRuntimeConfig {
	out := current
	nested := raw.Database

	if v := strings.TrimSpace(nested.DSN); v != "" {
		out.DSN = v
	} else if v := strings.TrimSpace(raw.DatabaseURL); v != "" {
		out.DSN = v
	}
	if v := strings.TrimSpace(nested.URL); v != "" {
		out.URL = v
	}
	if v := firstNonEmpty(nested.Host, raw.DBHost); v != "" {
		out.Host = v
	}
	if nested.Port > 0 {
		out.Port = nested.Port
	} else if raw.DBPort > 0 {
		out.Port = raw.DBPort
	}
	if v := firstNonEmpty(nested.User, nested.Username, raw.DBUser); v != "" {
		out.User = v
	}
	if v := firstNonEmpty(nested.Password, raw.DBPassword); v != "" {
		out.Password = v
	}
	if v := firstNonEmpty(nested.Name, nested.DBName, raw.DBName); v != "" {
		out.Name = v
	}
	if v := firstNonEmpty(nested.Charset, raw.DBCharset); v != "" {
		out.Charset = v
	}
	if v := firstNonEmpty(nested.Loc, raw.DBLoc); v != "" {
		out.Loc = v
	}
	if nested.ParseTime != nil {
		out.ParseTime = *nested.ParseTime
	} else if raw.DBParseTime != nil {
		out.ParseTime = *raw.DBParseTime
	}
	if len(nested.Params) > 0 {
		out.Params = copyStringMap(nested.Params)
	}
	return out
}

func applyRawRedisConfig(current RedisRuntimeConfig, raw rawAppConfig) RedisRuntimeConfig {
	out := current
	nested := raw.Redis

	if v := strings.TrimSpace(nested.URL); v != "" {
		out.URL = v
	}
	if v := firstNonEmpty(nested.Host, raw.RedisHost); v != "" {
		out.Host = v
	}
	if nested.Port > 0 {
		out.Port = nested.Port
	} else if raw.RedisPort > 0 {
		out.Port = raw.RedisPort
	}
	if v := firstNonEmpty(nested.Username, raw.RedisUsername); v != "" {
		out.Username = v
	}
	if v := firstNonEmpty(nested.Password, raw.RedisPassword); v != "" {
		out.Password = v
	}
	if nested.DB != nil {
		out.DB = *nested.DB
	} else if raw.RedisDB != nil {
		out.DB = *raw.RedisDB
	}
	if nested.TLS != nil {
		out.TLS = *nested.TLS
	} else if raw.RedisTLS != nil {
		out.TLS = *raw.RedisTLS
	}
	if v := strings.TrimSpace(nested.Scheme); v != "" {
		out.Scheme = v
	}
	if len(nested.Params) > 0 {
		out.Params = copyStringMap(nested.Params)
	}
	return out
}

func (c DatabaseRuntimeConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.URL); v != "" {
		return v
	}

	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultDBHost
	}
	port := c.Port
	if port == 0 {
		port = defaultDBPort
	}
	user := strings.TrimSpace(c.User)
	if user == "" {
		user = strings.TrimSpace(c.Username)
	}
	if user == "" {
		user = defaultDBUser
	}
	password := strings.TrimSpace(c.Password)
	if password == "" {
		password = defaultDBPassword
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = strings.TrimSpace(c.DBName)
	}
	if name == "" {
		name = defaultDBName
	}
	charset := strings.TrimSpace(c.Charset)
	if charset == "" {
		charset = defaultDBCharset
	}
	loc := strings.TrimSpace(c.Loc)
	if loc == "" {
		loc = defaultDBLoc
	}

	params := neturl.Values{}
	for key, value := range c.Params {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			params.Set(k, v)
		}
	}
	if params.Get("charset") == "" {
		params.Set("charset", charset)
	}
	if params.Get("parseTime") == "" {
		params.Set("parseTime", strconv.FormatBool(c.ParseTime))
	}
	if params.Get("loc") == "" {
		params.Set("loc", loc)
	}

	auth := ""
	if user != "" || password != "" {
		auth = user
		if password != "" {
			auth += ":" + password
		}
		auth += "@"
	}

	dsn := fmt.Sprintf("%stcp(%s)/%s", auth, net.JoinHostPort(host, strconv.Itoa(port)), name)
	query := params.Encode()
	if query != "" {
		dsn += "?" + query
	}
	return dsn
}

func (c RedisRuntimeConfig) URLValue() string {
	if u := strings.TrimSpace(c.URL); u != "" {
		if strings.Contains(u, "://") {
			return u
		}
		return "redis://" + u
	}

	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultRedisHost
	}
	port := c.Port
	if port == 0 {
		port = defaultRedisPort
	}
	db := c.DB
	if db < 0 {
		db = defaultRedisDB
	}

	scheme := strings.ToLower(strings.TrimSpace(c.Scheme))
	if scheme == "" {
		if c.TLS {
			scheme = "rediss"
		} else {
			scheme = "redis"
		}
	}
	if scheme != "redis" && scheme != "rediss" {
		scheme = "redis"
	}

	u := &neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strconv.Itoa(db),
	}
	username := strings.TrimSpace(c.Username)
	password := strings.TrimSpace(c.Password)
	if username != "" {
		if password != "" {
			u.User = neturl.UserPassword(username, password)
		} else {
			u.User = neturl.User(username)
		}
	} else if password != "" {
		u.User = neturl.UserPassword("", password)
	}

	if len(c.Params) > 0 {
		query := neturl.Values{}
		for key, value := range c.Params {
			k := strings.TrimSpace(key)
			v := strings.TrimSpace(value)
			if k != "" && v != "" {
				query.Set(k, v)
			}
		}
		if len(query) > 0 {
			u.RawQuery = query.Encode()
		}
	}

	return u.String()
}

func copyStringMap(input map[string]string) map[string]string {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func normalizeEnv(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev":
		return "development"
	case "production", "prod":
		return "production"
	default:
		return ""
	}
}

func (c *AppConfig) IsDev() bool {
	return c.Env != "production"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
