package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env      string `mapstructure:"-"`
		Build    string `mapstructure:"build"`
		Debug    bool   `mapstructure:"debug"`
		TestMode bool   `mapstructure:"testmode"`
		WorkDir  string `mapstructure:"-"`

		AppName          string `mapstructure:"appname"`
		SecretKey        string `mapstructure:"secretkey"`
		FromEmail        string `mapstructure:"fromemail"`
		FrontendBaseURL  string `mapstructure:"frontendbaseurl"`
		SendgridAPIKey   string `mapstructure:"sendgridapikey"`
		RollbarToken     string `mapstructure:"rollbartoken"`
		AlertsConfigFile string `mapstructure:"alertsconfigfile"`

		Server     ServerConfig     `mapstructure:"server"`
		Database   DatabaseConfig   `mapstructure:"database"`
		Redis      RedisConfig      `mapstructure:"redis"`
		NATS       NATSConfig       `mapstructure:"nats"`
		Prediction PredictionConfig `mapstructure:"prediction"`
		Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
		Alerts     AlertsConfig     `mapstructure:"alerts"`
	}

	ServerConfig struct {
		Host               string        `mapstructure:"host"`
		Port               int           `mapstructure:"port"`
		DebugHost          string        `mapstructure:"debughost"`
		ReadTimeout        time.Duration `mapstructure:"readtimeout"`
		WriteTimeout       time.Duration `mapstructure:"writetimeout"`
		ShutdownTimeout    time.Duration `mapstructure:"shutdowntimeout"`
		JWTExpirationDelta time.Duration `mapstructure:"jwtexpirationdelta"`
	}

	DatabaseConfig struct {
		Engine        string `mapstructure:"engine"`
		Host          string `mapstructure:"host"`
		Port          int    `mapstructure:"port"`
		Name          string `mapstructure:"name"`
		User          string `mapstructure:"user"`
		Password      string `mapstructure:"password"`
		AdminUser     string `mapstructure:"adminuser"`
		AdminPassword string `mapstructure:"adminpassword"`
		DisableTLS    bool   `mapstructure:"disabletls"`
		MaxOpenConns  int    `mapstructure:"maxopenconns"`
	}

	// RedisConfig is optional: an empty Addr disables the distributed lock.
	RedisConfig struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		LockTTL  time.Duration `mapstructure:"lockttl"`
	}

	// NATSConfig is optional: an empty URL falls back to the in-process task queue.
	NATSConfig struct {
		URL     string `mapstructure:"url"`
		Stream  string `mapstructure:"stream"`
		Durable string `mapstructure:"durable"`
		Workers int    `mapstructure:"workers"`
	}

	PredictionConfig struct {
		BaseURL string        `mapstructure:"baseurl"`
		Path    string        `mapstructure:"path"`
		Timeout time.Duration `mapstructure:"timeout"`
	}

	SchedulerConfig struct {
		Enabled           bool          `mapstructure:"enabled"`
		Spec              string        `mapstructure:"spec"`
		RunOnStart        bool          `mapstructure:"runonstart"`
		Concurrency       int           `mapstructure:"concurrency"`
		EnrollmentTimeout time.Duration `mapstructure:"enrollmenttimeout"`
	}

	AlertsConfig struct {
		Strategy                    string        `mapstructure:"strategy"` // cooldown | replace
		Cooldown                    time.Duration `mapstructure:"cooldown"`
		ValueDelta                  float64       `mapstructure:"valuedelta"`
		LecturerThreshold           float64       `mapstructure:"lecturerthreshold"`
		ReplaceLecturerThreshold    float64       `mapstructure:"replacelecturerthreshold"`
		AttendanceLecturerThreshold float64       `mapstructure:"attendancelecturerthreshold"`
		MotivationalWindow          time.Duration `mapstructure:"motivationalwindow"`
		MotivationalChance          float64       `mapstructure:"motivationalchance"`
		StatisticsWindow            time.Duration `mapstructure:"statisticswindow"`
		TaskTimeout                 time.Duration `mapstructure:"tasktimeout"`
	}
)

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.FromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.FromEmail}
	}
	if addr.Name == "" {
		addr.Name = c.AppName
	}
	return *addr
}

func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) Validate() error {
	err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(c.AppName, "appName"),
		vala.StringNotEmpty(c.SecretKey, "secretKey"),
		vala.StringNotEmpty(c.Database.Engine, "database.engine"),
		vala.StringNotEmpty(c.Database.Name, "database.name"),
		vala.StringNotEmpty(c.Scheduler.Spec, "scheduler.spec"),
		vala.GreaterThan(c.Scheduler.Concurrency, 0, "scheduler.concurrency"),
	).Check()
	if err != nil {
		return NewValidationError(errors.Wrap(err, "invalid configuration"))
	}

	var flds []FieldError
	if s := c.Alerts.Strategy; s != "cooldown" && s != "replace" {
		flds = append(flds, FieldError{Field: "alerts.strategy", Error: "must be one of: cooldown, replace"})
	}
	if c.Alerts.Cooldown <= 0 {
		flds = append(flds, FieldError{Field: "alerts.cooldown", Error: "must be positive"})
	}
	if c.Scheduler.EnrollmentTimeout <= 0 {
		flds = append(flds, FieldError{Field: "scheduler.enrollmentTimeout", Error: "must be positive"})
	}
	if ch := c.Alerts.MotivationalChance; ch < 0 || ch > 1 {
		flds = append(flds, FieldError{Field: "alerts.motivationalChance", Error: "must be between 0 and 1"})
	}
	if len(flds) > 0 {
		return NewValidationError(errors.New("invalid configuration"), flds...)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Tahadhari")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("fromEmail", "noreply@localhost")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("sendgridAPIKey", "")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("alertsConfigFile", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.debugHost", "0.0.0.0:4000")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 5*time.Second)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "tahadhari")
	v.SetDefault("database.user", "tahadhari")
	v.SetDefault("database.password", "tahadhari")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.maxOpenConns", 20)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lockTTL", 30*time.Second)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.stream", "ALERT_TASKS")
	v.SetDefault("nats.durable", "alert-task-workers")
	v.SetDefault("nats.workers", 4)

	v.SetDefault("prediction.baseURL", "http://localhost:5000")
	v.SetDefault("prediction.path", "/predict")
	v.SetDefault("prediction.timeout", 10*time.Second)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.spec", "@every 1h")
	v.SetDefault("scheduler.runOnStart", true)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.enrollmentTimeout", 30*time.Second)

	v.SetDefault("alerts.strategy", "cooldown")
	v.SetDefault("alerts.cooldown", 24*time.Hour)
	v.SetDefault("alerts.valueDelta", 5.0)
	v.SetDefault("alerts.lecturerThreshold", 65.0)
	v.SetDefault("alerts.replaceLecturerThreshold", 50.0)
	v.SetDefault("alerts.attendanceLecturerThreshold", 75.0)
	v.SetDefault("alerts.motivationalWindow", 7*24*time.Hour)
	v.SetDefault("alerts.motivationalChance", 0.1)
	v.SetDefault("alerts.statisticsWindow", 30*24*time.Hour)
	v.SetDefault("alerts.taskTimeout", time.Minute)
}

// NewViper returns the viper instance backing NewConfig.
// ENV selects DEV (default), TEST, QA or PROD; env vars are prefixed with it (e.g. PROD_DATABASE_HOST).
func NewViper() (*viper.Viper, string) {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()
	return v, env
}

func NewConfig() *Config {
	v, env := NewViper()

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		log.Fatalf("config.Unmarshal: %v", err)
	}
	conf.Env = env
	conf.WorkDir = Getwd()
	if conf.AlertsConfigFile == "" {
		conf.AlertsConfigFile = filepath.Join(conf.WorkDir, "config", "alerts.yaml")
	}
	return &conf
}
