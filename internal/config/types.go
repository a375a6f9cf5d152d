package config

// Config is the on-disk configuration (JSON or YAML), decoded strictly.
type Config struct {
	// InstanceID identifies this process on the message bus. Messages carrying
	// our own id as fromAppInstanceId are ignored on the inbound side.
	InstanceID string `json:"instance_id"`

	Organization OrganizationConfig `json:"organization"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Bus          BusConfig          `json:"bus"`
	Timers       TimersConfig       `json:"timers"`
	DataRequest  DataRequestConfig  `json:"data_request"`
	Analytics    AnalyticsConfig    `json:"analytics"`

	// Schedules fire the schedule trigger with the given id.
	Schedules []ScheduleConfig `json:"schedules,omitempty"`

	// Microservices is the declarative registry, in fan-out order.
	Microservices []MicroserviceEntry `json:"microservices"`
}

// OrganizationConfig seeds the inputs of every invocation the host produces.
// Explicit invocation inputs (the invoke command) take precedence.
type OrganizationConfig struct {
	ID         int64    `json:"id"`
	DomainName string   `json:"domain_name,omitempty"`
	Name       string   `json:"name,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Timezone   string   `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Forward LoggingForward `json:"forward"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingForward mirrors log lines at or above MinLevel onto the bus.
type LoggingForward struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/botlab.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// BusConfig controls the MQTT message bus.
type BusConfig struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"` // e.g. tcp://127.0.0.1:1883
	ClientID    string `json:"client_id,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	QoS         int    `json:"qos,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	Burst       int    `json:"burst,omitempty"`
	// ConnectTimeout is a Go duration string.
	ConnectTimeout string `json:"connect_timeout,omitempty"`
}

type TimersConfig struct {
	// PollInterval bounds how late a durable timer may fire.
	PollInterval string `json:"poll_interval,omitempty"`
}

type DataRequestConfig struct {
	Timeout  string `json:"timeout,omitempty"`
	RetryMax int    `json:"retry_max,omitempty"`
}

// AnalyticsConfig selects the analytics sink: "log" (default), "influx" or "none".
type AnalyticsConfig struct {
	Driver string       `json:"driver,omitempty"`
	Influx InfluxConfig `json:"influx"`
}

type InfluxConfig struct {
	URL    string `json:"url,omitempty"`
	Token  string `json:"token,omitempty"`
	Org    string `json:"org,omitempty"`
	Bucket string `json:"bucket,omitempty"`
}

// ScheduleConfig maps a schedule id to a cron expression, HH:MM interval or duration.
type ScheduleConfig struct {
	ID   string `json:"id"`
	Spec string `json:"spec"`
}

// MicroserviceEntry declares one microservice: Module is the unique key in the
// organization, Type selects the compiled-in factory.
type MicroserviceEntry struct {
	Module string `json:"module"`
	Type   string `json:"type"`
}
