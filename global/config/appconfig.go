package config

import "time"

type AppConfig struct {
	NodeID   string         `yaml:"node_id"`  // 节点ID，参与 redis value / 事件 header
	NodeNum  int64          `yaml:"node_num"` // 雪花节点号 0~1023
	HTTP     HTTPConfig     `yaml:"http"`
	Grpc     GrpcConfig     `yaml:"grpc"`
	WS       WSConfig       `yaml:"ws"`
	Presence PresenceConfig `yaml:"presence"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	Nats     NatsConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Addr          string `yaml:"addr"`
	PublicBaseURL string `yaml:"public_base_url"` // 拼接头像地址；空则用请求 Host
}

type GrpcConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

type WSConfig struct {
	Path            string        `yaml:"path"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongWait        time.Duration `yaml:"pong_wait"`
	WriteWait       time.Duration `yaml:"write_wait"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	SendQueueSize   int           `yaml:"send_queue_size"`
	IdentifyTimeout time.Duration `yaml:"identify_timeout"` // 未 userOnline 的连接最长存活
	KickReplaced    *bool         `yaml:"kick_replaced"`    // 同一用户新连接顶掉旧连接时是否关闭旧连接
	AllowedOrigins  []string      `yaml:"allowed_origins"`  // 空表示不校验
}

type PresenceConfig struct {
	StatusWorkers int           `yaml:"status_workers"`
	StatusQueue   int           `yaml:"status_queue"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ReconcileCron string        `yaml:"reconcile_cron"` // 空表示只在启动时跑一次；开了 redis 时默认 mirror_ttl/3
	MirrorTTL     time.Duration `yaml:"mirror_ttl"`
	ShutdownWait  time.Duration `yaml:"shutdown_wait"`
}

type MongoConfig struct {
	Uri         string   `yaml:"uri"`
	Address     []string `yaml:"address"`
	Database    string   `yaml:"database"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	AuthSource  string   `yaml:"auth_source"`
	MaxPoolSize int      `yaml:"max_pool_size"`
	MaxRetry    int      `yaml:"max_retry"`
	Collection  string   `yaml:"collection"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type NatsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Servers       []string      `yaml:"servers"`
	Name          string        `yaml:"name"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Retries int      `yaml:"retries"`
	// 启动时确保 topic 存在
	EnsureTopic       bool  `yaml:"ensure_topic"`
	Partitions        int32 `yaml:"partitions"`
	ReplicationFactor int16 `yaml:"replication_factor"`
}

type AuthConfig struct {
	JwtSecret      string `yaml:"jwt_secret"`
	Alg            string `yaml:"alg"`
	WSRequireToken bool   `yaml:"ws_require_token"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// KickReplacedEnabled 默认 true
func (c WSConfig) KickReplacedEnabled() bool {
	return c.KickReplaced == nil || *c.KickReplaced
}
