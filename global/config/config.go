package config

import (
	"os"
	"time"

	"PSocial/tools"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// 环境变量（优先级高于配置文件）：
// PSOCIAL_NODE_ID       节点ID
// PSOCIAL_HTTP_ADDR     HTTP/WS 监听地址
// PSOCIAL_MONGO_URI     Mongo URI
// PSOCIAL_REDIS_ADDR    Redis 地址（设置即启用镜像）
// PSOCIAL_NATS_URL      NATS 地址（设置即启用事件发布）
// PSOCIAL_KAFKA_BROKERS Kafka brokers，逗号分隔（设置即启用）
// PSOCIAL_JWT_SECRET    JWT HMAC 密钥
// PSOCIAL_LOG_LEVEL     日志级别
// PSOCIAL_WS_REQUIRE_TOKEN  握手是否必须带 JWT
// PSOCIAL_IDENTIFY_TIMEOUT  未 userOnline 连接的存活时间，如 30s
// PSOCIAL_STATUS_WORKERS    状态写入 worker 数

const (
	defaultHTTPAddr = ":5000"
	defaultGrpcAddr = ":50052"
	defaultWSPath   = "/ws"
)

// Load 读取 YAML（path 为空则只用默认值），再叠加环境变量，最后补默认值
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	cfg.applyEnv()
	cfg.norm()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	c.NodeID = tools.GetEnv("PSOCIAL_NODE_ID", c.NodeID)
	c.HTTP.Addr = tools.GetEnv("PSOCIAL_HTTP_ADDR", c.HTTP.Addr)
	c.Mongo.Uri = tools.GetEnv("PSOCIAL_MONGO_URI", c.Mongo.Uri)
	c.Auth.JwtSecret = tools.GetEnv("PSOCIAL_JWT_SECRET", c.Auth.JwtSecret)
	c.Log.Level = tools.GetEnv("PSOCIAL_LOG_LEVEL", c.Log.Level)
	c.Auth.WSRequireToken = tools.GetEnvBool("PSOCIAL_WS_REQUIRE_TOKEN", c.Auth.WSRequireToken)
	c.WS.IdentifyTimeout = tools.GetEnvDuration("PSOCIAL_IDENTIFY_TIMEOUT", c.WS.IdentifyTimeout)
	c.Presence.StatusWorkers = tools.GetEnvInt("PSOCIAL_STATUS_WORKERS", c.Presence.StatusWorkers)

	if addr := tools.GetEnv("PSOCIAL_REDIS_ADDR", ""); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}
	if url := tools.GetEnv("PSOCIAL_NATS_URL", ""); url != "" {
		c.Nats.Servers = []string{url}
		c.Nats.Enabled = true
	}
	if brokers := tools.GetEnvList("PSOCIAL_KAFKA_BROKERS", nil); len(brokers) > 0 {
		c.Kafka.Brokers = brokers
		c.Kafka.Enabled = true
	}
}

func (c *AppConfig) norm() {
	if c.NodeID == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "psocial"
		}
		c.NodeID = host
	}
	if c.NodeNum <= 0 || c.NodeNum > 1023 {
		c.NodeNum = 1
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = defaultHTTPAddr
	}
	if c.Grpc.Addr == "" {
		c.Grpc.Addr = defaultGrpcAddr
	}

	ws := &c.WS
	if ws.Path == "" {
		ws.Path = defaultWSPath
	}
	if ws.PongWait <= 0 {
		ws.PongWait = 60 * time.Second
	}
	if ws.PingInterval <= 0 || ws.PingInterval >= ws.PongWait {
		ws.PingInterval = ws.PongWait * 9 / 10
	}
	if ws.WriteWait <= 0 {
		ws.WriteWait = 10 * time.Second
	}
	if ws.MaxMessageSize <= 0 {
		ws.MaxMessageSize = 1 << 20
	}
	if ws.SendQueueSize <= 0 {
		ws.SendQueueSize = 256
	}
	if ws.IdentifyTimeout <= 0 {
		ws.IdentifyTimeout = 60 * time.Second
	}

	p := &c.Presence
	if p.StatusWorkers <= 0 {
		p.StatusWorkers = 4
	}
	if p.StatusQueue <= 0 {
		p.StatusQueue = 1024
	}
	if p.WriteTimeout <= 0 {
		p.WriteTimeout = 3 * time.Second
	}
	if p.MirrorTTL <= 0 {
		p.MirrorTTL = 10 * time.Minute
	}
	// 镜像 key 只靠 reconciler 续期：开了 redis 就必须周期运行，且周期短于 TTL
	if c.Redis.Enabled && p.ReconcileCron == "" {
		every := (p.MirrorTTL / 3).Round(time.Second)
		if every < time.Second {
			every = time.Second
		}
		p.ReconcileCron = "@every " + every.String()
	}
	if p.ShutdownWait <= 0 {
		p.ShutdownWait = 5 * time.Second
	}

	if c.Mongo.Uri == "" && len(c.Mongo.Address) == 0 {
		c.Mongo.Uri = "mongodb://localhost:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "psocial"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "users"
	}
	if c.Mongo.MaxPoolSize <= 0 {
		c.Mongo.MaxPoolSize = 20
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Nats.Name == "" {
		c.Nats.Name = "psocial-" + c.NodeID
	}
	if c.Nats.SubjectPrefix == "" {
		c.Nats.SubjectPrefix = "psocial.presence"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "psocial.presence"
	}
	if c.Kafka.Retries <= 0 {
		c.Kafka.Retries = 3
	}
	if c.Kafka.Partitions <= 0 {
		c.Kafka.Partitions = 8
	}
	if c.Kafka.ReplicationFactor <= 0 {
		c.Kafka.ReplicationFactor = 1
	}
	if c.Auth.Alg == "" {
		c.Auth.Alg = "HS256"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "console"
	}
}

func (c *AppConfig) Validate() error {
	if c.Nats.Enabled && len(c.Nats.Servers) == 0 {
		return errors.New("nats enabled but no servers configured")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka enabled but no brokers configured")
	}
	if c.Auth.WSRequireToken && c.Auth.JwtSecret == "" {
		return errors.New("ws_require_token needs auth.jwt_secret")
	}
	return nil
}
