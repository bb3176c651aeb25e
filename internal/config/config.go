package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	pkgconfig "github.com/weiawesome/wes-io-live/studio-service/pkg/config"
	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/storage"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       pkglog.Config   `mapstructure:"log"`
	Studio    StudioConfig    `mapstructure:"studio"`
	Devices   DevicesConfig   `mapstructure:"devices"`
	Recording RecordingConfig `mapstructure:"recording"`
	Export    storage.Config  `mapstructure:"export"`
	Session   SessionConfig   `mapstructure:"session"`
	PubSub    pubsub.Config   `mapstructure:"pubsub"`
	Publish   PublishConfig   `mapstructure:"publish"`
	WebRTC    WebRTCConfig    `mapstructure:"webrtc"`
	Auth      AuthConfig      `mapstructure:"auth"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StudioConfig struct {
	RoomID        string        `mapstructure:"room_id"`
	Mode          string        `mapstructure:"mode"`
	Quality       string        `mapstructure:"quality"`
	VideoDeviceID string        `mapstructure:"video_device_id"`
	AudioDeviceID string        `mapstructure:"audio_device_id"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	HistoryLimit  int           `mapstructure:"history_limit"` // negative keeps every record
}

type DevicesConfig struct {
	Watch      bool          `mapstructure:"watch"`
	WatchPaths []string      `mapstructure:"watch_paths"`
	Debounce   time.Duration `mapstructure:"debounce"`
}

type RecordingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	ExportTimeout time.Duration `mapstructure:"export_timeout"`
}

type SessionConfig struct {
	Type  string             `mapstructure:"type"` // "memory" or "redis"
	Redis SessionRedisConfig `mapstructure:"redis"`
}

type SessionRedisConfig struct {
	Address   string `mapstructure:"address"` // empty = use pubsub.redis
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TTL       int    `mapstructure:"ttl"` // seconds
}

type PublishConfig struct {
	EventBus bool `mapstructure:"event_bus"`
}

type WebRTCConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	UserID     string            `mapstructure:"user_id"`
	ICEServers []ICEServerConfig `mapstructure:"ice_servers"`
	TurnKeyID  string            `mapstructure:"turn_key_id"`
	TurnKey    string            `mapstructure:"turn_key"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret"` // empty disables auth
	Issuer string `mapstructure:"issuer"`
}

// Load reads ./config/config.yaml (or configFile when set) plus environment overrides.
func Load(configFile string) (*Config, error) {
	v, err := pkgconfig.Load("./config", "config", pkgconfig.WithConfigFile(configFile))
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "studio-service")
	v.SetDefault("studio.room_id", "studio")
	v.SetDefault("studio.mode", "camera")
	v.SetDefault("studio.quality", "medium")
	v.SetDefault("studio.tick_interval", time.Second)
	v.SetDefault("studio.history_limit", 100)
	v.SetDefault("devices.watch", true)
	v.SetDefault("devices.watch_paths", []string{"/dev", "/dev/snd"})
	v.SetDefault("devices.debounce", 500*time.Millisecond)
	v.SetDefault("recording.enabled", true)
	v.SetDefault("recording.flush_interval", time.Second)
	v.SetDefault("recording.key_prefix", "recordings")
	v.SetDefault("recording.export_timeout", 30*time.Second)
	v.SetDefault("publish.event_bus", true)
	v.SetDefault("pubsub.driver", "memory")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.redis.read_timeout", 3*time.Second)
	v.SetDefault("pubsub.redis.write_timeout", 3*time.Second)
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "studio-service")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("webrtc.enabled", false)
	v.SetDefault("webrtc.user_id", "studio")
	v.SetDefault("webrtc.ice_servers", []map[string]interface{}{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})

	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.pong_wait", 60*time.Second)
	v.SetDefault("websocket.write_wait", 10*time.Second)
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 64)

	// Export defaults
	v.SetDefault("export.type", "local")
	v.SetDefault("export.local.base_path", "./recordings")
	v.SetDefault("export.s3.region", "us-east-1")
	v.SetDefault("export.s3.use_path_style", true) // Default to MinIO-compatible

	// Session store defaults
	v.SetDefault("session.type", "memory")
	v.SetDefault("session.redis.address", "") // empty = use pubsub.redis
	v.SetDefault("session.redis.db", 1)
	v.SetDefault("session.redis.key_prefix", "studio:session:")
	v.SetDefault("session.redis.ttl", 86400) // 24 hours

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.pretty", "LOG_PRETTY")
	v.BindEnv("studio.room_id", "STUDIO_ROOM_ID")
	v.BindEnv("studio.mode", "STUDIO_MODE")
	v.BindEnv("studio.quality", "STUDIO_QUALITY")
	v.BindEnv("recording.enabled", "RECORDING_ENABLED")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("pubsub.kafka.group_id", "KAFKA_PUBSUB_GROUP_ID")
	v.BindEnv("session.type", "SESSION_STORE")
	v.BindEnv("webrtc.enabled", "WEBRTC_PUBLISH_ENABLED")
	v.BindEnv("webrtc.turn_key_id", "CF_TURN_ID")
	v.BindEnv("webrtc.turn_key", "CF_TURN_KEY")
	v.BindEnv("auth.secret", "JWT_SECRET")
	v.BindEnv("auth.issuer", "JWT_ISSUER")

	// S3/MinIO environment bindings
	v.BindEnv("export.type", "EXPORT_STORAGE")
	v.BindEnv("export.local.base_path", "EXPORT_DIR")
	v.BindEnv("export.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("export.s3.region", "S3_REGION")
	v.BindEnv("export.s3.bucket", "S3_BUCKET")
	v.BindEnv("export.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("export.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("export.s3.public_url", "S3_PUBLIC_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.WebRTC.TurnKeyID == "" {
		cfg.WebRTC.TurnKeyID = os.Getenv("CF_TURN_ID")
	}
	if cfg.WebRTC.TurnKey == "" {
		cfg.WebRTC.TurnKey = os.Getenv("CF_TURN_KEY")
	}
	if cfg.Session.Redis.Address == "" {
		cfg.Session.Redis.Address = cfg.PubSub.Redis.Address
		if cfg.Session.Redis.Password == "" {
			cfg.Session.Redis.Password = cfg.PubSub.Redis.Password
		}
	}

	return &cfg, nil
}

// GetICEServers returns the ICE servers configuration for WebRTC.
func (c *WebRTCConfig) GetICEServers(ctx context.Context) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers)+1)

	for _, s := range c.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	// Add Cloudflare TURN if configured
	if c.TurnKeyID != "" && c.TurnKey != "" {
		turn, err := getCloudflareTURN(ctx, c.TurnKeyID, c.TurnKey)
		if err != nil {
			l := pkglog.Component("config")
			l.Warn().Err(err).Msg("failed to fetch TURN credentials")
		} else {
			servers = append(servers, *turn)
		}
	}

	return servers
}

type cloudflareTURNResponse struct {
	ICEServers struct {
		URLs       []string `json:"urls"`
		Username   string   `json:"username"`
		Credential string   `json:"credential"`
	} `json:"iceServers"`
}

var turnEndpoint = "https://rtc.live.cloudflare.com/v1/turn/keys/%s/credentials/generate"

func getCloudflareTURN(ctx context.Context, keyID, key string) (*webrtc.ICEServer, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	reqBody := []byte(`{"ttl": 86400}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(turnEndpoint, keyID), bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TURN API returned status: %d", resp.StatusCode)
	}

	var turnResp cloudflareTURNResponse
	if err := json.NewDecoder(resp.Body).Decode(&turnResp); err != nil {
		return nil, err
	}

	return &webrtc.ICEServer{
		URLs:       turnResp.ICEServers.URLs,
		Username:   turnResp.ICEServers.Username,
		Credential: turnResp.ICEServers.Credential,
	}, nil
}
