package config

import "time"

type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	Transport TransportConfig
	Relay     RelayConfig
	Store     StoreConfig
}

type ServerConfig struct {
	Address string
	// CORSOrigins is the browser origin allowlist for the control plane and
	// the websocket upgrade. "*" allows any origin.
	CORSOrigins      []string `mapstructure:"corsOrigins"`
	AcceptsPerSecond float64  `mapstructure:"acceptsPerSecond"`
	AcceptBurst      int      `mapstructure:"acceptBurst"`
}

type SessionConfig struct {
	CodeLength      int    `mapstructure:"codeLength"`
	Alphabet        string `mapstructure:"alphabet"`
	MaxContentBytes int    `mapstructure:"maxContentBytes"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type RelayConfig struct {
	// SettleDelay is how long the relay waits after a join before computing
	// live room size, so the join ack never races the membership event.
	// Zero or negative means evaluate synchronously.
	SettleDelay time.Duration `mapstructure:"settleDelay"`
	// TypingClear is the silence window after which a typing indicator is
	// auto-cleared on behalf of the client.
	TypingClear time.Duration `mapstructure:"typingClear"`
}

type StoreConfig struct {
	// RedisURL enables the durable registry when non-empty
	// (e.g. redis://localhost:6379/0). Empty selects the in-memory registry.
	RedisURL string `mapstructure:"redisURL"`
}
