// Package config loads the wspush server configuration.
//
// The configuration lives in wspush.json. Every field is optional; missing
// fields take the defaults of Default(). Durations are Go duration strings.
//
//	{
//	  "server":    { "addr": ":8080", "shutdownTimeout": "15s" },
//	  "transport": {
//	    "readTimeout": "60s",
//	    "writeTimeout": "10s",
//	    "pingInterval": "25s",
//	    "maxMessageSize": 65536,
//	    "sessionCookie": "wspush_session",
//	    "allowedOrigins": ["https://app.example.com"]
//	  },
//	  "push":    { "resolveTimeout": "5s", "workers": 16 },
//	  "session": { "idleTimeout": "30m", "cleanupInterval": "1m", "maxSessions": 0 },
//	  "relay":   { "redisUrl": "redis://localhost:6379/0", "channel": "wspush:push" },
//	  "log":     { "level": "info", "format": "text" },
//	  "metrics": { "enabled": true, "namespace": "wspush" }
//	}
//
// Environment variables override the file: WSPUSH_ADDR, WSPUSH_REDIS_URL
// and LOG_LEVEL.
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    return err
//	}
//	cfg.ApplyEnv(os.LookupEnv)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
