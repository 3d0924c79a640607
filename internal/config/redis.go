package config

// Redis backs the per-identity rate limiter and the To Do read cache.  The
// client parameters are loaded from environment variables.  If the server
// cannot be reached at startup the constructor returns nil and callers
// degrade by disabling both features.

import (
    "context"
    "crypto/tls"
    "os"
    "time"

    "github.com/redis/go-redis/v9"
    log "github.com/sirupsen/logrus"
)

// NewRedisClient instantiates a Redis client using environment variables.
// Supported variables are:
//   REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//   REDIS_ADDR – host:port shorthand (used when host/port are not both set)
//   REDIS_PASSWORD – optional password
//   REDIS_DB – database number (default 0)
//   REDIS_TLS – enable TLS when true
// The returned client is nil if a connection cannot be established.
func NewRedisClient() *redis.Client {
    addr := os.Getenv("REDIS_ADDR")
    if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
        addr = host + ":" + port
    }
    if addr == "" {
        addr = "localhost:6379"
    }
    var tlsConf *tls.Config
    if envBool("REDIS_TLS", false) {
        tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      addr,
        Password:  os.Getenv("REDIS_PASSWORD"),
        DB:        envInt("REDIS_DB", 0),
        TLSConfig: tlsConf,
    })

    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        log.WithError(err).WithField("addr", addr).Warn("redis unavailable, rate limiting and caching disabled")
        _ = client.Close()
        return nil
    }
    return client
}
