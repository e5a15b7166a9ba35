package config

import (
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisOptions parses either a redis:// URL or an Azure style connection
// string such as "host:6380,password=secret,ssl=True".
func (r RedisConfig) RedisOptions() *redis.Options {
	if opts, err := redis.ParseURL(r.ConnectionString); err == nil {
		return opts
	}
	parts := strings.Split(r.ConnectionString, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}
