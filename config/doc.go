// Package config loads service configuration from config.yml, an optional
// .env file and the process environment using viper.
//
// Environment variables override file values. UPPER_SNAKE names are bound
// to every nested key variant, so STORE_REDIS_ADDR reaches store.redis.addr
// as well as store.redis_addr.
//
//	var cfg AppConfig
//	err := config.LoadConfig("autoflow", &cfg)
package config
