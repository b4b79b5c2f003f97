// Package config loads typed configuration structs from environment
// variables.
//
// Every component of the engine owns a small struct tagged for
// github.com/caarlos0/env (pg.Config, redis.Config, access.Config, ...);
// this package is the single entry point that fills them, optionally after
// reading a dotenv file through github.com/joho/godotenv.
package config
