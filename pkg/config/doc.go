// Package config loads typed configuration structs from environment variables
// using github.com/caarlos0/env, with optional .env support via godotenv.
package config
