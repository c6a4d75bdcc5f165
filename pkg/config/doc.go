// Package config holds runtime configuration for nan.
//
// Configuration is layered in the order:
//
//  1. DefaultConfig
//  2. an optional JSON or YAML file (LoadFromFile, or WithConfigFile)
//  3. environment variables (LoadFromEnv)
//  4. functional options passed to NewConfig
//
// Later layers override earlier ones. Environment variables use the NAN_
// prefix; the common REDIS_URL, OLLAMA_HOST, OPENAI_API_KEY,
// ANTHROPIC_API_KEY, OTEL_EXPORTER_OTLP_ENDPOINT and OTEL_SERVICE_NAME are
// honored as fallbacks.
package config
