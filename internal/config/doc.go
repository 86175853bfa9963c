// Package config handles configuration loading for omni-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	providers:
//	  zapi:
//	    token: "${ZAPI_TOKEN}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to an empty string.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8000"  # webhooks, API, and WebSocket observers
//
// Database (sqlite by default, postgres for shared deployments):
//
//	database:
//	  driver: "sqlite"
//	  path: "/var/lib/omni/gateway.db"
//	  # driver: "postgres"
//	  # dsn: "postgres://omni:***@db/omni?sslmode=disable"
//
// Messaging providers; "active" selects the one used for outbound sends:
//
//	providers:
//	  active: "zapi"
//	  zapi:
//	    enabled: true
//	    instance_id: "${ZAPI_INSTANCE_ID}"
//	    token: "${ZAPI_TOKEN}"
//	    client_token: "${ZAPI_CLIENT_TOKEN}"
//	  evolution:
//	    enabled: false
//	    base_url: "https://evolution.example"
//	    instance: "main"
//	    api_key: "${EVOLUTION_API_KEY}"
//
// Auto-reply greeting:
//
//	chatbot:
//	  enabled: true
//	  bot_name: "Sofia"
//	  business_name: "3A Frios"
//	  generator: "static"   # or "openai"
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//	    model: "gpt-4o"
//
// Dedup cache (duration values use Go's time.ParseDuration syntax):
//
//	dedupe:
//	  ttl: "5m"
//	  max_entries: 100000
//
// Optional broker publishing:
//
//	events:
//	  amqp:
//	    enabled: false
//	    url: "${AMQP_URL}"
//	    exchange: "omni.messages"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
