package config

// schema describes the config document. Durations are Go duration strings.
const schema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"credentials": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"email": {"type": "string"},
				"password": {"type": "string"}
			}
		},
		"reuse_existing_browser": {"type": "boolean"},
		"headless": {"type": "boolean"},
		"debugger_address": {"type": "string"},
		"driver": {
			"type": "string",
			"enum": ["chromedp", "playwright"]
		},
		"mode": {
			"type": "string",
			"enum": ["fast", "safe"]
		},
		"run_timeout": {
			"type": "string",
			"pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
		},
		"store": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"base_url": {"type": "string", "pattern": "^https?://"}
			}
		},
		"screenshots_dir": {"type": "string"},
		"session_dir": {"type": "string"},
		"log": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"level": {
					"type": "string",
					"enum": ["debug", "info", "warn", "warning", "error", "DEBUG", "INFO", "WARN", "WARNING", "ERROR"]
				},
				"file": {"type": "string"}
			}
		},
		"server": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"addr": {"type": "string"}
			}
		}
	}
}`
