package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the runtime settings for the emulator, all overridable via
// environment variables so the binary stays container-friendly.
type Config struct {
	ListenAddr string // ":8080"

	// QueueHost is the host portion used when building queue URLs:
	// "{QueueHost}/{queue_name}".
	QueueHost string

	// DefaultVisibilityTimeoutSeconds applies to queues created without an
	// explicit VisibilityTimeout attribute.
	DefaultVisibilityTimeoutSeconds int

	// AttrStorePath is the JSON file the durable AttributeStore persists to.
	AttrStorePath string

	// LongPollTickMillis controls how often ReceiveMessage re-polls the queue
	// while honoring WaitTimeSeconds.
	LongPollTickMillis int

	// PersistAttrs toggles whether the AttributeStore fsyncs to
	// AttrStorePath. Tests typically disable this.
	PersistAttrs bool
}

// Load reads Config from the environment, applying the documented defaults.
func Load() (*Config, error) {
	return &Config{
		ListenAddr:                      envOr("LISTEN_ADDR", ":8080"),
		QueueHost:                       envOr("QUEUE_HOST", "http://localhost:8080"),
		DefaultVisibilityTimeoutSeconds: envOrInt("DEFAULT_VISIBILITY_TIMEOUT", 30),
		AttrStorePath:                   envOr("ATTR_STORE_PATH", "sqsmemu-attrs.json"),
		LongPollTickMillis:              envOrInt("LONG_POLL_TICK_MILLIS", 200),
		PersistAttrs:                    envOrBool("PERSIST_ATTRS", true),
	}, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envOrInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return def
}
