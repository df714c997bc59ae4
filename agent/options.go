package agent

import (
	"log/slog"
	"time"

	"github.com/ggoodman/agentbridge/features"
	"github.com/ggoodman/agentbridge/secrets"
)

// Option customizes a Client.
type Option func(*Client)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRequestTimeout bounds requests sent with Call. Defaults to 30s.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithShutdownTimeout bounds the shutdown request. Defaults to 15s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.shutdownTimeout = d
		}
	}
}

// WithSecrets serves the agent's secrets/* requests from s. The client closes
// s when the connection ends.
func WithSecrets(s secrets.Store) Option {
	return func(c *Client) { c.secrets = s }
}

// WithFeaturesFile overrides agent-pushed feature flags with the contents of a
// watched JSON file.
func WithFeaturesFile(path string) Option {
	return func(c *Client) { c.featuresFile = path }
}

// WithInitialFeatures sets the snapshot held before the agent pushes one.
func WithInitialFeatures(f features.ConfigFeatures) Option {
	return func(c *Client) { c.initialFeatures = f }
}
