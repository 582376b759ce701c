package statesync

import "github.com/goliatone/go-statesync/pkg/activity"

// WithActivityHooks attaches hooks notified of record lifecycle events.
// Hooks are cloned and nil entries dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := activity.CloneHooks(hooks)
	return func(cfg *optionsConfig) {
		cfg.activityHooks = normalized
	}
}

// WithActivityChannel overrides the channel stamped on emitted events.
func WithActivityChannel(channel string) Option {
	return func(cfg *optionsConfig) {
		cfg.activity.Channel = channel
	}
}

// WithActivityDisabled keeps hooks configured but stops emission.
func WithActivityDisabled() Option {
	return func(cfg *optionsConfig) {
		cfg.activity.Enabled = false
	}
}
