package dashlink

import (
	"context"
	"fmt"
)

// Link is a convenience builder that lets callers say Conf → Options → Build
// without touching the underlying wiring.
type Link struct {
	cfg  *Config
	opts []RuntimeOption
}

// LinkOption mutates the Link after configuration is loaded.
type LinkOption func(*Link)

// Conf loads YAML from disk, applies LinkOption values, and returns a Link
// builder.
func Conf(path string, opts ...LinkOption) (*Link, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Link from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...LinkOption) (*Link, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	l := &Link{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Config returns the underlying configuration so callers can tweak it before
// building a runtime.
func (l *Link) Config() *Config {
	if l == nil {
		return nil
	}
	return l.cfg
}

// Options appends RuntimeOption values to the builder.
func (l *Link) Options(opts ...RuntimeOption) *Link {
	if l == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			l.opts = append(l.opts, opt)
		}
	}
	return l
}

// Build constructs the Runtime with everything recorded so far.
func (l *Link) Build(opts ...RuntimeOption) (*Runtime, error) {
	if l == nil {
		return nil, fmt.Errorf("link is nil")
	}
	l.Options(opts...)
	return NewRuntime(l.cfg, l.opts...)
}

// Run is a shortcut for Build + runtime.Run.
func (l *Link) Run(ctx context.Context, opts ...RuntimeOption) error {
	rt, err := l.Build(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// WithLinkOptions appends RuntimeOption values during Conf.
func WithLinkOptions(opts ...RuntimeOption) LinkOption {
	return func(l *Link) {
		if l != nil {
			l.Options(opts...)
		}
	}
}
