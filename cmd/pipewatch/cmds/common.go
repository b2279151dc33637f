package cmds

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pipewatch/pipewatch/pkg/client"
	"github.com/pipewatch/pipewatch/pkg/config"
)

type rootOptions struct {
	Server string
	Config string
}

func AddRootFlags(root *cobra.Command) {
	root.PersistentFlags().String("server", "", "Pipeline server base URL (overrides config)")
	root.PersistentFlags().String("config", "", "Path to config file (defaults to .pipewatch.yaml in the working directory)")
}

func getRootOptions(flags *pflag.FlagSet) (rootOptions, error) {
	server, err := flags.GetString("server")
	if err != nil {
		return rootOptions{}, err
	}
	cfgPath, err := flags.GetString("config")
	if err != nil {
		return rootOptions{}, err
	}
	if cfgPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return rootOptions{}, err
		}
		cfgPath = config.DefaultPath(cwd)
	} else if !filepath.IsAbs(cfgPath) {
		cwd, err := os.Getwd()
		if err != nil {
			return rootOptions{}, err
		}
		cfgPath = filepath.Join(cwd, cfgPath)
	}
	return rootOptions{Server: server, Config: cfgPath}, nil
}

// clientOptionsFrom merges flag and config-file settings into client options.
// Flags win over file values.
func clientOptionsFrom(opts rootOptions) (client.Options, *config.File, error) {
	cfg, err := config.LoadOptional(opts.Config)
	if err != nil {
		return client.Options{}, nil, err
	}

	out := client.Options{
		BaseURL: cfg.Server.URL,
		Path:    cfg.Server.Path,
		Retry:   client.DefaultRetryPolicy(),
	}
	if opts.Server != "" {
		out.BaseURL = opts.Server
	}
	if out.BaseURL == "" {
		out.BaseURL = "http://localhost:8741"
	}
	if cfg.Retry.MaxAttempts > 0 {
		out.Retry.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialBackoffMs > 0 {
		out.Retry.InitialBackoff = cfg.Retry.InitialBackoff()
	}
	if cfg.Retry.MaxBackoffMs > 0 {
		out.Retry.MaxBackoff = cfg.Retry.MaxBackoff()
	}
	if len(cfg.Server.Headers) > 0 {
		out.Header = http.Header{}
		for k, v := range cfg.Server.Headers {
			out.Header.Set(k, v)
		}
	}
	out.HTTPClient = &http.Client{Timeout: 0, Transport: &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
	}}
	return out, cfg, nil
}
