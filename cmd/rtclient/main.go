// Command rtclient connects to a realtime server from the terminal.
//
// listen prints every inbound frame as a JSON line. call performs a single
// request over the duplex channel and prints its result.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/usercast/rtclient"
)

type flags struct {
	config   string
	baseURL  string
	pushURL  string
	token    string
	logLevel string
	timeout  time.Duration
	query    []string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:          "rtclient",
		Short:        "Realtime client for push and duplex channels",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "YAML or JSON config file")
	pf.StringVar(&f.baseURL, "base-url", "", "server base url")
	pf.StringVar(&f.pushURL, "push-url", "", "push endpoint, http(s) for SSE or ws(s) for WebSocket")
	pf.StringVar(&f.token, "token", "", "bearer token")
	pf.StringVar(&f.logLevel, "log-level", "", "log level")
	pf.DurationVar(&f.timeout, "timeout", 0, "request timeout")

	listen := &cobra.Command{
		Use:   "listen",
		Short: "Print inbound frames until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := f.client(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()
			return listenCmd(cmd.Context(), c, logger, out)
		},
	}

	call := &cobra.Command{
		Use:   "call METHOD ENDPOINT [JSON-BODY]",
		Short: "Make one request over the duplex channel",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := f.client(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()

			var body any
			if len(args) == 3 {
				err = json.Unmarshal([]byte(args[2]), &body)
				if err != nil {
					return fmt.Errorf("failed to parse body: %w", err)
				}
			}
			query, err := parseQuery(f.query)
			if err != nil {
				return err
			}
			return callCmd(cmd.Context(), c, out, strings.ToUpper(args[0]), args[1], body, query)
		},
	}
	call.Flags().StringArrayVarP(&f.query, "query", "q", nil, "query parameter as key=value, repeatable")

	root.AddCommand(listen, call)
	return root
}

// client builds a Client from the config file overlaid with the flags
// that were set.
func (f *flags) client(cmd *cobra.Command) (*rtclient.Client, *zap.Logger, error) {
	cfg := &config{}
	if f.config != "" {
		var err error
		cfg, err = loadConfig(f.config)
		if err != nil {
			return nil, nil, err
		}
	}

	fs := cmd.Flags()
	if fs.Changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if fs.Changed("push-url") {
		cfg.PushURL = f.pushURL
	}
	if fs.Changed("token") {
		cfg.Token = f.token
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("timeout") {
		cfg.Timeout = f.timeout
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	c, err := rtclient.New(cfg.options(logger))
	if err != nil {
		return nil, nil, err
	}
	return c, logger, nil
}

func listenCmd(ctx context.Context, c *rtclient.Client, logger *zap.Logger, out io.Writer) error {
	frames := make(chan *rtclient.Frame, 64)
	c.Subscribe(rtclient.EventMessage, func(payload any) error {
		f, ok := payload.(*rtclient.Frame)
		if !ok {
			return nil
		}
		select {
		case frames <- f:
		default:
			return fmt.Errorf("output backlog full, dropped %q frame", f.Type)
		}
		return nil
	})

	c.ConnectPush()
	err := c.ConnectDuplex(ctx)
	if err != nil {
		// Keep listening on the push channel alone.
		logger.Warn("duplex channel unavailable", zap.Error(err))
	}

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-frames:
			err := enc.Encode(f)
			if err != nil {
				return fmt.Errorf("failed to write frame: %w", err)
			}
		}
	}
}

func callCmd(ctx context.Context, c *rtclient.Client, out io.Writer, method, endpoint string, body any, query map[string]string) error {
	err := c.ConnectDuplex(ctx)
	if err != nil {
		return err
	}
	err = c.WaitDuplexOpen(ctx)
	if err != nil {
		return err
	}

	v, err := c.Call(ctx, method, endpoint, body, query)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseQuery(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	q := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid query parameter %q", kv)
		}
		q[k] = v
	}
	return q, nil
}
