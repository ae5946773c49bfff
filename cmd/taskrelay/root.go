package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"taskrelay/internal/commands"
	"taskrelay/internal/config"
	"taskrelay/internal/engine"
	"taskrelay/internal/host"
	"taskrelay/internal/logging"
	"taskrelay/internal/messages"
	"taskrelay/internal/persistence"
	"taskrelay/internal/view"
)

var (
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "taskrelay",
	Short: "Operator CLI for the task orchestration engine",
	Long: `taskrelay drives the task orchestration engine from the command line:
run and stop tasks, inspect the task list, star favorites, and serve the
websocket view transport for a connected UI.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (defaults layered under spf13/viper)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(starCmd)
}

// jsonLineSink prints each outbound message as one JSON line to stdout, the
// scripting-friendly contract SPEC_FULL.md's CLI section describes.
type jsonLineSink struct{}

func (jsonLineSink) Send(m messages.Message) {
	raw, err := json.Marshal(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskrelay: failed to encode message: %v\n", err)
		return
	}
	fmt.Println(string(raw))
}

// cliContext bundles everything a subcommand needs: the loaded config, the
// chosen host adapter, and an in-process dispatcher wired to a stdout sink.
type cliContext struct {
	cfg        config.Config
	runtime    host.Runtime
	engine     *engine.Engine
	layer      *persistence.Layer
	dispatcher *commands.Dispatcher
}

func newCLIContext() (*cliContext, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(cfg.Log.Level)

	runtime, err := buildRuntime(cfg)
	if err != nil {
		return nil, err
	}

	globalKV, err := persistence.NewFileKV(cfg.Persistence.GlobalRoot)
	if err != nil {
		return nil, fmt.Errorf("taskrelay: opening global store: %w", err)
	}
	workspaceKV, err := persistence.NewFileKV(cfg.Persistence.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("taskrelay: opening workspace store: %w", err)
	}
	layer := persistence.New(globalKV, workspaceKV, persistence.RetentionConfig{
		DurationWindow:       cfg.Retention.DurationWindow,
		RecentlyUsedCap:      cfg.Retention.RecentlyUsedCap,
		StarredCap:           cfg.Retention.StarredCap,
		NavigationHistoryCap: cfg.Retention.NavigationHistoryCap,
		ExecutionHistoryCap:  cfg.Retention.ExecutionHistoryCap,
	})
	emitter := messages.NewEmitter(jsonLineSink{})
	eng := engine.New(runtime, layer, emitter)
	dispatcher := commands.New(eng, layer, emitter, runtime)

	return &cliContext{cfg: cfg, runtime: runtime, engine: eng, layer: layer, dispatcher: dispatcher}, nil
}

func (c *cliContext) Close() {
	c.engine.Close()
	c.layer.Close()
}

func buildRuntime(cfg config.Config) (host.Runtime, error) {
	switch cfg.Host.Adapter {
	case "", "sim":
		return host.NewSim(), nil
	case "process":
		if cfg.Host.TasksFile == "" {
			return nil, fmt.Errorf("taskrelay: host.adapter=process requires host.tasks_file")
		}
		return host.NewProcess(cfg.Host.TasksFile), nil
	default:
		return nil, fmt.Errorf("taskrelay: unknown host adapter %q", cfg.Host.Adapter)
	}
}

var runCmd = &cobra.Command{
	Use:   "run <label>",
	Short: "Run a task by label",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newCLIContext()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := cmd.Context()
		if err := c.engine.RefreshTasks(ctx); err != nil {
			return err
		}
		c.dispatcher.Dispatch(ctx, commands.Command{Type: "runTask", Payload: map[string]any{"label": args[0]}})
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <label>",
	Short: "Stop a running task by label",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newCLIContext()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := cmd.Context()
		if err := c.engine.RefreshTasks(ctx); err != nil {
			return err
		}
		c.dispatcher.Dispatch(ctx, commands.Command{Type: "stopTask", Payload: map[string]any{"label": args[0]}})
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every task the host currently knows about",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newCLIContext()
		if err != nil {
			return err
		}
		defer c.Close()

		c.dispatcher.Dispatch(cmd.Context(), commands.Command{Type: "getTaskLists"})
		return nil
	},
}

var starCmd = &cobra.Command{
	Use:   "star <label>",
	Short: "Toggle a task's starred status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newCLIContext()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := cmd.Context()
		if err := c.engine.RefreshTasks(ctx); err != nil {
			return err
		}
		c.dispatcher.Dispatch(ctx, commands.Command{Type: "toggleStar", Payload: map[string]any{"label": args[0]}})
		return nil
	},
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the websocket view transport and serve the engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newCLIContext()
		if err != nil {
			return err
		}
		defer c.Close()

		addr := serveAddr
		if addr == "" {
			addr = c.cfg.Serve.ListenAddr
		}

		c.engine.WireHost(cmd.Context())
		if err := c.engine.RefreshTasks(cmd.Context()); err != nil {
			return err
		}

		transport := view.NewTransport(c.dispatcher, c.cfg.Serve.WriteTimeout)
		fmt.Fprintf(os.Stderr, "taskrelay: serving on %s\n", addr)
		return http.ListenAndServe(addr, transport)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides serve.listen_addr config)")
}
