package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/spf13/cobra"

	"github.com/valet-ai/valet/batch"
	"github.com/valet-ai/valet/builtin"
	"github.com/valet-ai/valet/builtin/telegram"
	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/config"
	"github.com/valet-ai/valet/core"
	"github.com/valet-ai/valet/dispatch"
	"github.com/valet-ai/valet/dynamic"
	"github.com/valet-ai/valet/engine"
	"github.com/valet-ai/valet/model"
	"github.com/valet-ai/valet/model/anthropic"
	"github.com/valet-ai/valet/model/openai"
	"github.com/valet-ai/valet/subtask"
)

var (
	configFlag string
	userFlag   string
	actionFlag string
	paramsFlag string
	flowFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "valet",
	Short: "valet - tool execution engine for LLM assistants",
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the capability catalog",
	RunE:  runCatalog,
}

var callCmd = &cobra.Command{
	Use:   "call <capability>",
	Short: "Execute a single capability call",
	Args:  cobra.ExactArgs(1),
	RunE:  runCall,
}

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Execute a JSON array of call requests (from file or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBatch,
}

var spawnCmd = &cobra.Command{
	Use:   "spawn <task>",
	Short: "Delegate a task to a bounded sub-task loop",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpawn,
}

var allowedFlag []string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the effective configuration",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to valet.toml")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "cli", "User id for the call")

	callCmd.Flags().StringVarP(&actionFlag, "action", "a", "", "Action to invoke")
	callCmd.Flags().StringVarP(&paramsFlag, "params", "p", "", "Parameters as a JSON object")
	callCmd.Flags().StringVar(&flowFlag, "flow", "", "Flow id to tag the call with")

	spawnCmd.Flags().StringSliceVar(&allowedFlag, "allow", nil, "Capability ids the sub-task may use")

	rootCmd.AddCommand(catalogCmd, callCmd, batchCmd, spawnCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildEngine assembles the full stack from the loaded configuration.
func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	logger := cfg.NewLogger()

	collabs := builtin.Defaults()
	collabs.Fetcher = builtin.NewHTTPFetcher(nil)
	collabs.Scheduler = builtin.NewCronScheduler(func(task builtin.ScheduledTask) {
		logger.Info("schedule.fired", "task_id", task.ID, "description", task.Description)
	})
	if cfg.Telegram.Token != "" {
		notifier, err := telegram.NewNotifier(cfg.Telegram.Token, chatFromEnv)
		if err != nil {
			return nil, fmt.Errorf("telegram notifier: %w", err)
		}
		collabs.Notifier = notifier
	}

	catalog := capability.NewCatalog()
	err := builtin.RegisterAll(catalog, collabs, builtin.WithTuner(func(c *capability.Config) {
		tuning, ok := cfg.Caps[c.ID]
		if !ok {
			return
		}
		if tuning.Enabled != nil {
			c.Enabled = *tuning.Enabled
		}
		if tuning.RateLimit != nil {
			c.RateLimit = *tuning.RateLimit
		}
		if tuning.TimeoutMs != nil {
			c.TimeoutMs = *tuning.TimeoutMs
		}
	}))
	if err != nil {
		return nil, err
	}

	opts := []func(*engine.Options){
		engine.WithLogger(logger),
		engine.WithRateGate(capability.NewRateGate()),
		engine.WithBatchOptions(
			batch.WithIndividualTimeout(time.Duration(cfg.Batch.IndividualTimeoutMs)*time.Millisecond),
			batch.WithGlobalTimeout(time.Duration(cfg.Batch.GlobalTimeoutMs)*time.Millisecond),
			batch.WithMaxParallel(cfg.Batch.MaxParallel),
		),
		engine.WithDynamicRegistry(dynamic.NewRegistry(
			dynamic.NewInMemoryStore(),
			builtin.NewLimitedSandbox(builtin.UnavailableSandbox{}),
			dynamic.WithLogger(logger),
		)),
	}

	if mdl := buildModel(cfg); mdl != nil {
		opts = append(opts, engine.WithModel(mdl))
	}

	return engine.New(catalog, opts...)
}

// buildModel returns nil when no API key is configured; the engine then runs
// without sub-task support.
func buildModel(cfg *config.Config) model.Model {
	if cfg.Model.APIKey == "" {
		return nil
	}
	switch cfg.Model.Provider {
	case "openai":
		clientOpts := []openaiopt.RequestOption{openaiopt.WithAPIKey(cfg.Model.APIKey)}
		if cfg.Model.BaseURL != "" {
			clientOpts = append(clientOpts, openaiopt.WithBaseURL(cfg.Model.BaseURL))
		}
		client := openaisdk.NewClient(clientOpts...)
		return openai.NewModelFromClient(&client, func(o *openai.Options) {
			if cfg.Model.Name != "" {
				o.Model = cfg.Model.Name
			}
		})
	default:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.Model.APIKey
			if cfg.Model.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Model.Name)
			}
		})
	}
}

// chatFromEnv resolves Telegram chat ids from VALET_TELEGRAM_CHAT_<USER>.
func chatFromEnv(userID string) (int64, bool) {
	v := os.Getenv("VALET_TELEGRAM_CHAT_" + strings.ToUpper(userID))
	if v == "" {
		return 0, false
	}
	var id int64
	if _, err := fmt.Sscanf(v, "%d", &id); err != nil {
		return 0, false
	}
	return id, true
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	defs, err := eng.SchemaDocument(cmd.Context(), userFlag)
	if err != nil {
		return err
	}
	for _, d := range defs {
		state := "enabled"
		if !d.Enabled {
			state = "disabled"
		}
		fmt.Printf("%-20s %-18s %-9s %s\n", d.Name, d.Category, state, strings.Join(d.Actions, ", "))
	}
	return nil
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	params := map[string]any{}
	if paramsFlag != "" {
		if err := json.Unmarshal([]byte(paramsFlag), &params); err != nil {
			return fmt.Errorf("parse --params: %w", err)
		}
	}

	ctx := cmd.Context()
	if flowFlag != "" {
		ctx = dispatch.WithFlowID(ctx, flowFlag)
	}

	res := eng.Execute(ctx, userFlag, core.CallRequest{
		CapabilityID: args[0],
		Action:       actionFlag,
		Params:       params,
	})
	return printJSON(res)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	var data []byte
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read batch input: %w", err)
	}

	var reqs []core.CallRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return fmt.Errorf("parse batch input: %w", err)
	}

	results := eng.ExecuteBatch(cmd.Context(), userFlag, reqs)
	return printJSON(results)
}

func runSpawn(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	res := eng.Spawn(cmd.Context(), userFlag, subtask.SpawnRequest{
		Task:                args[0],
		AllowedCapabilities: allowedFlag,
		MaxIterations:       cfg.Subtask.MaxIterations,
		TimeoutMs:           cfg.Subtask.TimeoutMs,
	})
	return printJSON(res)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}

	fmt.Printf("Log level: %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)
	fmt.Printf("Provider: %s\n", cfg.Model.Provider)
	if cfg.Model.APIKey != "" && len(cfg.Model.APIKey) > 8 {
		fmt.Printf("API key: %s...%s\n", cfg.Model.APIKey[:4], cfg.Model.APIKey[len(cfg.Model.APIKey)-4:])
	} else if cfg.Model.APIKey != "" {
		fmt.Println("API key: set")
	} else {
		fmt.Println("API key: not set")
	}
	fmt.Printf("Batch: individual=%dms global=%dms parallel=%d\n",
		cfg.Batch.IndividualTimeoutMs, cfg.Batch.GlobalTimeoutMs, cfg.Batch.MaxParallel)
	fmt.Printf("Subtask: iterations=%d timeout=%dms\n", cfg.Subtask.MaxIterations, cfg.Subtask.TimeoutMs)
	fmt.Printf("Telegram: configured=%v\n", cfg.Telegram.Token != "")
	fmt.Printf("Capability overrides: %d\n", len(cfg.Caps))
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
