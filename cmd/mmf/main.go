package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tnixon/many-model-forecasting/internal/api"
	"github.com/tnixon/many-model-forecasting/internal/cache"
	"github.com/tnixon/many-model-forecasting/internal/eval"
	"github.com/tnixon/many-model-forecasting/internal/forecast"
	"github.com/tnixon/many-model-forecasting/internal/freq"
	"github.com/tnixon/many-model-forecasting/internal/metrics"
	"github.com/tnixon/many-model-forecasting/internal/runtime"
	"github.com/tnixon/many-model-forecasting/internal/series"
	"github.com/tnixon/many-model-forecasting/internal/store"
	obs "github.com/tnixon/many-model-forecasting/pkg/otel"
)

var (
	// Global flags
	runtimeURL string
	verbose    bool

	// Forecast flags
	inputFile  string
	outputFile string
	modelName  string
	runID      string
	horizon    int
	freqCode   string
	patchSize  int
	numSamples int
	partitions int
	groupCol   string
	dateCol    string
	targetCol  string
	storeKind  string
	installPkg bool

	// Evaluate flags
	actualsFile  string
	forecastFile string
	metricName   string
	evalDate     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mmf",
		Short: "Batch forecasting over pretrained time-series foundation models",
		Long: `Runs batch forecasts over grouped time series using pretrained
foundation-model checkpoints served by a model runtime, and scores the
results against held-out actuals.`,
	}

	rootCmd.PersistentFlags().StringVar(&runtimeURL, "runtime-url", getEnv("MMF_RUNTIME_URL", "http://localhost:8901"), "Model runtime base URL")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose logging")

	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(installCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// forecastCmd runs a batch forecast over a CSV of grouped observations.
func forecastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Run a batch forecast over grouped series from a CSV file",
		Long: `Reads (group, timestamp, value) rows from a CSV file, groups them
into per-entity series in arrival order, forecasts every series with the
selected model, and writes the joined result table as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			params := api.Params{
				GroupID:          groupCol,
				DateCol:          dateCol,
				Target:           targetCol,
				Freq:             freqCode,
				PredictionLength: horizon,
				PatchSize:        patchSize,
				NumSamples:       numSamples,
				Metric:           api.MetricSMAPE,
			}
			if err := params.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			offset, err := freq.Parse(params.Freq)
			if err != nil {
				return err
			}

			if installPkg {
				installer := runtime.NewInstaller(getEnv("MMF_PYTHON", "python3"))
				pkg := runtime.UniTSPackage
				if modelName == "moment-1-large" {
					pkg = runtime.MomentPackage
				}
				log.Printf("Installing %s", pkg)
				if err := installer.Install(ctx, pkg); err != nil {
					return fmt.Errorf("model package installation failed: %w", err)
				}
			}

			records, err := loadRecords(inputFile, params)
			if err != nil {
				return fmt.Errorf("failed to load input: %w", err)
			}
			grouped, err := series.Group(records)
			if err != nil {
				return fmt.Errorf("failed to group series: %w", err)
			}
			log.Printf("Loaded %d observations across %d series", len(records), len(grouped))

			rt, err := runtime.NewHTTPRuntime(runtime.HTTPRuntimeConfig{
				BaseURL:     runtimeURL,
				PredictRate: getEnvInt("MMF_PREDICT_RATE", 0),
			})
			if err != nil {
				return fmt.Errorf("failed to create model runtime client: %w", err)
			}

			forecaster, err := newForecaster(ctx, rt, modelName, params)
			if err != nil {
				return err
			}
			defer forecaster.Close()

			m := metrics.New()
			if addr := getEnv("MMF_METRICS_ADDR", ""); addr != "" {
				go serveMetrics(addr)
			}

			if endpoint := getEnv("MMF_OTEL_ENDPOINT", ""); endpoint != "" {
				cfg := obs.DefaultConfig("many-model-forecasting")
				cfg.CollectorEndpoint = endpoint
				provider, err := obs.InitTracer(ctx, cfg)
				if err != nil {
					log.Printf("Tracing disabled: %v", err)
				} else {
					defer obs.Shutdown(context.Background(), provider)
				}
			}

			fc, err := cache.New(getEnvInt("MMF_CACHE_SIZE", 1024), time.Duration(getEnvInt("MMF_CACHE_TTL_SECONDS", 0))*time.Second)
			if err != nil {
				return fmt.Errorf("failed to create forecast cache: %w", err)
			}

			executor, err := forecast.NewExecutor(forecast.ExecutorConfig{
				Forecaster: forecaster,
				Offset:     offset,
				Partitions: partitions,
				Cache:      fc,
				Metrics:    m,
			})
			if err != nil {
				return err
			}

			start := time.Now()
			table, err := executor.Run(ctx, grouped, params)
			if err != nil {
				return fmt.Errorf("forecast run failed: %w", err)
			}
			log.Printf("Forecasted %d series in %v", len(table.Rows), time.Since(start).Round(time.Millisecond))

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.SaveForecasts(ctx, runID, table); err != nil {
				m.StoreWriteErrors.Inc()
				return fmt.Errorf("failed to save forecasts: %w", err)
			}

			return writeJSON(outputFile, table)
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input CSV file (group, timestamp, value columns)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "-", "Output JSON file (- for stdout)")
	cmd.Flags().StringVarP(&modelName, "model", "m", "moirai-small", "Model variant: moirai-small, moirai-base, moirai-large, moment-1-large")
	cmd.Flags().StringVar(&runID, "run-id", fmt.Sprintf("run-%d", time.Now().Unix()), "Run identifier for the result store")
	cmd.Flags().IntVar(&horizon, "horizon", 10, "Prediction length in steps")
	cmd.Flags().StringVar(&freqCode, "freq", "M", "Calendar frequency: H, D, W, M")
	cmd.Flags().IntVar(&patchSize, "patch-size", 32, "Patch size (variable-context models)")
	cmd.Flags().IntVar(&numSamples, "num-samples", 100, "Sample paths per step (variable-context models)")
	cmd.Flags().IntVar(&partitions, "partitions", forecast.DefaultPartitions, "Parallel partitions")
	cmd.Flags().StringVar(&groupCol, "group-col", "unique_id", "Group identifier column")
	cmd.Flags().StringVar(&dateCol, "date-col", "ds", "Timestamp column")
	cmd.Flags().StringVar(&targetCol, "target-col", "y", "Target value column")
	cmd.Flags().StringVar(&storeKind, "store", getEnv("MMF_STORE", "memory"), "Result store: memory, postgres, redis")
	cmd.Flags().BoolVar(&installPkg, "install", false, "Install the model's package before forecasting")
	cmd.MarkFlagRequired("input")

	return cmd
}

// evaluateCmd scores a forecast JSON against held-out actuals.
func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a forecast result table against held-out actuals",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// The metric is validated before any entity data is read.
			evaluator, err := eval.NewEvaluator(metricName)
			if err != nil {
				return err
			}

			date, err := parseTimestamp(evalDate)
			if err != nil {
				return fmt.Errorf("invalid eval date: %w", err)
			}

			var table api.ResultTable
			if err := readJSON(forecastFile, &table); err != nil {
				return fmt.Errorf("failed to load forecast table: %w", err)
			}

			params := api.DefaultParams()
			params.GroupID = table.GroupIDCol
			params.DateCol = table.DateCol
			params.Target = table.TargetCol
			actualRecords, err := loadRecords(actualsFile, params)
			if err != nil {
				return fmt.Errorf("failed to load actuals: %w", err)
			}
			actualSeries, err := series.Group(actualRecords)
			if err != nil {
				return fmt.Errorf("failed to group actuals: %w", err)
			}

			windows := make([]eval.EntityWindow, 0, len(actualSeries))
			for i := range actualSeries {
				w := eval.EntityWindow{
					Key:      actualSeries[i].Key,
					EvalDate: date,
					Actuals:  actualSeries[i].Values,
				}
				if row := table.Row(w.Key); row != nil {
					w.Forecast = row.Values
				}
				windows = append(windows, w)
			}

			records, outcomes := evaluator.Evaluate(windows)
			for _, o := range outcomes {
				if o.Failed() {
					log.Printf("Entity %s failed evaluation: %v", o.Key, o.Err)
				}
			}
			log.Printf("Scored %d/%d entities", len(records), len(outcomes))

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.SaveMetrics(ctx, runID, records); err != nil {
				return fmt.Errorf("failed to save metric records: %w", err)
			}

			return writeJSON(outputFile, records)
		},
	}

	cmd.Flags().StringVar(&actualsFile, "actuals", "", "Held-out actuals CSV file")
	cmd.Flags().StringVar(&forecastFile, "forecast", "", "Forecast result table JSON file")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "-", "Output JSON file (- for stdout)")
	cmd.Flags().StringVar(&metricName, "metric", api.MetricSMAPE, "Evaluation metric")
	cmd.Flags().StringVar(&evalDate, "eval-date", time.Now().Format("2006-01-02"), "Evaluation date")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier for the result store")
	cmd.Flags().StringVar(&storeKind, "store", getEnv("MMF_STORE", "memory"), "Result store: memory, postgres, redis")
	cmd.MarkFlagRequired("actuals")
	cmd.MarkFlagRequired("forecast")
	cmd.MarkFlagRequired("run-id")

	return cmd
}

// installCmd provisions the Python model packages without forecasting.
func installCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the pretrained model packages into the runtime's Python environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			installer := runtime.NewInstaller(getEnv("MMF_PYTHON", "python3"))
			for _, pkg := range []string{runtime.UniTSPackage, runtime.MomentPackage} {
				log.Printf("Installing %s", pkg)
				if err := installer.Install(ctx, pkg); err != nil {
					return fmt.Errorf("installation failed: %w", err)
				}
			}
			log.Printf("All model packages installed")
			return nil
		},
	}
	return cmd
}

// newForecaster builds the selected model variant.
func newForecaster(ctx context.Context, rt runtime.Runtime, name string, params api.Params) (forecast.Forecaster, error) {
	switch name {
	case "moirai-small":
		return forecast.NewMoiraiSmall(rt, params)
	case "moirai-base":
		return forecast.NewMoiraiBase(rt, params)
	case "moirai-large":
		return forecast.NewMoiraiLarge(rt, params)
	case "moment-1-large":
		return forecast.NewMoment1Large(ctx, rt, params)
	default:
		return nil, fmt.Errorf("unknown model %q", name)
	}
}

// openStore opens the configured result store backend.
func openStore(ctx context.Context) (store.Store, error) {
	switch storeKind {
	case "memory":
		return store.NewMemoryStore(getEnv("MMF_SNAPSHOT_PATH", ""))
	case "postgres":
		conn := getEnv("MMF_POSTGRES_URL", "")
		if conn == "" {
			return nil, fmt.Errorf("MMF_POSTGRES_URL is required for the postgres store")
		}
		return store.NewPostgresStore(ctx, conn)
	case "redis":
		ttl := time.Duration(getEnvInt("MMF_REDIS_TTL_SECONDS", 0)) * time.Second
		return store.NewRedisStore(ctx,
			getEnv("MMF_REDIS_ADDR", "localhost:6379"),
			getEnv("MMF_REDIS_PASSWORD", ""),
			getEnvInt("MMF_REDIS_DB", 0),
			ttl)
	default:
		return nil, fmt.Errorf("unknown store %q", storeKind)
	}
}

// loadRecords reads (group, timestamp, value) rows from a CSV file with a
// header row naming the configured columns. Row order is preserved.
func loadRecords(path string, params api.Params) ([]series.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	groupIdx, dateIdx, targetIdx := -1, -1, -1
	for i, col := range header {
		switch col {
		case params.GroupID:
			groupIdx = i
		case params.DateCol:
			dateIdx = i
		case params.Target:
			targetIdx = i
		}
	}
	if groupIdx < 0 || dateIdx < 0 || targetIdx < 0 {
		return nil, fmt.Errorf("header must contain columns %q, %q, %q",
			params.GroupID, params.DateCol, params.Target)
	}

	var records []series.Record
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := parseTimestamp(row[dateIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		value, err := strconv.ParseFloat(row[targetIdx], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid value %q", line, row[targetIdx])
		}

		records = append(records, series.Record{
			Key:       row[groupIdx],
			Timestamp: ts,
			Value:     value,
		})
	}
	return records, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" || path == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("Serving Prometheus metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Metrics server stopped: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
