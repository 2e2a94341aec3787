// Command ecd runs an Encrypt-Compute-Decrypt workflow, locally or against a
// remote compute boundary, and writes its report as JSON.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ChristianMct/ecd/executor"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/orchestrator"
	"github.com/ChristianMct/ecd/utils"
	"github.com/rs/zerolog"
)

var (
	configFile = flag.String("config", "", "the TOML configuration file, defaults are used if empty")
	mode       = flag.String("mode", "", "overrides the execution mode of the configuration (local or remote)")
	runs       = flag.Int("runs", 0, "overrides the number of runs of the configuration")
	warmup     = flag.Int("warmup", -1, "overrides the number of warmup runs of the configuration")
	sizes      = flag.String("sizes", "", "the comma-separated input lengths of a data-size sweep, replacing -input")
	operation  = flag.String("op", string(fhe.AddPlain), "the operation to evaluate")
	input      = flag.String("input", "26,118,76,80,97.6", "the comma-separated input vector")
	operand    = flag.String("operand", "0,5,0,0,0", "the comma-separated operand vector")
	expected   = flag.String("expected", "", "the comma-separated expected result, defaults to the plaintext computation")
	reportFile = flag.String("report", "", "the file the JSON report is written to, stdout if empty")
	logLevel   = flag.String("log-level", "info", "the log level")
)

func main() {
	flag.Parse()

	logger, err := utils.InitLogger("ecd", *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ecd: %v\n", err)
		os.Exit(1)
	}

	if err := run(logger); err != nil {
		logger.Error().Err(err).Msg("workflow failed")
		os.Exit(1)
	}
}

func run(logger zerolog.Logger) error {
	conf := orchestrator.DefaultConfig()
	if *configFile != "" {
		var err error
		if conf, err = orchestrator.LoadConfig(*configFile); err != nil {
			return err
		}
	}
	if *mode != "" {
		m, err := executor.ParseMode(*mode)
		if err != nil {
			return err
		}
		conf.Mode = m
	}
	if *runs > 0 {
		conf.Runs = *runs
	}
	if *warmup >= 0 {
		conf.Warmup = *warmup
	}
	if *sizes != "" {
		var err error
		if conf.Sizes, err = parseSizes(*sizes); err != nil {
			return fmt.Errorf("sizes: %w", err)
		}
	}

	req, err := parseRequest()
	if err != nil {
		return err
	}

	ex, closeExecutor, err := orchestrator.BuildExecutor(conf, logger)
	if err != nil {
		return err
	}
	defer closeExecutor()

	o, err := orchestrator.New(conf, ex, orchestrator.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(conf.Sizes) > 0 {
		logger.Info().Str("mode", string(conf.Mode)).Str("operation", string(req.Operation)).Ints("sizes", conf.Sizes).Msg("starting sweep")
		sr, runErr := o.Sweep(ctx, req.Operation, req.Operand, conf.Sizes, conf.Runs)
		if err := writeReport(sr); err != nil {
			return err
		}
		return runErr
	}

	logger.Info().Str("mode", string(conf.Mode)).Str("operation", string(req.Operation)).Int("runs", conf.Runs).Msg("starting workflow")
	rep, runErr := o.RunRepeated(ctx, req, conf.Runs)

	// the report is written on failure too, it holds the partial measurements
	if err := writeReport(rep); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	logger.Info().
		Str("state", rep.State.String()).
		Floats64("decrypted", rep.DecryptedResult).
		Float64("mean_relative_error", rep.MeanRelativeError).
		Float64("throughput_ops_per_sec", rep.ThroughputOpsPerSec).
		Msg("workflow completed")
	return nil
}

func parseRequest() (orchestrator.Request, error) {
	op, err := fhe.ParseOperation(*operation)
	if err != nil {
		return orchestrator.Request{}, err
	}
	req := orchestrator.Request{Operation: op}
	if req.Input, err = parseVector(*input); err != nil {
		return req, fmt.Errorf("input: %w", err)
	}
	if req.Operand, err = parseVector(*operand); err != nil {
		return req, fmt.Errorf("operand: %w", err)
	}
	if req.Expected, err = parseVector(*expected); err != nil {
		return req, fmt.Errorf("expected: %w", err)
	}
	return req, nil
}

// parseVector parses a comma-separated list of numbers. An empty string is a
// nil vector.
func parseVector(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	v := make([]float64, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		v[i] = x
	}
	return v, nil
}

func parseSizes(s string) ([]int, error) {
	fields := strings.Split(s, ",")
	v := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		v[i] = n
	}
	return v, nil
}

func writeReport(rep any) error {
	if *reportFile != "" {
		return utils.MarshalJSONToFile(rep, *reportFile)
	}
	return utils.WriteJSON(os.Stdout, rep)
}
