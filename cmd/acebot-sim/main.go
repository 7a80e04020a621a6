package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rmax-ai/acebot/pkg/client"
	"github.com/rmax-ai/acebot/pkg/simulation"
)

func main() {
	var (
		scenarioFile string
		apiURL       string
		jsonOutput   bool
		outputFile   string
	)

	cmd := &cobra.Command{
		Use:          "acebot-sim",
		Short:        "Drive acebot-d with concurrent simulated hosts",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, err := loadScenario(scenarioFile)
			if err != nil {
				return err
			}

			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := simulation.RunScenario(ctx, scenario, client.NewClient(apiURL), logger)
			if err != nil {
				return err
			}
			if err := writeReport(result, jsonOutput, outputFile); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("scenario %q failed its invariants", result.ScenarioName)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scenarioFile, "scenario", "", "Path to scenario YAML or JSON file")
	cmd.Flags().StringVar(&apiURL, "api", client.DefaultEndpoint, "Base URL of acebot-d API")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().StringVar(&outputFile, "out", "", "Write output to file instead of stdout")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadScenario(file string) (simulation.Scenario, error) {
	if file == "" {
		fmt.Fprintln(os.Stderr, "No scenario file provided, running default demo scenario...")
		return defaultScenario(), nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return simulation.Scenario{}, fmt.Errorf("failed to read scenario file: %w", err)
	}
	// YAML is a superset of JSON, so one decoder reads both.
	var s simulation.Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return simulation.Scenario{}, fmt.Errorf("failed to parse scenario file: %w", err)
	}
	if s.Duration <= 0 {
		return simulation.Scenario{}, fmt.Errorf("scenario %q needs a positive duration", s.Name)
	}
	return s, nil
}

func defaultScenario() simulation.Scenario {
	return simulation.Scenario{
		Name:        "Default Demo",
		Duration:    10 * time.Second,
		Description: "Concurrent sign-in round trips, no cross-talk",
		Users: []simulation.UserConfig{
			{
				Name:     "user",
				Count:    5,
				Journey:  simulation.JourneySignIn,
				Behavior: simulation.BehaviorPeriodic,
				Rate:     2,
			},
		},
		Invariants: []simulation.Invariant{
			{Metric: "mismatch_rate", Condition: "==", Value: 0},
			{Metric: "error_rate", Condition: "<", Value: 0.01},
		},
	}
}

func writeReport(res simulation.SimulationResult, jsonFmt bool, filePath string) error {
	var output []byte
	var err error

	if jsonFmt {
		output, err = json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
	} else {
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "\n--- Simulation Report: %s ---\n", res.ScenarioName)
		fmt.Fprintf(&buf, "Duration: %s\n", res.Duration)
		fmt.Fprintf(&buf, "Requests: %d | Journeys: %d | Completed: %d | Mismatches: %d | Errors: %d\n",
			res.TotalRequests, res.TotalJourneys, res.TotalCompleted, res.TotalMismatches, res.TotalErrors)

		names := make([]string, 0, len(res.UserStats))
		for name := range res.UserStats {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			st := res.UserStats[name]
			fmt.Fprintf(&buf, "  %-12s journeys=%d completed=%d mismatches=%d errors=%d\n",
				name, st.Journeys, st.Completed, st.Mismatches, st.Errors)
		}

		if len(res.Invariants) > 0 {
			buf.WriteString("\nInvariants:\n")
			for _, inv := range res.Invariants {
				status := "FAIL"
				if inv.Passed {
					status = "PASS"
				}
				fmt.Fprintf(&buf, "[%s] %s (%s): Expected %s, Got %s\n", status, inv.Metric, inv.Scope, inv.Expected, inv.Actual)
			}
		}
		output = buf.Bytes()
	}

	if filePath != "" {
		if err := os.WriteFile(filePath, output, 0644); err != nil {
			return fmt.Errorf("failed to write report to %s: %w", filePath, err)
		}
		fmt.Printf("Report written to %s\n", filePath)
		return nil
	}
	fmt.Println(string(output))
	return nil
}
