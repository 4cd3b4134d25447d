// Command pipelinectl is a thin CLI wrapper around pipelined's HTTP
// control plane, grounded on cmd/dbctl's flag-driven action dispatch and
// -json output toggle. Exit codes follow spec.md §4.7 exactly: 0 success,
// 2 invalid input, 3 run failed, 4 unavailable upstream (LM).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	exitSuccess      = 0
	exitInvalidInput = 2
	exitRunFailed    = 3
	exitUpstream     = 4
)

func main() {
	host := flag.String("host", "localhost", "pipelined host")
	port := flag.Int("port", 8080, "pipelined port")
	action := flag.String("action", "", "Action to perform: generate, status, list, logs, artifacts, output, templates, docs")
	specPath := flag.String("spec", "", "Path to a specification JSON file (generate)")
	runID := flag.String("run", "", "Run ID (status, logs, output)")
	path := flag.String("path", "", "Artifact path relative to the run directory (output)")
	wait := flag.Bool("wait", false, "Poll until the run reaches a terminal status (generate)")
	jsonOutput := flag.Bool("json", true, "Print raw JSON responses")
	flag.Parse()

	if *action == "" {
		fmt.Fprintln(os.Stderr, "usage: pipelinectl -action <generate|status|list|logs|artifacts|output|templates|docs> [...]")
		os.Exit(exitInvalidInput)
	}

	base := fmt.Sprintf("http://%s:%d", *host, *port)
	client := &http.Client{Timeout: 30 * time.Second}

	switch *action {
	case "generate":
		runGenerate(client, base, *specPath, *wait, *jsonOutput)
	case "status":
		requireRunID(*runID)
		get(client, fmt.Sprintf("%s/api/runs/%s", base, *runID), *jsonOutput)
	case "list":
		get(client, base+"/api/runs", *jsonOutput)
	case "logs":
		requireRunID(*runID)
		get(client, fmt.Sprintf("%s/api/runs/%s/logs", base, *runID), *jsonOutput)
	case "artifacts":
		get(client, base+"/api/artifacts", *jsonOutput)
	case "output":
		requireRunID(*runID)
		if *path == "" {
			fmt.Fprintln(os.Stderr, "-path is required for action output")
			os.Exit(exitInvalidInput)
		}
		get(client, fmt.Sprintf("%s/api/output/%s/%s", base, *runID, *path), *jsonOutput)
	case "templates":
		get(client, base+"/api/templates", *jsonOutput)
	case "docs":
		get(client, base+"/api/docs/rag", *jsonOutput)
	default:
		fmt.Fprintf(os.Stderr, "unknown action: %s\n", *action)
		os.Exit(exitInvalidInput)
	}
}

func requireRunID(runID string) {
	if runID == "" {
		fmt.Fprintln(os.Stderr, "-run is required for this action")
		os.Exit(exitInvalidInput)
	}
}

func runGenerate(client *http.Client, base, specPath string, wait, jsonOutput bool) {
	if specPath == "" {
		fmt.Fprintln(os.Stderr, "-spec is required for action generate")
		os.Exit(exitInvalidInput)
	}
	body, err := os.ReadFile(specPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read spec file: %v\n", err)
		os.Exit(exitInvalidInput)
	}

	resp, err := client.Post(base+"/api/generate", "application/json", strings.NewReader(string(body)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(exitUpstream)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintln(os.Stderr, string(respBody))
		os.Exit(exitCodeForStatus(resp.StatusCode))
	}

	var submitted struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(respBody, &submitted); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse response: %v\n", err)
		os.Exit(exitUpstream)
	}
	fmt.Println(string(respBody))

	if !wait {
		os.Exit(exitSuccess)
	}
	waitForCompletion(client, base, submitted.RunID, jsonOutput)
}

type runState struct {
	Status string   `json:"status"`
	Errors []string `json:"errors"`
}

func waitForCompletion(client *http.Client, base, runID string, jsonOutput bool) {
	deadline := time.Now().Add(10 * time.Minute)
	for time.Now().Before(deadline) {
		resp, err := client.Get(fmt.Sprintf("%s/api/runs/%s", base, runID))
		if err != nil {
			time.Sleep(time.Second)
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		var st runState
		if err := json.Unmarshal(body, &st); err == nil {
			switch st.Status {
			case "completed":
				if jsonOutput {
					fmt.Println(string(body))
				}
				os.Exit(exitSuccess)
			case "failed":
				fmt.Fprintln(os.Stderr, string(body))
				for _, e := range st.Errors {
					if strings.Contains(e, "LM unavailable") {
						os.Exit(exitUpstream)
					}
				}
				os.Exit(exitRunFailed)
			}
		}
		time.Sleep(time.Second)
	}
	fmt.Fprintln(os.Stderr, "timed out waiting for run completion")
	os.Exit(exitRunFailed)
}

func get(client *http.Client, url string, jsonOutput bool) {
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(exitUpstream)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintln(os.Stderr, string(body))
		os.Exit(exitCodeForStatus(resp.StatusCode))
	}
	fmt.Println(string(body))
	os.Exit(exitSuccess)
}

func exitCodeForStatus(status int) int {
	switch status {
	case http.StatusBadRequest:
		return exitInvalidInput
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return exitUpstream
	default:
		return exitRunFailed
	}
}
