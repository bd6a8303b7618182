package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/printer"
)

// serverAddr is shared by the commands that talk to a running drey's
// control API.
var serverAddr string

var apiClient = &http.Client{Timeout: 10 * time.Second}

// registerAddrFlag adds the --addr flag to a control API client command.
func registerAddrFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serverAddr, "addr", "http://localhost:8181", "Address of the running drey control API")
}

// apiBaseURL normalizes the --addr value into a base URL. Bare ":8181"
// style listen addresses map onto localhost.
func apiBaseURL() string {
	addr := strings.TrimRight(serverAddr, "/")
	if strings.Contains(addr, "://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

// apiGet performs a GET against the control API and decodes the response
// into out.
func apiGet(path string, out any) error {
	resp, err := apiClient.Get(apiBaseURL() + path)
	if err != nil {
		return connectError(err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

// apiPost performs a JSON POST against the control API.
func apiPost(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := apiClient.Post(apiBaseURL()+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return connectError(err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

// decodeAPIResponse surfaces API error envelopes as errors and decodes
// success bodies into out.
func decodeAPIResponse(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Message != "" {
			return fmt.Errorf("%s", envelope.Message)
		}
		return fmt.Errorf("control API returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// connectError dresses a transport failure in remediation steps.
func connectError(err error) error {
	return printer.Error(
		"cannot reach the drey control API",
		fmt.Sprintf("Error: %v", err),
		[]string{
			"Check that a run is in flight:\n  'drey run' must be running in another terminal",
			fmt.Sprintf("Or point --addr at the right listener, currently: %s", apiBaseURL()),
		},
	)
}
