package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

const defaultAgentAddr = "http://localhost:8080"

// apiClient talks to a running poa-dashboard process.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("agent unreachable at %s: %w", c.base, err)
	}
	return decodeResponse(resp, out)
}

func (c *apiClient) post(path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	resp, err := c.http.Post(c.base+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("agent unreachable at %s: %w", c.base, err)
	}
	return decodeResponse(resp, out)
}

func (c *apiClient) delete(path string, out any) error {
	req, err := http.NewRequest(http.MethodDelete, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent unreachable at %s: %w", c.base, err)
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("agent returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("agent returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type actionEffect struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
}

type agentSummary struct {
	TotalTransactions   int64                   `json:"total_transactions"`
	Cycles              int                     `json:"cycles"`
	WindowSize          int                     `json:"window_size"`
	Baseline            remediation.Baseline    `json:"baseline"`
	BaselineEstablished bool                    `json:"baseline_established"`
	PendingApprovals    int                     `json:"pending_approvals"`
	Rollbacks           int                     `json:"rollbacks"`
	ActionEffectiveness map[string]actionEffect `json:"action_effectiveness"`
	ActiveScenario      string                  `json:"active_scenario"`
	ScenarioTarget      string                  `json:"scenario_target"`
}

func addAddrFlag(cmd *cobra.Command) {
	cmd.Flags().String("addr", defaultAgentAddr, "base URL of a running poa-dashboard")
}

func clientFromFlags(cmd *cobra.Command) *apiClient {
	addr, _ := cmd.Flags().GetString("addr")
	return newAPIClient(addr)
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the live agent summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var summary agentSummary
			if err := clientFromFlags(cmd).get("/api/summary", &summary); err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
	addAddrFlag(cmd)
	return cmd
}

func printSummary(w io.Writer, summary agentSummary) {
	fmt.Fprintf(w, "cycles=%d transactions=%d window=%d\n",
		summary.Cycles, summary.TotalTransactions, summary.WindowSize)
	if summary.BaselineEstablished {
		fmt.Fprintf(w, "baseline: success=%.3f failure=%.3f latency=%.0fms\n",
			summary.Baseline.SuccessRate, summary.Baseline.FailureRate, summary.Baseline.AvgLatencyMS)
	} else {
		fmt.Fprintln(w, "baseline: not yet established")
	}
	fmt.Fprintf(w, "pending approvals=%d rollbacks=%d\n", summary.PendingApprovals, summary.Rollbacks)
	if summary.ActiveScenario != "" && summary.ActiveScenario != "normal" {
		fmt.Fprintf(w, "active scenario: %s target=%s\n", summary.ActiveScenario, summary.ScenarioTarget)
	}
	for actionType, effect := range summary.ActionEffectiveness {
		fmt.Fprintf(w, "  %s: %d/%d successful\n", actionType, effect.Successful, effect.Total)
	}
}

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Show the live agent's detected patterns and action ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := clientFromFlags(cmd)

			var patterns struct {
				Patterns []remediation.Pattern `json:"patterns"`
			}
			if err := client.get("/api/patterns", &patterns); err != nil {
				return err
			}
			var actions struct {
				Actions []remediation.Action `json:"actions"`
			}
			if err := client.get("/api/actions", &actions); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "patterns detected: %d\n", len(patterns.Patterns))
			for _, pattern := range patterns.Patterns {
				fmt.Fprintf(out, "  [%s] %s severity=%.2f scope=%s\n",
					pattern.ID, pattern.Type, pattern.Severity, pattern.ScopeKey())
			}
			fmt.Fprintf(out, "actions taken: %d\n", len(actions.Actions))
			for _, action := range actions.Actions {
				fmt.Fprintf(out, "  [%s] %s target=%s executed=%v%s\n",
					action.ID, action.Type, action.Target, action.Executed, outcomeSuffix(action))
			}
			return nil
		},
	}
	addAddrFlag(cmd)
	return cmd
}

func outcomeSuffix(action remediation.Action) string {
	if action.Outcome == nil {
		return ""
	}
	return fmt.Sprintf(" improvement=%+.1f%%", action.Outcome.SuccessRateImprovement*100)
}

func approvalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List actions waiting for operator approval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var pending struct {
				PendingApprovals []remediation.Action `json:"pending_approvals"`
			}
			if err := clientFromFlags(cmd).get("/api/pending-approvals", &pending); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pending.PendingApprovals) == 0 {
				fmt.Fprintln(out, "no pending approvals")
				return nil
			}
			for _, action := range pending.PendingApprovals {
				fmt.Fprintf(out, "%s  %s target=%s confidence=%.2f\n    %s\n",
					action.ID, action.Type, action.Target, action.Confidence, action.Reasoning)
			}
			return nil
		},
	}
	addAddrFlag(cmd)
	return cmd
}

func approveCmd() *cobra.Command {
	cmd := decideApprovalCmd("approve", "Approve a pending action by id", true)
	return cmd
}

func rejectCmd() *cobra.Command {
	cmd := decideApprovalCmd("reject", "Reject a pending action by id", false)
	return cmd
}

func decideApprovalCmd(use, short string, approve bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <action-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				Action remediation.Action `json:"action"`
			}
			body := map[string]bool{"approve": approve}
			if err := clientFromFlags(cmd).post("/api/approvals/"+args[0], body, &result); err != nil {
				return err
			}
			verdict := "rejected"
			if result.Action.Executed {
				verdict = "approved and executed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s target=%s)\n",
				verdict, result.Action.ID, result.Action.Type, result.Action.Target)
			return nil
		},
	}
	addAddrFlag(cmd)
	return cmd
}

func cycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run loop cycles on the live agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, _ := cmd.Flags().GetInt("n")
			var result struct {
				CyclesRun        int `json:"cycles_run"`
				PendingApprovals int `json:"pending_approvals"`
			}
			body := map[string]int{"cycles": n}
			if err := clientFromFlags(cmd).post("/api/run-cycles", body, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ran %d cycle(s), %d approval(s) pending\n",
				result.CyclesRun, result.PendingApprovals)
			return nil
		},
	}
	cmd.Flags().Int("n", 1, "number of cycles to run")
	addAddrFlag(cmd)
	return cmd
}

func injectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inject [scenario]",
		Short: "Inject or clear a failure scenario on the live agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clear, _ := cmd.Flags().GetBool("clear")
			client := clientFromFlags(cmd)

			if clear {
				if len(args) > 0 {
					return fmt.Errorf("--clear takes no scenario argument")
				}
				if err := client.delete("/api/scenario", nil); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "scenario cleared")
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("scenario argument required unless --clear is set")
			}

			target, _ := cmd.Flags().GetString("target")
			body := map[string]string{"scenario": args[0], "target": target}
			if err := client.post("/api/scenario", body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scenario %s injected\n", args[0])
			return nil
		},
	}
	cmd.Flags().String("target", "", "issuer or bank the scenario targets")
	cmd.Flags().Bool("clear", false, "clear the active scenario")
	addAddrFlag(cmd)
	return cmd
}

const interactiveMenu = `
1) run cycles
2) inject scenario
3) clear scenario
4) status
5) pending approvals
6) approve action
7) reject action
q) quit
> `

func interactiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Menu-driven control of a live agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := clientFromFlags(cmd)
			out := cmd.OutOrStdout()
			scanner := bufio.NewScanner(cmd.InOrStdin())

			for {
				fmt.Fprint(out, interactiveMenu)
				if !scanner.Scan() {
					return scanner.Err()
				}
				choice := strings.TrimSpace(scanner.Text())
				var err error
				switch choice {
				case "1":
					err = interactiveCycles(client, out, scanner)
				case "2":
					err = interactiveInject(client, out, scanner)
				case "3":
					err = client.delete("/api/scenario", nil)
					if err == nil {
						fmt.Fprintln(out, "scenario cleared")
					}
				case "4":
					var summary agentSummary
					if err = client.get("/api/summary", &summary); err == nil {
						printSummary(out, summary)
					}
				case "5":
					err = interactivePending(client, out)
				case "6":
					err = interactiveDecide(client, out, scanner, true)
				case "7":
					err = interactiveDecide(client, out, scanner, false)
				case "q", "quit", "exit":
					return nil
				default:
					fmt.Fprintf(out, "unknown choice %q\n", choice)
				}
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
			}
		},
	}
	addAddrFlag(cmd)
	return cmd
}

func interactiveCycles(client *apiClient, out io.Writer, scanner *bufio.Scanner) error {
	fmt.Fprint(out, "cycles: ")
	if !scanner.Scan() {
		return scanner.Err()
	}
	n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || n < 1 {
		return fmt.Errorf("cycle count must be a positive integer")
	}
	var result struct {
		CyclesRun        int `json:"cycles_run"`
		PendingApprovals int `json:"pending_approvals"`
	}
	if err := client.post("/api/run-cycles", map[string]int{"cycles": n}, &result); err != nil {
		return err
	}
	fmt.Fprintf(out, "ran %d cycle(s), %d approval(s) pending\n", result.CyclesRun, result.PendingApprovals)
	return nil
}

func interactiveInject(client *apiClient, out io.Writer, scanner *bufio.Scanner) error {
	fmt.Fprint(out, "scenario: ")
	if !scanner.Scan() {
		return scanner.Err()
	}
	scenario := strings.TrimSpace(scanner.Text())
	fmt.Fprint(out, "target (blank for default): ")
	if !scanner.Scan() {
		return scanner.Err()
	}
	target := strings.TrimSpace(scanner.Text())
	body := map[string]string{"scenario": scenario, "target": target}
	if err := client.post("/api/scenario", body, nil); err != nil {
		return err
	}
	fmt.Fprintf(out, "scenario %s injected\n", scenario)
	return nil
}

func interactivePending(client *apiClient, out io.Writer) error {
	var pending struct {
		PendingApprovals []remediation.Action `json:"pending_approvals"`
	}
	if err := client.get("/api/pending-approvals", &pending); err != nil {
		return err
	}
	if len(pending.PendingApprovals) == 0 {
		fmt.Fprintln(out, "no pending approvals")
		return nil
	}
	for _, action := range pending.PendingApprovals {
		fmt.Fprintf(out, "%s  %s target=%s\n", action.ID, action.Type, action.Target)
	}
	return nil
}

func interactiveDecide(client *apiClient, out io.Writer, scanner *bufio.Scanner, approve bool) error {
	fmt.Fprint(out, "action id: ")
	if !scanner.Scan() {
		return scanner.Err()
	}
	id := strings.TrimSpace(scanner.Text())
	var result struct {
		Action remediation.Action `json:"action"`
	}
	if err := client.post("/api/approvals/"+id, map[string]bool{"approve": approve}, &result); err != nil {
		return err
	}
	verdict := "rejected"
	if result.Action.Executed {
		verdict = "approved and executed"
	}
	fmt.Fprintf(out, "%s %s\n", verdict, result.Action.ID)
	return nil
}
