package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"

	"github.com/linnemanlabs/gryph/internal/workflow"
)

// Config holds gryph's application settings. It follows the go-core
// cfg.Registerable and cfg.Validatable conventions.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	EventsURL             string
	ChatURL               string
	WorkflowURL           string
	WorkflowNamespace     string
	WorkflowFlowID        string
	APIToken              string
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8090, "API listen TCP port (1..65535)")
	fs.StringVar(&c.EventsURL, "events-url", "http://localhost:5000/events", "server-sent events endpoint for commit and alert events (empty = no live stream)")
	fs.StringVar(&c.ChatURL, "chat-url", "http://localhost:5000", "base URL of the chat backend")
	fs.StringVar(&c.WorkflowURL, "workflow-url", "http://localhost:8080", "base URL of the workflow engine API")
	fs.StringVar(&c.WorkflowNamespace, "workflow-namespace", workflow.DefaultNamespace, "workflow namespace to trigger")
	fs.StringVar(&c.WorkflowFlowID, "workflow-flow-id", workflow.DefaultFlowID, "workflow flow id to trigger")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api routes (empty = no auth)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for security alert notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Backends the dashboard cannot work without
	if err := checkURL("CHAT_URL", c.ChatURL, true); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("WORKFLOW_URL", c.WorkflowURL, true); err != nil {
		errs = append(errs, err)
	}

	// Optional endpoints must still be well formed when set
	if err := checkURL("EVENTS_URL", c.EventsURL, false); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("SLACK_WEBHOOK_URL", c.SlackWebhookURL, false); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(c.WorkflowNamespace) == "" {
		errs = append(errs, errors.New("WORKFLOW_NAMESPACE is required"))
	}
	if strings.TrimSpace(c.WorkflowFlowID) == "" {
		errs = append(errs, errors.New("WORKFLOW_FLOW_ID is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// checkURL requires an absolute http or https URL with a host.
func checkURL(name, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s %q (must be an http or https URL)", name, raw)
	}
	return nil
}
