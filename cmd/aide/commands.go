package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/aide/internal/config"
	"github.com/kalambet/aide/internal/reminder"
	"github.com/kalambet/aide/internal/storage"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aide system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.LLM.Model)
	printStatus("Consolidation model", "%s", cfg.LLM.ConsolidationModel)
	if cfg.LLM.APIKey == "" {
		printStatus("OpenRouter key", "missing")
	} else {
		printStatus("OpenRouter key", "set")
	}
	if cfg.API.Token == "" {
		printStatus("API token", "missing")
	} else {
		printStatus("API token", "set")
	}
	if cfg.Notify.WebhookURL == "" {
		printStatus("Webhook", "not configured (reminders are logged)")
	} else {
		printStatus("Webhook", "%s", cfg.Notify.WebhookURL)
	}
	printStatus("Poll interval", "%s", cfg.Reminders.Interval)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// --- remind ---

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Manage reminders",
}

var remindAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Add a reminder",
	Long: `Add a reminder. --due takes local time as YYYY-MM-DDTHH:MM.

Examples:
  aide remind add "call mom" --due 2024-02-01T17:00
  aide remind add "renew passport"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		due, _ := cmd.Flags().GetString("due")
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"text": strings.Join(args, " "), "due": due}
		resp, err := client.post(cmd.Context(), userPath("/reminders"), body)
		if err != nil {
			return err
		}
		var r reminder.Reminder
		if err := decodeJSON(resp, &r); err != nil {
			return err
		}
		if r.Due != "" {
			printSuccess("Added reminder %s due %s", r.ID, r.Due)
		} else {
			printSuccess("Added reminder %s", r.ID)
		}
		return nil
	},
}

var remindListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reminders",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		path := userPath("/reminders")
		if status != "" {
			path += "?status=" + url.QueryEscape(status)
		}
		return listReminders(cmd, path)
	},
}

var remindDueCmd = &cobra.Command{
	Use:   "due",
	Short: "List reminders that are due now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listReminders(cmd, userPath("/reminders/due"))
	},
}

func listReminders(cmd *cobra.Command, path string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.get(cmd.Context(), path)
	if err != nil {
		return err
	}
	var list []reminder.Reminder
	if err := decodeJSON(resp, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(stdout, "No reminders.")
		return nil
	}
	for _, r := range list {
		mark := "[ ]"
		if r.Completed {
			mark = "[x]"
		}
		line := fmt.Sprintf("%s %s  %s", mark, colorize(colorCyan, r.ID), r.Text)
		if r.Due != "" {
			line += "  (due " + r.Due + ")"
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}

var remindDoneCmd = &cobra.Command{
	Use:   "done [id]",
	Short: "Mark a reminder completed",
	Long: `Mark a reminder completed, by id or with --text by a piece of its text.

Examples:
  aide remind done 01HQ3K7Z4XG2J4Y8N9V6P5R2T1
  aide remind done --text milk`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		if len(args) == 0 && text == "" {
			return errors.New("a reminder id or --text is required")
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var resp *http.Response
		if len(args) == 1 {
			resp, err = client.post(cmd.Context(), userPath("/reminders/"+url.PathEscape(args[0])+"/complete"), nil)
		} else {
			resp, err = client.post(cmd.Context(), userPath("/reminders/complete"), map[string]string{"text": text})
		}
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Reminder completed")
		return nil
	},
}

func init() {
	remindAddCmd.Flags().String("due", "", "due time, YYYY-MM-DDTHH:MM (local)")
	remindListCmd.Flags().String("status", "", "filter by status: open or completed")
	remindDoneCmd.Flags().String("text", "", "complete the first open reminder containing this text")
	remindCmd.AddCommand(remindAddCmd)
	remindCmd.AddCommand(remindListCmd)
	remindCmd.AddCommand(remindDueCmd)
	remindCmd.AddCommand(remindDoneCmd)
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Read or append to the memory document",
}

var memoryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the memory document",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), userPath("/memory"))
		if err != nil {
			return err
		}
		var result struct {
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Fprint(stdout, result.Content)
		if !strings.HasSuffix(result.Content, "\n") {
			fmt.Fprintln(stdout)
		}
		return nil
	},
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <note>",
	Short: "Append a note to memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]string{"content": strings.Join(args, " ")}
		resp, err := client.post(cmd.Context(), userPath("/memory"), body)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Stored in memory")
		return nil
	},
}

func init() {
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryAddCmd)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest content into memory",
	Long: `Ingest content into memory as a titled note.

Examples:
  aide ingest --text "I prefer window seats"
  aide ingest --url https://example.com/article
  aide ingest --file ./notes.md --title "My notes"
  aide ingest --file ./itinerary.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		rawURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		if text == "" && rawURL == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		req := map[string]any{
			"source": "cli",
		}
		if title != "" {
			req["title"] = title
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case rawURL != "":
			req["type"] = "url"
			req["url"] = rawURL
			delete(req, "source")
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if strings.EqualFold(filepath.Ext(file), ".pdf") {
				req["type"] = "pdf"
				req["content"] = base64.StdEncoding.EncodeToString(data)
			} else {
				req["type"] = "text"
				req["content"] = string(data)
			}
			req["source"] = filepath.Base(file)
			if title == "" {
				req["title"] = filepath.Base(file)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), userPath("/ingest"), req)
		if err != nil {
			return err
		}
		var result struct {
			Title     string `json:"title"`
			Chars     int    `json:"chars"`
			Truncated bool   `json:"truncated"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored %q (%d chars)", result.Title, result.Chars)
		if result.Truncated {
			printWarning("content was truncated")
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest (.pdf files are parsed)")
	ingestCmd.Flags().String("title", "", "title for the note")
}

// --- consolidate ---

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Fold memory and the conversation log into the wiki",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Consolidating...")
		resp, err := client.post(cmd.Context(), userPath("/consolidate"), nil)
		if err != nil {
			return err
		}
		var result struct {
			Status string   `json:"status"`
			Files  []string `json:"files"`
			Added  int      `json:"added"`
			Tree   string   `json:"tree"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result.Status == "nothing_to_consolidate" {
			printWarning("Nothing to consolidate")
			return nil
		}
		printSuccess("Updated %d page(s), %d new fact(s)", len(result.Files), result.Added)
		if result.Tree != "" {
			fmt.Fprintln(stdout, result.Tree)
		}
		return nil
	},
}

// --- deliveries ---

var deliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "Inspect and retry reminder deliveries",
}

var deliveriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reminder deliveries",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		path := userPath("/deliveries")
		if status != "" {
			path += "?status=" + url.QueryEscape(status)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var list []storage.Delivery
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(stdout, "No deliveries found.")
			return nil
		}
		for _, d := range list {
			line := fmt.Sprintf("%-9s %d/%d  %s  %s",
				d.Status, d.Attempts, d.MaxAttempts,
				colorize(colorCyan, d.ReminderKey), d.ReminderText)
			if d.LastError != "" {
				line += colorize(colorRed, "  ("+d.LastError+")")
			}
			fmt.Fprintln(stdout, line)
		}
		return nil
	},
}

var deliveriesRetryCmd = &cobra.Command{
	Use:   "retry <key>",
	Short: "Requeue a failed delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), userPath("/deliveries/"+url.PathEscape(args[0])+"/retry"), nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Delivery %s queued for retry", args[0])
		return nil
	},
}

func init() {
	deliveriesListCmd.Flags().String("status", "", "filter by status: pending, delivered or dead")
	deliveriesCmd.AddCommand(deliveriesListCmd)
	deliveriesCmd.AddCommand(deliveriesRetryCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		if asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(keys)
		}
		for _, k := range keys {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret (llm.api_key, api.token) in the keychain",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configShowCmd.Flags().Bool("json", false, "print as JSON")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
