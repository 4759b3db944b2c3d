package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/sangam/internal/config"
	"github.com/kalambet/sangam/internal/watcher"
)

// receipt mirrors the upload response.
type receipt struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	JobID  string `json:"job_id"`
	Table  *struct {
		Shape   [2]int              `json:"shape"`
		Columns []string            `json:"columns"`
		Preview []map[string]string `json:"preview"`
	} `json:"table,omitempty"`
}

type fileItem struct {
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	Size        int       `json:"size"`
	ContentType string    `json:"content_type"`
	Ready       bool      `json:"ready"`
	CreatedAt   time.Time `json:"created_at"`
}

type answer struct {
	Answer             string `json:"answer"`
	StandaloneQuestion string `json:"standalone_question"`
	SourceChunks       []struct {
		Text   string  `json:"text"`
		Page   int     `json:"page"`
		Source string  `json:"source"`
		Score  float64 `json:"score"`
	} `json:"source_chunks"`
}

type turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func printReceipt(r receipt) {
	printSuccess("Queued %s %s (job %s)", r.Kind, r.Name, r.JobID)
	if r.Table != nil {
		printStatus("Shape", "%d rows x %d columns", r.Table.Shape[0], r.Table.Shape[1])
		printStatus("Columns", "%s", strings.Join(r.Table.Columns, ", "))
	}
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload content to ask questions about",
	Long: `Upload content to ask questions about.

Examples:
  sangam upload document ./handbook.pdf
  sangam upload table ./sales.csv
  sangam upload transcript --url https://www.youtube.com/watch?v=abc123 --file ./captions.txt`,
}

var uploadDocumentCmd = &cobra.Command{
	Use:   "document <path>",
	Short: "Upload a PDF, text, markdown, or HTML document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return uploadFile(cmd.Context(), "/upload/document", args[0])
	},
}

var uploadTableCmd = &cobra.Command{
	Use:   "table <path>",
	Short: "Upload a CSV table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return uploadFile(cmd.Context(), "/upload/table", args[0])
	},
}

var uploadTranscriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Upload a video transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		videoURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		text, _ := cmd.Flags().GetString("text")

		if videoURL == "" {
			return fmt.Errorf("--url is required")
		}

		content := text
		switch {
		case file == "-":
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			content = string(data)
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			content = string(data)
		}
		if strings.TrimSpace(content) == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/upload/transcript", map[string]string{"url": videoURL, "content": content})
		if err != nil {
			return err
		}
		var r receipt
		if err := decodeJSON(resp, &r); err != nil {
			return err
		}
		printReceipt(r)
		return nil
	},
}

func uploadFile(ctx context.Context, endpoint, path string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.upload(ctx, endpoint, path)
	if err != nil {
		return err
	}
	var r receipt
	if err := decodeJSON(resp, &r); err != nil {
		return err
	}
	printReceipt(r)
	return nil
}

func init() {
	uploadTranscriptCmd.Flags().String("url", "", "video URL the transcript belongs to")
	uploadTranscriptCmd.Flags().String("file", "", "file holding the transcript text (- for stdin)")
	uploadTranscriptCmd.Flags().String("text", "", "transcript text")
	uploadCmd.AddCommand(uploadDocumentCmd)
	uploadCmd.AddCommand(uploadTableCmd)
	uploadCmd.AddCommand(uploadTranscriptCmd)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <name> [question]",
	Short: "Ask a question about an uploaded item",
	Long: `Ask a question about an uploaded item.

Without a question, an interactive session starts; an empty line ends it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showSources, _ := cmd.Flags().GetBool("sources")
		name := args[0]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) > 1 {
			return askOnce(cmd.Context(), client, os.Stdout, name, strings.Join(args[1:], " "), showSources)
		}

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Fprint(os.Stderr, colorize(colorCyan, "? "))
			if !scanner.Scan() {
				return scanner.Err()
			}
			q := strings.TrimSpace(scanner.Text())
			if q == "" {
				return nil
			}
			if err := askOnce(cmd.Context(), client, os.Stdout, name, q, showSources); err != nil {
				printError("%v", err)
			}
		}
	},
}

func askOnce(ctx context.Context, client *apiClient, w io.Writer, name, question string, showSources bool) error {
	resp, err := client.post(ctx, "/chat/"+url.PathEscape(name), map[string]string{"question": question})
	if err != nil {
		return err
	}
	var a answer
	if err := decodeJSON(resp, &a); err != nil {
		return err
	}

	fmt.Fprintln(w, a.Answer)
	if showSources {
		for i, s := range a.SourceChunks {
			text := s.Text
			if len(text) > 200 {
				text = text[:200] + "..."
			}
			fmt.Fprintf(w, "\n%s %s p.%d [score: %.3f]\n  %s\n",
				colorize(colorBold, fmt.Sprintf("Source %d", i+1)), s.Source, s.Page, s.Score, text)
		}
	}
	return nil
}

func init() {
	askCmd.Flags().Bool("sources", false, "print the passages the answer was based on")
}

// --- files ---

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage uploaded content",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded content",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/files")
		if err != nil {
			return err
		}
		var items []fileItem
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}
		printFiles(os.Stdout, items)
		return nil
	},
}

func printFiles(w io.Writer, items []fileItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No content uploaded.")
		return
	}
	for _, it := range items {
		state := colorize(colorGreen, "ready")
		if !it.Ready {
			state = colorize(colorYellow, "indexing")
		}
		fmt.Fprintf(w, "%-10s  %-9s  %8s  %s  %s\n",
			it.Kind, state, humanSize(it.Size), it.CreatedAt.Local().Format("2006-01-02 15:04"), it.Name)
	}
}

func humanSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

var filesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an item, its index, and its conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), filePath(args[0], ""))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var filesSourceCmd = &cobra.Command{
	Use:   "source <name>",
	Short: "Write the original uploaded bytes to stdout or a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), filePath(args[0], "/source"))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			return decodeJSON(resp, nil)
		}
		defer resp.Body.Close()

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Wrote %s", output)
		}
		return nil
	},
}

var filesTableCmd = &cobra.Command{
	Use:   "table <name>",
	Short: "Show a stored table as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), filePath(args[0], "/table"))
		if err != nil {
			return err
		}
		var table any
		if err := decodeJSON(resp, &table); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(table)
	},
}

func init() {
	filesSourceCmd.Flags().StringP("output", "o", "", "output file path (default: stdout)")
	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesDeleteCmd)
	filesCmd.AddCommand(filesSourceCmd)
	filesCmd.AddCommand(filesTableCmd)
}

// --- summary ---

var summaryCmd = &cobra.Command{
	Use:   "summary <name>",
	Short: "Summarize an uploaded transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), filePath(args[0], "/summary"), nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Println(result["summary"])
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear the conversation about an item",
}

var historyShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show the conversation about an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/chat/"+url.PathEscape(args[0])+"/history")
		if err != nil {
			return err
		}
		var turns []turn
		if err := decodeJSON(resp, &turns); err != nil {
			return err
		}
		printTurns(os.Stdout, turns)
		return nil
	},
}

func printTurns(w io.Writer, turns []turn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No conversation yet.")
		return
	}
	for _, t := range turns {
		label := colorize(colorCyan, "you")
		if t.Role == "assistant" {
			label = colorize(colorGreen, "sangam")
		}
		fmt.Fprintf(w, "%s: %s\n", label, t.Content)
	}
}

var historyClearCmd = &cobra.Command{
	Use:   "clear <name>",
	Short: "Forget the conversation about an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/chat/"+url.PathEscape(args[0])+"/history")
		if err != nil {
			return err
		}
		var result struct {
			Removed int `json:"removed"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Cleared %d turns", result.Removed)
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyClearCmd)
}

// --- job ---

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show the state of an indexing job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var job struct {
			Status    string `json:"status"`
			Attempts  int    `json:"attempts"`
			LastError string `json:"last_error"`
		}
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printStatus("Status", "%s", job.Status)
		printStatus("Attempts", "%d", job.Attempts)
		if job.LastError != "" {
			printStatus("Last error", "%s", job.LastError)
		}
		return nil
	},
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Upload files as they appear or change in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, _ := cmd.Flags().GetDuration("quiet")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		w, err := watcher.New(watcher.DefaultExtensions, quiet)
		if err != nil {
			return err
		}
		defer w.Close()

		ctx := cmd.Context()
		events, err := w.Watch(ctx, args[0])
		if err != nil {
			return err
		}
		printStep("Watching %s (Ctrl-C to stop)", args[0])

		for ev := range events {
			resp, err := client.upload(ctx, uploadEndpoint(ev.Path), ev.Path)
			if err != nil {
				printError("%s: %v", filepath.Base(ev.Path), err)
				continue
			}
			var r receipt
			if err := decodeJSON(resp, &r); err != nil {
				printError("%s: %v", filepath.Base(ev.Path), err)
				continue
			}
			printReceipt(r)
		}
		return nil
	},
}

// uploadEndpoint picks the upload route for a watched file.
func uploadEndpoint(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return "/upload/table"
	}
	return "/upload/document"
}

func init() {
	watchCmd.Flags().Duration("quiet", watcher.DefaultQuiet, "wait this long after the last write before uploading")
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
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nValid keys: " + strings.Join(config.ValidKeys(), ", "),
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

var configSetKeyCmd = &cobra.Command{
	Use:   "set-openrouter-key <key>",
	Short: "Store the OpenRouter API key in the secrets file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetOpenRouterKey(config.NewSecretStore(), args[0]); err != nil {
			return err
		}
		printSuccess("OpenRouter API key stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetKeyCmd)
}
