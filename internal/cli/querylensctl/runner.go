package querylensctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// requestError marks failures that happened after the command line was
// accepted. They exit with 1 rather than the usage code 2.
type requestError struct {
	err error
}

func (e *requestError) Error() string {
	return e.err.Error()
}

func (e *requestError) Unwrap() error {
	return e.err
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	stdout  io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := newRootCommand(defaults, stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		_, _ = fmt.Fprintln(stderr, reqErr.Error())
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
	_, _ = fmt.Fprint(stderr, root.UsageString())
	return 2
}

func newRootCommand(defaults Options, stdout io.Writer) *cobra.Command {
	var (
		baseURL string
		apiKey  string
		timeout time.Duration
		table   string
	)
	c := &client{stdout: stdout}

	root := &cobra.Command{
		Use:           "querylensctl",
		Short:         "Command line client for the querylens API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			c.baseURL = strings.TrimRight(baseURL, "/")
			c.apiKey = strings.TrimSpace(apiKey)
			c.http = defaults.HTTPClient
			if c.http == nil {
				c.http = &http.Client{Timeout: timeout}
			}
		},
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querylens API base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	root.PersistentFlags().DurationVar(&timeout, "timeout", durationOr(defaults.Timeout, 90*time.Second), "HTTP timeout (e.g. 90s)")

	withTable := func(cmd *cobra.Command) *cobra.Command {
		cmd.Flags().StringVar(&table, "table", "", "uploaded table to query instead of the default table")
		return cmd
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "GET /v1/health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.getJSON(cmd.Context(), "/v1/health")
			},
		},
		&cobra.Command{
			Use:   "ready",
			Short: "GET /v1/ready",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.getJSON(cmd.Context(), "/v1/ready")
			},
		},
		&cobra.Command{
			Use:   "suggestions [filter]",
			Short: "GET /v1/suggestions",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := "/v1/suggestions"
				if len(args) == 1 {
					path += "?" + url.Values{"q": {args[0]}}.Encode()
				}
				return c.getJSON(cmd.Context(), path)
			},
		},
		withTable(&cobra.Command{
			Use:   "schema",
			Short: "GET /v1/schema",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path := "/v1/schema"
				if table != "" {
					path += "?" + url.Values{"table": {table}}.Encode()
				}
				return c.getJSON(cmd.Context(), path)
			},
		}),
		withTable(&cobra.Command{
			Use:   "ask <question>",
			Short: "POST /v1/ask",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.postJSON(cmd.Context(), "/v1/ask", map[string]any{"question": args[0], "table": table})
			},
		}),
		withTable(&cobra.Command{
			Use:   "generate <question>",
			Short: "POST /v1/query/generate",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.postJSON(cmd.Context(), "/v1/query/generate", map[string]any{"question": args[0], "table": table})
			},
		}),
		&cobra.Command{
			Use:   "run <sql>",
			Short: "POST /v1/query/run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.postJSON(cmd.Context(), "/v1/query/run", map[string]any{"sql": args[0]})
			},
		},
		withTable(&cobra.Command{
			Use:   "explain <question> <sql>",
			Short: "POST /v1/explain",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.postJSON(cmd.Context(), "/v1/explain", map[string]any{"question": args[0], "sql": args[1], "table": table})
			},
		}),
		&cobra.Command{
			Use:   "chat <message>",
			Short: "POST /v1/chat",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.postJSON(cmd.Context(), "/v1/chat", map[string]any{"message": args[0]})
			},
		},
		&cobra.Command{
			Use:   "upload <file.csv>",
			Short: "POST /v1/upload",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.upload(cmd.Context(), args[0])
			},
		},
	)
	return root
}

func (c *client) getJSON(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodGet, path, "", nil)
}

func (c *client) postJSON(ctx context.Context, path string, payload map[string]any) error {
	if table, ok := payload["table"]; ok && table == "" {
		delete(payload, "table")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &requestError{err: fmt.Errorf("encode request: %w", err)}
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body))
}

func (c *client) upload(ctx context.Context, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return &requestError{err: fmt.Errorf("open upload file: %w", err)}
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return &requestError{err: err}
	}
	if _, err := io.Copy(part, file); err != nil {
		return &requestError{err: fmt.Errorf("read upload file: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return &requestError{err: err}
	}
	return c.do(ctx, http.MethodPost, "/v1/upload", writer.FormDataContentType(), &body)
}

func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	if resp.StatusCode >= 400 {
		return &requestError{err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))}
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(c.stdout, string(responseBody))
	}
	return nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
