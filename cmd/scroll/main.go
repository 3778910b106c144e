// Command scroll is a small client for the Scroll API. Its one subcommand,
// cat, prints a document's head content to stdout:
//
//	scroll -addr http://localhost:8080 -token sct_... cat <documentId>
//
// The token flag accepts a scoped access token or a session token; both fall
// back to the SCROLL_TOKEN environment variable.
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

func main() {
	addr := flag.String("addr", envOr("SCROLL_ADDR", "http://localhost:8080"), "API base URL")
	token := flag.String("token", os.Getenv("SCROLL_TOKEN"), "bearer credential")
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 || args[0] != "cat" {
		fmt.Fprintln(os.Stderr, "usage: scroll [-addr URL] [-token TOKEN] cat <documentId>")
		os.Exit(2)
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "scroll: no credential (set -token or SCROLL_TOKEN)")
		os.Exit(2)
	}

	if err := catDocument(*addr, *token, args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "scroll: %v\n", err)
		os.Exit(1)
	}
}

func catDocument(addr, token, documentID string) error {
	url := strings.TrimRight(addr, "/") + "/api/documents/" + documentID
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	fmt.Println(payload.Content)
	return nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
