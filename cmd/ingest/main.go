// Command ingest posts plain-text documents to a running gateway.
//
// Each file argument becomes one document named after its base name. Text
// extraction from PDFs happens upstream; this tool only ships extracted
// text.
//
// Usage:
//
//	go run ./cmd/ingest -gateway http://localhost:8080 [-api-key KEY] [-id ID] file.txt [file.txt ...]
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

type ingestRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Text string `json:"text"`
}

func main() {
	gateway := flag.String("gateway", "http://localhost:8080", "gateway base URL")
	apiKey := flag.String("api-key", "", "API key, if the gateway requires one")
	id := flag.String("id", "", "explicit document ID (single-file ingest only)")
	timeout := flag.Duration("timeout", 10*time.Minute, "per-document request timeout")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingest [-gateway URL] [-api-key KEY] file.txt [file.txt ...]")
		os.Exit(2)
	}
	if *id != "" && len(files) > 1 {
		fmt.Fprintln(os.Stderr, "-id cannot be combined with multiple files")
		os.Exit(2)
	}

	client := &http.Client{Timeout: *timeout}
	failed := 0
	for _, path := range files {
		if err := ingestFile(client, *gateway, *apiKey, *id, path); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func ingestFile(client *http.Client, gateway, apiKey, id, path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	body, err := json.Marshal(ingestRequest{
		ID:   id,
		Name: filepath.Base(path),
		Path: path,
		Text: string(text),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, gateway+"/api/v1/ingest", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}
	fmt.Printf("%s → %s\n", path, bytes.TrimSpace(payload))
	return nil
}
