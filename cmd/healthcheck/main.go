// Command healthcheck probes the monitor's /healthz endpoint and exits
// non-zero when it is unreachable or unhealthy. It is used as a container
// HEALTHCHECK.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://localhost:8080/healthz"

func main() {
	if err := probe(context.Background(), targetURL()); err != nil {
		log.Printf("healthcheck failed: %v", err)
		os.Exit(1)
	}
}

func targetURL() string {
	if u := os.Getenv("HEALTHCHECK_URL"); u != "" {
		return u
	}
	return defaultURL
}

type statusError int

func (e statusError) Error() string { return "unexpected status " + http.StatusText(int(e)) }

func probe(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	return nil
}
