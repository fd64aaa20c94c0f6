// Command mock_camera stands in for the microscope camera: it publishes image
// files as live frames to a station, cycling through them until stopped.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mala-sight/models"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true}

func main() {
	dir := flag.String("dir", "samples", "Directory containing images to publish (ignored if -file is set)")
	file := flag.String("file", "", "Single image to publish repeatedly (overrides -dir)")
	station := flag.String("url", "http://localhost:8080", "Station origin")
	stream := flag.String("stream", "stream1", "Stream id to publish to")
	interval := flag.Duration("interval", time.Second, "Delay between frames")
	count := flag.Int("n", 0, "Number of frames to publish (0 = forever)")
	flag.Parse()

	files, err := resolveFiles(*file, *dir)
	if err != nil {
		log.Fatalf("failed to resolve files: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("no images found (file=%s dir=%s)", *file, *dir)
	}

	endpoint := strings.TrimRight(*station, "/") + "/api/streams/" + *stream
	client := &http.Client{Timeout: 10 * time.Second}

	fmt.Printf("Publishing %d image(s) to %s every %s\n\n", len(files), endpoint, *interval)
	for sent := 0; *count == 0 || sent < *count; sent++ {
		path := files[sent%len(files)]
		if err := publishFrame(client, path, endpoint); err != nil {
			log.Printf("publish failed for %s: %v\n", path, err)
		}
		if *interval > 0 {
			time.Sleep(*interval)
		}
	}
}

func resolveFiles(single, dir string) ([]string, error) {
	if single != "" {
		return []string{single}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !imageExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func publishFrame(client *http.Client, path, endpoint string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	frame := models.LiveFrame{
		Frame: "data:" + http.DetectContentType(raw) + ";base64," + base64.StdEncoding.EncodeToString(raw),
		TS:    time.Now().UnixMilli(),
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("put frame: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("station returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Printf("→ %s (%d bytes)\n", filepath.Base(path), len(raw))
	return nil
}
