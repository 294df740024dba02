package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"tracksession-go/internal/ingest"
	"tracksession-go/internal/processing"
	"tracksession-go/internal/types"
)

func main() {
	path := flag.String("path", "", "Path to a CBOR message file or a directory of them")
	limit := flag.Int("limit", 5, "Max number of frames to describe per stream")
	flag.Parse()

	if *path == "" {
		log.Fatal("missing -path")
	}

	files, err := listFiles(*path)
	if err != nil {
		log.Fatalf("list files: %v", err)
	}

	counts := make(map[types.StreamKind]int)
	var modes, failed int

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			log.Printf("read %s: %v", file, err)
			continue
		}

		msg, err := ingest.DecodeMessage(data)
		if err != nil {
			failed++
			log.Printf("decode %s: %v", file, err)
			continue
		}

		if msg.Type == "mode" {
			modes++
			fmt.Printf("mode: %s\n", file)
			fmt.Printf("  %s: %dx%d @ %d fps\n", msg.Stream, msg.Mode.XRes, msg.Mode.YRes, msg.Mode.FPS)
			continue
		}

		kind := msg.Frame.Kind
		counts[kind]++
		if counts[kind] > *limit {
			continue
		}
		fmt.Printf("%s: %s\n", kind, file)
		fmt.Printf("  seq: %d\n", msg.Frame.Seq)
		summary, err := json.Marshal(processing.Summarize(msg.Frame))
		if err == nil {
			fmt.Printf("  summary: %s\n", summary)
		}
	}

	fmt.Print("summary:")
	for _, kind := range types.StreamOrder {
		fmt.Printf(" %s=%d", kind, counts[kind])
	}
	fmt.Printf(" mode=%d failed=%d\n", modes, failed)
}

func listFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) == ".cbor" {
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
