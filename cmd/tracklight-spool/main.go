// Command tracklight-spool submits entity batches to a running tracklight-web
// process through the shared spool directory. It reads a JSON document of the
// form {"entities": [...]} from a file or stdin and drops it into
// {data_path}/spool/ for the watcher to pick up.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"

	"github.com/tracklight/tracklight/internal/config"
	"github.com/tracklight/tracklight/internal/spool"
	"github.com/tracklight/tracklight/pkg/types"
)

var (
	inputPath = flag.String("file", "-", "Path to JSON batch file, or - for stdin")
	dataPath  = flag.String("data", "", "Data directory containing the spool (overrides config)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	dir := cfg.Storage.DataPath
	if *dataPath != "" {
		dir = *dataPath
	}

	var in io.Reader = os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			log.Fatalf("Failed to open input: %v", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	var batch struct {
		Entities []*types.TimelineEntity `json:"entities"`
	}
	if err := json.NewDecoder(in).Decode(&batch); err != nil {
		log.Fatalf("Failed to parse batch: %v", err)
	}
	if len(batch.Entities) == 0 {
		log.Fatal("Batch contains no entities")
	}

	writer := spool.NewBatchWriter(dir)
	batchID, err := writer.Write(batch.Entities)
	if err != nil {
		log.Fatalf("Failed to write batch: %v", err)
	}

	log.Printf("Spooled %d entities (batch %s)", len(batch.Entities), batchID)
}
