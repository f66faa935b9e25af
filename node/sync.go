package node

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/180945/btcrelay/consensus"
	"github.com/180945/btcrelay/relay"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// headerSink is the part of Service the importer drives.
type headerSink interface {
	SubmitHeaders(headers [][]byte) (*relay.BatchResult, error)
	Header(hash chainhash.Hash) (*relay.HeaderRecord, bool, error)
}

// ImportSummary reports what an import did.
type ImportSummary struct {
	Read     int
	Skipped  int
	Accepted int
	Batches  int
	Reorgs   int

	BestBlock  chainhash.Hash
	BestHeight uint32
}

// HeaderImporter feeds a stream of hex-encoded headers, one per line, into
// the relay in fixed-size batches. Headers the relay already stores are
// skipped, so an interrupted import can simply be rerun.
type HeaderImporter struct {
	sink       headerSink
	batchLimit int
}

func NewHeaderImporter(sink headerSink, batchLimit int) (*HeaderImporter, error) {
	if sink == nil {
		return nil, errors.New("nil header sink")
	}
	if batchLimit <= 0 {
		batchLimit = defaultBatchSize
	}
	return &HeaderImporter{sink: sink, batchLimit: batchLimit}, nil
}

// Import reads r to EOF. Blank lines and lines starting with '#' are
// ignored, as are repeats of a header already queued in the current batch. On error the summary covers the batches committed so far.
func (im *HeaderImporter) Import(ctx context.Context, r io.Reader) (*ImportSummary, error) {
	summary := &ImportSummary{}
	batch := make([][]byte, 0, im.batchLimit)
	queued := make(map[chainhash.Hash]struct{}, im.batchLimit)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := im.sink.SubmitHeaders(batch)
		if err != nil {
			return fmt.Errorf("batch %d: %w", summary.Batches+1, err)
		}
		summary.Batches++
		summary.Accepted += len(res.Hashes)
		summary.Reorgs += len(res.Reorgs)
		summary.BestBlock = res.State.BestBlock
		summary.BestHeight = res.State.BestHeight
		log.Infof("Imported batch %d (%d headers), best height %d", summary.Batches, len(res.Hashes), res.State.BestHeight)
		batch = batch[:0]
		clear(queued)
		return nil
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, err := hexDecodeStrict(line)
		if err != nil {
			return summary, fmt.Errorf("line %d: %w", lineNo, err)
		}
		hash, err := consensus.HashHeader(raw)
		if err != nil {
			return summary, fmt.Errorf("line %d: %w", lineNo, err)
		}
		summary.Read++

		if _, dup := queued[hash]; dup {
			summary.Skipped++
			continue
		}
		_, known, err := im.sink.Header(hash)
		if err != nil {
			return summary, err
		}
		if known {
			summary.Skipped++
			continue
		}

		queued[hash] = struct{}{}
		batch = append(batch, raw)
		if len(batch) >= im.batchLimit {
			if err := flush(); err != nil {
				return summary, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read headers: %w", err)
	}
	if err := flush(); err != nil {
		return summary, err
	}
	return summary, nil
}

func hexDecodeStrict(s string) ([]byte, error) {
	cleaned := strings.Join(strings.Fields(s), "")
	return hex.DecodeString(cleaned)
}
