// Package importer streams blocks from a file to a blockledger server in order.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/manifest-network/blockledger/internal/models"
)

// Submitter accepts one block at a time.
type Submitter interface {
	SubmitBlock(ctx context.Context, b *models.Block) error
}

type Options struct {
	// Size is the input size in bytes, used to scale the progress bar. Zero means unknown.
	Size         int64
	ShowProgress bool
	// ContinueOnReject keeps going after the server rejects a block as invalid.
	ContinueOnReject bool
}

type Stats struct {
	Submitted  int
	Rejected   int
	LastHeight uint64
}

// Import decodes blocks from r and submits them in file order. Decoding runs
// ahead of submission by a few blocks.
func Import(ctx context.Context, r io.Reader, sub Submitter, opts Options) (Stats, error) {
	var stats Stats

	var bar *progressbar.ProgressBar
	if opts.ShowProgress {
		bar = newImportBar(opts.Size)
		if err := bar.RenderBlank(); err != nil {
			return stats, fmt.Errorf("failed to render progress bar: %w", err)
		}
		r = io.TeeReader(r, bar)
	}

	eg, ctx := errgroup.WithContext(ctx)
	blocks := make(chan *models.Block, 16)

	eg.Go(func() error {
		defer close(blocks)
		return Decode(r, func(b *models.Block) error {
			select {
			case blocks <- b:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	eg.Go(func() error {
		for b := range blocks {
			err := sub.SubmitBlock(ctx, b)
			if err == nil {
				stats.Submitted++
				stats.LastHeight = b.Height
				continue
			}
			if !isRejection(err) || !opts.ContinueOnReject {
				return fmt.Errorf("failed to import block %d: %w", b.Height, err)
			}
			stats.Rejected++
			slog.Warn("Block rejected", "height", b.Height, "id", b.ID, "error", err)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return stats, err
	}

	if bar != nil {
		if err := bar.Finish(); err != nil {
			return stats, fmt.Errorf("failed to finish progress bar: %w", err)
		}
	}

	slog.Info("Import finished", "submitted", stats.Submitted, "rejected", stats.Rejected, "lastHeight", stats.LastHeight)
	return stats, nil
}

// Decode reads either a JSON array of blocks or a stream of block objects,
// one per line or simply concatenated, and calls fn for each in order.
func Decode(r io.Reader, fn func(*models.Block) error) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("failed to read array start: %w", err)
		}
		for n := 0; dec.More(); n++ {
			var b models.Block
			if err := dec.Decode(&b); err != nil {
				return fmt.Errorf("failed to decode block #%d: %w", n, err)
			}
			if err := fn(&b); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("failed to read array end: %w", err)
		}
		return nil
	}

	for n := 0; ; n++ {
		var b models.Block
		err := dec.Decode(&b)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode block #%d: %w", n, err)
		}
		if err := fn(&b); err != nil {
			return err
		}
	}
}

// ReadFile decodes every block in the file at path.
func ReadFile(path string) ([]*models.Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var blocks []*models.Block
	err = Decode(f, func(b *models.Block) error {
		blocks = append(blocks, b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return blocks, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		c, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return c, br.UnreadByte()
	}
}

func isRejection(err error) bool {
	var r interface{ Rejected() bool }
	return errors.As(err, &r) && r.Rejected()
}

func newImportBar(size int64) *progressbar.ProgressBar {
	if size <= 0 {
		size = -1
	}
	return progressbar.NewOptions64(
		size,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetDescription("Importing blocks..."),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
