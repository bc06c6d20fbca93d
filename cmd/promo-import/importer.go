package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/gameshop-promo/internal/domain/promo"
)

const (
	minCodeLen    = 4
	maxCodeLen    = 32
	progressEvery = 1_000_000
)

// creator is the registry operation the importer writes through.
type creator interface {
	Create(ctx context.Context, in promo.Input) (*promo.Code, error)
}

type importer struct {
	files    []string
	template promo.Input
	registry creator
	workers  int
	capacity uint
	fpr      float64
}

// stats summarises an import run.
type stats struct {
	Scanned    uint64
	Collisions int
	Created    uint64
	Skipped    uint64
}

func (im *importer) run(ctx context.Context) (stats, error) {
	var st stats

	// Pass 1: one bloom filter per file.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(im.files)))

	filters, scanned, err := im.buildFilters(ctx)
	if err != nil {
		return st, errors.Wrap(err, "build bloom filters")
	}
	st.Scanned = scanned

	// Pass 2: exact check of codes another file's filter claims to contain.
	slog.Info("pass 2: confirming cross-file collisions")

	collisions, err := im.findCollisions(ctx, filters)
	if err != nil {
		return st, errors.Wrap(err, "find collisions")
	}
	st.Collisions = len(collisions)

	slog.Info("collisions confirmed", slog.Int("count", len(collisions)))

	// Pass 3: register everything else.
	created, skipped, err := im.createCodes(ctx, collisions)
	st.Created, st.Skipped = created, skipped
	if err != nil {
		return st, errors.Wrap(err, "create codes")
	}
	return st, nil
}

func (im *importer) buildFilters(ctx context.Context) ([]*bloom.BloomFilter, uint64, error) {
	filters := make([]*bloom.BloomFilter, len(im.files))
	var total atomic.Uint64

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range im.files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(im.capacity, im.fpr)
			var count uint64

			if err := streamCodes(ctx, path, func(code string) error {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Uint64("codes", count))
				}
				return nil
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}

			slog.Info("pass 1 complete", slog.String("file", path), slog.Uint64("total_codes", count))
			filters[i] = filter
			total.Add(count)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return filters, total.Load(), nil
}

// findCollisions returns the codes present in more than one file. Bloom
// positives are only candidates; a code is a collision once it was seen in
// at least two files during the rescan.
func (im *importer) findCollisions(ctx context.Context, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	results := make([]map[string]uint, len(im.files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range im.files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)

			if err := streamCodes(ctx, path, func(code string) error {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= fileBit
						break
					}
				}
				return nil
			}); err != nil {
				return errors.Wrapf(err, "scan %s for candidates", path)
			}

			slog.Info("pass 2 complete", slog.String("file", path), slog.Int("candidates", len(candidates)))
			results[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}

	collisions := make(map[string]struct{})
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			collisions[code] = struct{}{}
		}
	}
	return collisions, nil
}

func (im *importer) createCodes(ctx context.Context, collisions map[string]struct{}) (created, skipped uint64, _ error) {
	var nCreated, nSkipped atomic.Uint64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(im.workers, 1))

	var scanErr error
	for _, path := range im.files {
		scanErr = streamCodes(gctx, path, func(code string) error {
			if _, ok := collisions[code]; ok {
				nSkipped.Add(1)
				return nil
			}
			in := im.template
			in.Code = code
			g.Go(func() error {
				_, err := im.registry.Create(gctx, in)
				switch {
				case errors.Is(err, promo.ErrCodeExists):
					nSkipped.Add(1)
					return nil
				case err != nil:
					return errors.Wrapf(err, "create %s", code)
				}
				if n := nCreated.Add(1); n%progressEvery == 0 {
					slog.Info("pass 3 progress", slog.Uint64("created", n))
				}
				return nil
			})
			return nil
		})
		if scanErr != nil {
			break
		}
	}

	if err := g.Wait(); err != nil {
		return nCreated.Load(), nSkipped.Load(), err
	}
	return nCreated.Load(), nSkipped.Load(), scanErr
}

// streamCodes calls fn for each normalised code in a gzip-compressed file,
// skipping blank lines and codes outside the accepted length.
func streamCodes(ctx context.Context, path string, fn func(code string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := promo.NormalizeCode(scanner.Text())
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			continue
		}
		if err := fn(code); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
