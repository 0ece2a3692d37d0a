// Package population aggregates census household files into municipal
// population counts and joins them with case counts.
package population

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dv-atlas/internal/ingest"
)

// Key identifies a municipality by department and municipality code.
type Key struct {
	Dept int
	Mpio int
}

// Less orders keys by department then municipality.
func (k Key) Less(o Key) bool {
	if k.Dept != o.Dept {
		return k.Dept < o.Dept
	}
	return k.Mpio < o.Mpio
}

// Count is the number of persons counted in one municipality.
type Count struct {
	Key
	Persons int64
}

// householdRow is the subset of a census household record that is summed.
type householdRow struct {
	Dept    int      `csv:"U_DPTO"`
	Mpio    int      `csv:"U_MPIO"`
	Persons quantity `csv:"HA_TOT_PER"`
}

// quantity decodes a possibly blank integer cell as zero.
type quantity int64

func (q *quantity) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*q = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return eris.Wrapf(err, "population: quantity %q", s)
	}
	*q = quantity(n)
	return nil
}

// Group sums HA_TOT_PER by (U_DPTO, U_MPIO) over every .csv file in dir,
// reading at most concurrency files at once. The result is sorted by key.
func Group(ctx context.Context, dir string, concurrency int) ([]Count, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "population: list %s", dir)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, eris.Errorf("population: no csv files in %s", dir)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	partials := make([]map[Key]int64, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, path := range files {
		g.Go(func() error {
			sums, err := sumFile(gctx, path)
			if err != nil {
				return err
			}
			partials[i] = sums
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := make(map[Key]int64)
	for _, p := range partials {
		for k, v := range p {
			total[k] += v
		}
	}
	out := make([]Count, 0, len(total))
	for k, v := range total {
		out = append(out, Count{Key: k, Persons: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })

	zap.L().Info("population: grouped census files",
		zap.Int("files", len(files)),
		zap.Int("municipalities", len(out)),
	)
	return out, nil
}

func sumFile(ctx context.Context, path string) (map[Key]int64, error) {
	rc, err := ingest.OpenText(path)
	if err != nil {
		return nil, eris.Wrap(err, "population: group")
	}
	defer rc.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rows, errs := ingest.StreamCSV(ctx, rc, ingest.CSVOptions{TrimSpace: true})

	dec, err := csvutil.NewDecoder(&rowReader{rows: rows, errs: errs})
	if err != nil {
		if err == io.EOF {
			return map[Key]int64{}, nil
		}
		return nil, eris.Wrapf(err, "population: header of %s", path)
	}

	sums := make(map[Key]int64)
	for {
		var r householdRow
		if err := dec.Decode(&r); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "population: decode %s", path)
		}
		sums[Key{Dept: r.Dept, Mpio: r.Mpio}] += int64(r.Persons)
	}

	zap.L().Debug("population: summed file",
		zap.String("path", path),
		zap.Int("municipalities", len(sums)),
	)
	return sums, nil
}

// rowReader adapts the streaming parser's channels to csvutil.Reader.
type rowReader struct {
	rows <-chan []string
	errs <-chan error
}

func (r *rowReader) Read() ([]string, error) {
	if row, ok := <-r.rows; ok {
		return row, nil
	}
	if err := <-r.errs; err != nil {
		return nil, err
	}
	return nil, io.EOF
}
