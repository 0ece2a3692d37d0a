package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, rows <-chan []string, errs <-chan error) ([][]string, error) {
	t.Helper()
	var out [][]string
	for r := range rows {
		out = append(out, r)
	}
	return out, <-errs
}

func TestStreamCSV_Header(t *testing.T) {
	in := "\xEF\xBB\xBFU_DPTO,U_MPIO,HA_TOT_PER\n05,001,3\n05,002, 4 \n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(in), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})
	rows, err := drain(t, rowCh, errCh)
	require.NoError(t, err)

	assert.Equal(t, []string{"U_DPTO", "U_MPIO", "HA_TOT_PER"}, <-headerCh)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"05", "002", "4"}, rows[1])
}

func TestStreamCSV_HeaderOnly(t *testing.T) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("CODIGO DANE,CANTIDAD\n"), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	rows, err := drain(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, []string{"CODIGO DANE", "CANTIDAD"}, <-headerCh)
}

func TestStreamCSV_HeaderDiscarded(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a;b\n1;2\n"), CSVOptions{
		Delimiter: ';',
		HasHeader: true,
	})
	rows, err := drain(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2"}}, rows)
}

func TestStreamCSV_VariableFields(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a,b,c\n1\n"), CSVOptions{})
	rows, err := drain(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[1], 1)
}

func TestStreamCSV_ParseError(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a,\"b\n"), CSVOptions{})
	_, err := drain(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: csv line")
}

func TestStreamCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a\nb\n"), CSVOptions{})
	_, err := drain(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
}

func TestOpenText_StripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.csv")
	require.NoError(t, os.WriteFile(path, []byte("\xEF\xBB\xBFCODIGO DANE,CANTIDAD\n"), 0o644))

	rc, err := OpenText(path)
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "CODIGO DANE,CANTIDAD\n", string(data))
}

func TestOpenText_Missing(t *testing.T) {
	_, err := OpenText(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
