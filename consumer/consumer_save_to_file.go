package consumer

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// SaveSalesOrderToFile writes each mapped document into a local
// directory instead of calling Netvisor. Used as the mock destination so
// the whole pipeline can be exercised without Netvisor credentials; the
// sync service treats the write like a successful submission (with no
// destination key).
type SaveSalesOrderToFile struct {
	outDir string
	now    func() time.Time
	seq    int
}

func NewSaveSalesOrderToFile(config map[string]interface{}) (*SaveSalesOrderToFile, error) {
	outDir, ok := config["out_dir"].(string)
	if !ok || outDir == "" {
		return nil, errors.New("out_dir is required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating output directory %s", outDir)
	}
	return &SaveSalesOrderToFile{outDir: outDir, now: time.Now}, nil
}

func (c *SaveSalesOrderToFile) SubmitSalesOrder(ctx context.Context, xmlDoc []byte) (SubmitResult, error) {
	c.seq++
	name := fmt.Sprintf("salesorder_%s_%03d.xml", c.now().UTC().Format("20060102T150405Z"), c.seq)
	path := filepath.Join(c.outDir, name)

	if err := os.WriteFile(path, xmlDoc, 0o644); err != nil {
		return SubmitResult{}, errors.Wrapf(err, "writing sales order document %s", path)
	}

	log.Printf("Wrote sales order document to %s", path)
	return SubmitResult{StatusCode: http.StatusOK}, nil
}
