package publish

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cosmo-local-credit/saleops/atomicfile"
	"github.com/cosmo-local-credit/saleops/config"
)

// ReportPath places the report next to the input: sale.yml ->
// sale.deployed.yaml. A report given as input maps to itself.
func ReportPath(input string) string {
	dir, base := filepath.Split(input)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.TrimSuffix(name, ".deployed")
	return filepath.Join(dir, name+".deployed.yaml")
}

// WriteReport serializes the document in its input format, keeping
// environment and contract order.
func WriteReport(path string, doc *config.Document) error {
	data, err := doc.Bytes()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
