package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/security"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// ToolExportPurchaseOrders writes proposed purchase orders to disk.
const ToolExportPurchaseOrders = "export_purchase_orders"

// purchaseOrderFile is the document written by the export tool.
type purchaseOrderFile struct {
	OrgID       string        `json:"org_id"`
	ExecutionID string        `json:"execution_id"`
	CreatedAt   time.Time     `json:"created_at"`
	Lines       []ReorderLine `json:"lines"`
}

// ExportPurchaseOrdersTool returns the export_purchase_orders tool. It
// writes one JSON document per call into dir and returns its path. Inside
// a sandbox the write counts against the file limits and the staging file
// is removed even when the call fails.
func ExportPurchaseOrdersTool(now func() time.Time) tool.Tool {
	if now == nil {
		now = time.Now
	}
	return &tool.Func{
		ToolName:        ToolExportPurchaseOrders,
		ToolDescription: "Writes proposed purchase orders as a JSON document into a directory.",
		Params: []tool.Parameter{
			{Name: "dir", Type: tool.TypeString, Description: "Target directory", Required: true},
			{Name: "lines", Type: tool.TypeArray, Description: "Purchase order lines", Required: true},
		},
		Fn: func(ctx context.Context, inv tool.Invocation, params map[string]any) (*tool.Result, error) {
			dir, _ := params["dir"].(string)
			lines, err := decodeLines(params["lines"])
			if err != nil {
				return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "decode purchase order lines")
			}
			at := now().UTC()
			doc, err := json.MarshalIndent(purchaseOrderFile{
				OrgID: inv.OrgID, ExecutionID: inv.ExecutionID, CreatedAt: at, Lines: lines,
			}, "", "  ")
			if err != nil {
				return nil, sserr.Wrap(err, sserr.CodeInternal, "encode purchase orders")
			}
			name := fmt.Sprintf("purchase_orders_%s_%s.json",
				strings.ReplaceAll(inv.OrgID, string(filepath.Separator), "_"), at.Format("20060102T150405.000"))
			path, err := writeFileAtomic(ctx, dir, name, doc)
			if err != nil {
				return nil, err
			}
			return tool.OK(path).WithMetadata("lines", len(lines)).WithMetadata("bytes", len(doc)), nil
		},
	}
}

func decodeLines(v any) ([]ReorderLine, error) {
	if lines, ok := v.([]ReorderLine); ok {
		return lines, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var lines []ReorderLine
	return lines, json.Unmarshal(raw, &lines)
}

// writeFileAtomic stages data in a temporary file of dir and renames it to
// name. Inside a sandbox the write and the staging file each count as a
// file operation. Sandbox violations are returned unchanged.
func writeFileAtomic(ctx context.Context, dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", sserr.Wrap(err, sserr.CodeInternal, "create export directory")
	}
	create := os.CreateTemp
	if m, ok := security.MonitorFromContext(ctx); ok {
		if err := m.RecordFileOp(int64(len(data))); err != nil {
			return "", err
		}
		create = m.CreateTemp
	}
	f, err := create(dir, ".export-*")
	if err != nil {
		if sserr.IsSandboxViolation(err) {
			return "", err
		}
		return "", sserr.Wrap(err, sserr.CodeInternal, "create staging file")
	}
	staged := f.Name()
	_, werr := f.Write(data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	final := filepath.Join(dir, name)
	if werr == nil {
		werr = os.Rename(staged, final)
	}
	if werr != nil {
		_ = os.Remove(staged)
		return "", sserr.Wrap(werr, sserr.CodeInternal, "write export file")
	}
	return final, nil
}
