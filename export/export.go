// Package export writes flat records to .xlsx workbooks. It carries no
// business logic; callers build the rows.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"github.com/warp/slot-admin/cash"
)

// ContentType is the MIME type of the written workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sheet is one worksheet: a header row followed by data rows.
type Sheet struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// WriteXLSX writes sheets as one workbook to w. The first sheet is active.
func WriteXLSX(w io.Writer, sheets ...Sheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("export: no sheets")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, sh := range sheets {
		index, err := f.NewSheet(sh.Name)
		if err != nil {
			return fmt.Errorf("export: new sheet %q: %w", sh.Name, err)
		}
		if i == 0 {
			f.SetActiveSheet(index)
		}
		for col, header := range sh.Columns {
			cell, err := excelize.CoordinatesToCellName(col+1, 1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sh.Name, cell, header); err != nil {
				return err
			}
		}
		for r, row := range sh.Rows {
			for col, v := range row {
				cell, err := excelize.CoordinatesToCellName(col+1, r+2)
				if err != nil {
					return err
				}
				if err := f.SetCellValue(sh.Name, cell, v); err != nil {
					return err
				}
			}
		}
	}
	if sheets[0].Name != "Sheet1" {
		f.DeleteSheet("Sheet1")
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write workbook: %w", err)
	}
	return nil
}

// FileName returns "<prefix>_<YYYYMMDD>.xlsx".
func FileName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s_%s.xlsx", prefix, at.Format("20060102"))
}

var withdrawalStatusLabel = map[cash.WithdrawalStatus]string{
	cash.WithdrawalPending:  "대기",
	cash.WithdrawalApproved: "승인",
	cash.WithdrawalRejected: "반려",
}

// WithdrawalSheet lays out withdrawal requests for the admin export.
func WithdrawalSheet(requests []cash.WithdrawalRequest) Sheet {
	sh := Sheet{
		Name:    "출금요청",
		Columns: []string{"ID", "사용자 ID", "요청 금액", "수수료", "실수령액", "상태", "반려 사유", "처리자", "처리일시", "요청일시"},
	}
	const layout = "2006-01-02 15:04:05"
	for _, w := range requests {
		processed := ""
		switch {
		case w.ProcessedAt != nil:
			processed = w.ProcessedAt.Format(layout)
		case w.RejectedAt != nil:
			processed = w.RejectedAt.Format(layout)
		}
		label, ok := withdrawalStatusLabel[w.Status]
		if !ok {
			label = string(w.Status)
		}
		sh.Rows = append(sh.Rows, []any{
			w.ID,
			w.UserID,
			w.Amount,
			w.Fee(),
			w.NetAmount(),
			label,
			w.RejectedReason,
			w.ProcessedBy,
			processed,
			w.CreatedAt.Format(layout),
		})
	}
	return sh
}
