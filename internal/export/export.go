// Package export renders reconciliation reports as xlsx workbooks.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/eksporyuk/backend/internal/services/ledger"
	"github.com/xuri/excelize/v2"
)

const (
	walletSheet = "Wallets"
	orphanSheet = "Orphan Conversions"
)

var walletHeaders = []string{
	"User ID", "Affiliate Profile ID", "Has Profile", "Has Wallet", "Conversions",
	"Expected Earnings", "Wallet Earnings", "Balance", "Profile Earnings", "Delta", "Drift",
}

var orphanHeaders = []string{
	"Conversion ID", "Affiliate ID", "Transaction ID", "Commission", "Repairable To", "Credited", "Action",
}

// WalletWorkbook writes wallet reports, and orphans when given, as an xlsx workbook to w
func WalletWorkbook(w io.Writer, reports []ledger.WalletReport, orphans []ledger.Orphan, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("error creating header style: %w", err)
	}
	driftStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8D7DA"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("error creating drift style: %w", err)
	}

	// The default sheet becomes the wallet sheet.
	if err := f.SetSheetName("Sheet1", walletSheet); err != nil {
		return err
	}
	if err := writeHeader(f, walletSheet, walletHeaders, headerStyle); err != nil {
		return err
	}

	for i, r := range reports {
		row := i + 2
		profileID := ""
		if r.AffiliateProfileID != nil {
			profileID = r.AffiliateProfileID.String()
		}
		values := []interface{}{
			r.UserID.String(),
			profileID,
			r.HasAffiliateProfile,
			r.HasWallet,
			r.ConversionCount,
			r.ExpectedEarnings.InexactFloat64(),
			r.ActualWalletEarnings.InexactFloat64(),
			r.Balance.InexactFloat64(),
			r.ProfileTotalEarnings.InexactFloat64(),
			r.Delta.InexactFloat64(),
			r.Drift,
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(walletSheet, cell, &values); err != nil {
			return fmt.Errorf("error writing wallet row %d: %w", row, err)
		}
		if r.Drift {
			last, _ := excelize.CoordinatesToCellName(len(walletHeaders), row)
			if err := f.SetCellStyle(walletSheet, cell, last, driftStyle); err != nil {
				return err
			}
		}
	}

	summaryRow := len(reports) + 3
	f.SetCellValue(walletSheet, fmt.Sprintf("A%d", summaryRow), "Generated at")
	f.SetCellValue(walletSheet, fmt.Sprintf("B%d", summaryRow), generatedAt.UTC().Format(time.RFC3339))
	f.SetColWidth(walletSheet, "A", "B", 38)
	f.SetColWidth(walletSheet, "C", "K", 16)

	if len(orphans) > 0 {
		if _, err := f.NewSheet(orphanSheet); err != nil {
			return err
		}
		if err := writeHeader(f, orphanSheet, orphanHeaders, headerStyle); err != nil {
			return err
		}
		for i, o := range orphans {
			row := i + 2
			txID, repairTo, action := "", "", "review"
			if o.TransactionID != nil {
				txID = o.TransactionID.String()
			}
			if o.RepairableTo != nil {
				repairTo = o.RepairableTo.String()
				action = "repair"
			} else if o.Prunable() {
				action = "prune"
			}
			values := []interface{}{
				o.ConversionID.String(),
				o.AffiliateID.String(),
				txID,
				o.CommissionAmount.InexactFloat64(),
				repairTo,
				o.Credited,
				action,
			}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(orphanSheet, cell, &values); err != nil {
				return fmt.Errorf("error writing orphan row %d: %w", row, err)
			}
		}
		f.SetColWidth(orphanSheet, "A", "C", 38)
		f.SetColWidth(orphanSheet, "E", "E", 38)
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}
