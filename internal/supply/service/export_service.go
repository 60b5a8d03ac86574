package service

import (
	"context"
	"fmt"
	"time"

	"github.com/conbuild/backoffice/internal/shared/workflow"
	"github.com/conbuild/backoffice/internal/supply/repository"
	"github.com/xuri/excelize/v2"
)

// 导出上限
const exportLimit = 10000

var dispatchExportHeaders = []string{
	"Ref Number", "Status", "Carrier", "Dispatched", "Est. Arrival", "Duration (days)",
	"Departure Site", "Arrival Site", "Driver", "Vehicle Number", "Vehicle Type", "Transport Cost", "Remarks",
}

var deliveryExportHeaders = []string{
	"Ref Number", "Status", "Received Qty", "Delivered By", "Received By", "Delivery Date", "Site", "Remarks",
}

// ExportService Excel 导出
type ExportService struct {
	repos *repository.Repositories
}

func NewExportService(repos *repository.Repositories) *ExportService {
	return &ExportService{repos: repos}
}

// ExportDispatches writes the filtered dispatches into a workbook.
func (s *ExportService) ExportDispatches(ctx context.Context, f repository.Filter) (*excelize.File, string, error) {
	f.Page, f.PageSize = 1, exportLimit
	items, _, err := s.repos.Dispatch.FindAll(ctx, f)
	if err != nil {
		return nil, "", fmt.Errorf("list dispatches: %w", err)
	}
	sites, err := s.siteNames(ctx)
	if err != nil {
		return nil, "", err
	}

	x, sheet := newSheet("Dispatches", dispatchExportHeaders)
	for i, d := range items {
		row := i + 2
		x.SetCellValue(sheet, fmt.Sprintf("A%d", row), d.RefNumber)
		x.SetCellValue(sheet, fmt.Sprintf("B%d", row), d.Status)
		x.SetCellValue(sheet, fmt.Sprintf("C%d", row), d.DispatchedBy)
		x.SetCellValue(sheet, fmt.Sprintf("D%d", row), formatTime(d.DispatchedDate))
		x.SetCellValue(sheet, fmt.Sprintf("E%d", row), formatTime(d.EstArrivalTime))
		x.SetCellValue(sheet, fmt.Sprintf("F%d", row), workflow.DurationDays(d.DispatchedDate, d.EstArrivalTime))
		x.SetCellValue(sheet, fmt.Sprintf("G%d", row), siteLabel(sites, d.DepartureSiteID))
		x.SetCellValue(sheet, fmt.Sprintf("H%d", row), siteLabel(sites, d.ArrivalSiteID))
		x.SetCellValue(sheet, fmt.Sprintf("I%d", row), d.DriverName)
		x.SetCellValue(sheet, fmt.Sprintf("J%d", row), d.VehicleNumber)
		x.SetCellValue(sheet, fmt.Sprintf("K%d", row), d.VehicleType)
		x.SetCellValue(sheet, fmt.Sprintf("L%d", row), d.TotalTransportCost)
		x.SetCellValue(sheet, fmt.Sprintf("M%d", row), d.Remarks)
	}

	filename := fmt.Sprintf("dispatches_%s.xlsx", time.Now().Format("20060102"))
	return x, filename, nil
}

// ExportDeliveries writes the filtered request deliveries into a workbook.
func (s *ExportService) ExportDeliveries(ctx context.Context, f repository.Filter) (*excelize.File, string, error) {
	f.Page, f.PageSize = 1, exportLimit
	items, _, err := s.repos.Delivery.FindAll(ctx, f)
	if err != nil {
		return nil, "", fmt.Errorf("list request deliveries: %w", err)
	}
	sites, err := s.siteNames(ctx)
	if err != nil {
		return nil, "", err
	}

	x, sheet := newSheet("Deliveries", deliveryExportHeaders)
	for i, d := range items {
		row := i + 2
		x.SetCellValue(sheet, fmt.Sprintf("A%d", row), d.RefNumber)
		x.SetCellValue(sheet, fmt.Sprintf("B%d", row), d.Status)
		x.SetCellValue(sheet, fmt.Sprintf("C%d", row), d.ReceivedQuantity)
		x.SetCellValue(sheet, fmt.Sprintf("D%d", row), d.DeliveredBy)
		x.SetCellValue(sheet, fmt.Sprintf("E%d", row), d.ReceivedBy)
		x.SetCellValue(sheet, fmt.Sprintf("F%d", row), d.DeliveryDate.Format("2006-01-02"))
		x.SetCellValue(sheet, fmt.Sprintf("G%d", row), siteLabel(sites, d.SiteID))
		x.SetCellValue(sheet, fmt.Sprintf("H%d", row), d.Remarks)
	}

	filename := fmt.Sprintf("request_deliveries_%s.xlsx", time.Now().Format("20060102"))
	return x, filename, nil
}

func (s *ExportService) siteNames(ctx context.Context) (map[string]string, error) {
	sites, err := s.repos.Sites.FindAll(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	m := make(map[string]string, len(sites))
	for _, site := range sites {
		m[site.ID] = site.Name
	}
	return m, nil
}

func newSheet(name string, headers []string) (*excelize.File, string) {
	x := excelize.NewFile()
	x.SetSheetName("Sheet1", name)

	// 表头样式: 加粗
	boldStyle, _ := x.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		x.SetCellValue(name, cell, h)
		x.SetCellStyle(name, cell, cell, boldStyle)
	}
	last, _ := excelize.ColumnNumberToName(len(headers))
	x.SetColWidth(name, "A", last, 16)
	return x, name
}

func siteLabel(names map[string]string, id string) string {
	if n, ok := names[id]; ok {
		return n
	}
	return id
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
