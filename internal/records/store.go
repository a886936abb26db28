// Package records loads and mutates the project records workbook.
//
// The workbook is a plain .xlsx file with one "Projects" sheet: a header
// row followed by one row per project. The store keeps no cache of its own;
// the workbook is local and cheap to read.
package records

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
)

// Sentinel errors for records operations.
var (
	// ErrProjectNotFound indicates no project row matches the given ID.
	ErrProjectNotFound = errors.New("project not found")

	// ErrBadWorkbook indicates the workbook is missing the Projects sheet
	// or its header row is malformed.
	ErrBadWorkbook = errors.New("malformed projects workbook")
)

// Project is one row of the Projects sheet.
type Project struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Customer string  `json:"customer"`
	Status   string  `json:"status"`
	Budget   float64 `json:"budget,omitempty"`
	Updated  string  `json:"updated,omitempty"`
}

// Matches reports whether the project matches an entity hint by ID,
// name or customer, case-insensitively.
func (p Project) Matches(hint string) bool {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return false
	}
	return strings.ToLower(p.ID) == hint ||
		strings.Contains(strings.ToLower(p.Name), hint) ||
		strings.Contains(strings.ToLower(p.Customer), hint)
}

// Store is the read/update surface over project records.
type Store interface {
	// List returns all projects, most recently updated first.
	List() ([]Project, error)

	// UpdateProjectStatus sets the status of the project with the given
	// ID. Returns ErrProjectNotFound if no row matches.
	UpdateProjectStatus(id, status string) (Project, error)
}

const (
	projectsSheet = "Projects"
	headerRows    = 1
)

// Column order of the Projects sheet.
const (
	colID = iota
	colName
	colCustomer
	colStatus
	colBudget
	colUpdated
	colCount
)

// SheetStore reads and writes the projects workbook via excelize.
// A single mutex serializes all file access; the workbook is small and
// reopened per call so external edits are picked up.
type SheetStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewSheetStore creates a store over the workbook at path. The file does
// not have to exist yet; see Init.
func NewSheetStore(path string) *SheetStore {
	return &SheetStore{path: path, now: time.Now}
}

// Init creates an empty workbook with the Projects sheet and header row
// if none exists at the store's path.
func (s *SheetStore) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := excelize.OpenFile(s.path); err == nil {
		return nil
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", projectsSheet); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}
	header := []string{"ID", "Name", "Customer", "Status", "Budget", "Updated"}
	for i, h := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(projectsSheet, cell, h); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

// List returns all projects in sheet order (the sheet is maintained most
// recently updated first).
func (s *SheetStore) List() ([]Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	return readProjects(f)
}

// UpdateProjectStatus sets the status cell of the matching row and saves
// the workbook.
func (s *SheetStore) UpdateProjectStatus(id, status string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return Project{}, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	projects, err := readProjects(f)
	if err != nil {
		return Project{}, err
	}

	for i, p := range projects {
		if !strings.EqualFold(p.ID, strings.TrimSpace(id)) {
			continue
		}
		row := i + headerRows + 1
		statusCell, err := excelize.CoordinatesToCellName(colStatus+1, row)
		if err != nil {
			return Project{}, fmt.Errorf("status cell: %w", err)
		}
		if err := f.SetCellValue(projectsSheet, statusCell, status); err != nil {
			return Project{}, fmt.Errorf("writing status: %w", err)
		}
		updatedCell, err := excelize.CoordinatesToCellName(colUpdated+1, row)
		if err != nil {
			return Project{}, fmt.Errorf("updated cell: %w", err)
		}
		stamp := s.now().UTC().Format("2006-01-02")
		if err := f.SetCellValue(projectsSheet, updatedCell, stamp); err != nil {
			return Project{}, fmt.Errorf("writing updated: %w", err)
		}
		if err := f.Save(); err != nil {
			return Project{}, fmt.Errorf("saving workbook: %w", err)
		}
		p.Status = status
		p.Updated = stamp
		return p, nil
	}

	return Project{}, fmt.Errorf("%w: %q", ErrProjectNotFound, id)
}

func readProjects(f *excelize.File) ([]Project, error) {
	rows, err := f.GetRows(projectsSheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWorkbook, err)
	}
	if len(rows) < headerRows {
		return nil, fmt.Errorf("%w: missing header row", ErrBadWorkbook)
	}

	projects := make([]Project, 0, len(rows)-headerRows)
	for _, row := range rows[headerRows:] {
		p := projectFromRow(row)
		if p.ID == "" {
			continue // blank or partial row
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func projectFromRow(row []string) Project {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	p := Project{
		ID:       cell(colID),
		Name:     cell(colName),
		Customer: cell(colCustomer),
		Status:   cell(colStatus),
		Updated:  cell(colUpdated),
	}
	if raw := cell(colBudget); raw != "" {
		// Tolerate formatted numbers like "12,500".
		raw = strings.ReplaceAll(raw, ",", "")
		fmt.Sscanf(raw, "%f", &p.Budget)
	}
	return p
}
