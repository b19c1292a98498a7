package cpu

import (
	"context"
	"strings"
	"sync"
)

type ExportType int

const (
	ExportFunction ExportType = iota
	ExportVariable
)

type Handler func(ctx context.Context, thread Thread) error

type Export struct {
	Ordinal      uint16
	Name         string
	Type         ExportType
	VariableAddr uint32
	Handler      Handler
}

type ExportResolver struct {
	mu     sync.RWMutex
	tables map[string]map[uint16]*Export
}

func NewExportResolver() *ExportResolver {
	return &ExportResolver{tables: make(map[string]map[uint16]*Export)}
}

func (e *Export) Implemented() bool {
	return e.Type == ExportVariable || e.Handler != nil
}

func (r *ExportResolver) RegisterTable(library string, exports []*Export) {
	table := make(map[uint16]*Export, len(exports))
	for _, export := range exports {
		table[export.Ordinal] = export
	}
	r.mu.Lock()
	r.tables[strings.ToLower(library)] = table
	r.mu.Unlock()
}

func (r *ExportResolver) Libraries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	return names
}

func (r *ExportResolver) GetExportByOrdinal(library string, ordinal uint16) (*Export, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.tables[strings.ToLower(library)]
	if !ok {
		return nil, ErrLibraryNotFound
	}
	export, ok := table[ordinal]
	if !ok {
		return nil, ErrExportNotFound
	}
	return export, nil
}

func (r *ExportResolver) GetExportByName(library, name string) (*Export, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.tables[strings.ToLower(library)]
	if !ok {
		return nil, ErrLibraryNotFound
	}
	for _, export := range table {
		if export.Name == name {
			return export, nil
		}
	}
	return nil, ErrExportNotFound
}

func (r *ExportResolver) SetVariableMapping(library string, ordinal uint16, addr uint32) error {
	export, err := r.GetExportByOrdinal(library, ordinal)
	if err != nil {
		return err
	} else if export.Type != ExportVariable {
		return ErrNotVariable
	}
	r.mu.Lock()
	export.VariableAddr = addr
	r.mu.Unlock()
	return nil
}
