package observability

import "github.com/sirupsen/logrus"

type Warning error

type InfoEntry struct {
	LogLevel logrus.Level
	Format   string
	Args     []any
	Fields   map[string]any
}

/*
LogCollection accumulates logs, errors and warnings produced by a whole
load/validate/plan pass, so that a single run surfaces every problem
instead of stopping at the first one.
*/
type LogCollection struct {
	Logs   []InfoEntry
	Errors []error
	Warns  []Warning
}

func NewLogCollection() *LogCollection {
	return &LogCollection{
		Errors: []error{},
		Warns:  []Warning{},
	}
}

func (lc *LogCollection) AddDebug(fields map[string]any, format string, args ...any) {
	lc.Logs = append(lc.Logs, InfoEntry{
		LogLevel: logrus.DebugLevel,
		Format:   format,
		Args:     args,
		Fields:   fields,
	})
}

func (lc *LogCollection) AddInfo(fields map[string]any, format string, args ...any) {
	lc.Logs = append(lc.Logs, InfoEntry{
		LogLevel: logrus.InfoLevel,
		Format:   format,
		Args:     args,
		Fields:   fields,
	})
}

func (lc *LogCollection) AddError(err error) {
	lc.Errors = append(lc.Errors, err)
}

func (lc *LogCollection) AddErrors(errs []error) {
	lc.Errors = append(lc.Errors, errs...)
}

func (lc *LogCollection) AddWarn(warn Warning) {
	lc.Warns = append(lc.Warns, warn)
}

func (lc *LogCollection) AddWarns(warns []Warning) {
	lc.Warns = append(lc.Warns, warns...)
}

func (lc *LogCollection) HasErrors() bool {
	return len(lc.Errors) > 0
}

func (lc *LogCollection) HasWarns() bool {
	return len(lc.Warns) > 0
}
