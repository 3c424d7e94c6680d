// Package logx is a thin structured-logging layer on top of zerolog.
//
// It exists so the rest of the codebase can log through a small, stable API
// (Logger + Field helpers) while sink configuration (console/file, level)
// stays swappable at runtime via Service.Apply.
package logx
