package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

func printStatus(w io.Writer, ok bool, format string, args ...any) {
	symbol := okColor.Sprint("✓")
	if !ok {
		symbol = failColor.Sprint("✗")
	}
	fmt.Fprintf(w, "%s %s\n", symbol, fmt.Sprintf(format, args...))
}

func statusColor(status string) *color.Color {
	switch status {
	case "succeeded":
		return okColor
	case "cancelled":
		return warnColor
	default:
		return failColor
	}
}
