package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
)

// ANSI escape codes.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[90m"
	colorBold  = "\033[1m"
)

var colorEnabled = true

// DisableColors turns off ANSI colors in Format.
func DisableColors() { colorEnabled = false }

// EnableColors turns on ANSI colors in Format.
func EnableColors() { colorEnabled = true }

func color(code, text string) string {
	if !colorEnabled {
		return text
	}
	return code + text + colorReset
}

// Format renders the error for a terminal.
func (e *Error) Format() string {
	var b strings.Builder

	b.WriteString("\n")
	if e.Code != "" {
		b.WriteString(color(colorRed+colorBold, "ERROR "+e.Code+": "))
	} else {
		b.WriteString(color(colorRed+colorBold, "ERROR: "))
	}
	b.WriteString(e.Message)
	b.WriteString("\n\n")

	if e.Field != "" {
		b.WriteString("  field: ")
		b.WriteString(color(colorCyan, e.Field))
		b.WriteString("\n\n")
	}

	if e.Detail != "" {
		for _, line := range wrapText(e.Detail, 70) {
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if e.Wrapped != nil {
		b.WriteString("  ")
		b.WriteString(color(colorGray, "cause: "+e.Wrapped.Error()))
		b.WriteString("\n\n")
	}

	if e.Suggestion != "" {
		b.WriteString("  ")
		b.WriteString(color(colorCyan, "Hint: "))
		b.WriteString(e.Suggestion)
		b.WriteString("\n\n")
	}

	return b.String()
}

// FormatJSON renders the error as a JSON object.
func (e *Error) FormatJSON() string {
	out := struct {
		Code       string   `json:"code,omitempty"`
		Category   Category `json:"category"`
		Message    string   `json:"message"`
		Detail     string   `json:"detail,omitempty"`
		Field      string   `json:"field,omitempty"`
		Suggestion string   `json:"suggestion,omitempty"`
		Cause      string   `json:"cause,omitempty"`
	}{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Field:      e.Field,
		Suggestion: e.Suggestion,
	}
	if e.Wrapped != nil {
		out.Cause = e.Wrapped.Error()
	}
	data, _ := json.Marshal(out)
	return string(data)
}

func wrapText(text string, width int) []string {
	if len(text) <= width {
		return []string{text}
	}

	var lines []string
	var current strings.Builder
	for _, word := range strings.Fields(text) {
		if current.Len() > 0 && current.Len()+len(word)+1 > width {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}

// Print writes err to w. Joined errors are printed one after the other.
func Print(w io.Writer, err error) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			Print(w, e)
		}
		return
	}

	var e *Error
	if stderrors.As(err, &e) {
		fmt.Fprint(w, e.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", color(colorRed+colorBold, "ERROR:"), err.Error())
}
