// Package ui provides colored terminal output helpers for the CLI.
package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const headerWidth = 60

// Header prints a banner with the given title centered.
func Header(title string) {
	line := strings.Repeat("=", headerWidth)
	color.Cyan(line)
	color.Cyan(center(title, headerWidth))
	color.Cyan(line)
}

// Step prints a numbered progress step.
func Step(n, total int, text string) {
	color.Blue("[%d/%d] %s", n, total, text)
}

// Success prints a green checkmark line.
func Success(text string) {
	color.Green("✓ %s", text)
}

// Info prints a plain informational line.
func Info(text string) {
	fmt.Println(text)
}

// Warning prints a yellow warning line.
func Warning(text string) {
	color.Yellow("⚠ %s", text)
}

// Error prints a red error line.
func Error(text string) {
	color.Red("✗ %s", text)
}

// BlueText prints text in blue without any prefix.
func BlueText(text string) {
	color.Blue("%s", text)
}

// YellowText prints text in yellow without any prefix.
func YellowText(text string) {
	color.Yellow("%s", text)
}

// center left-pads text so it sits in the middle of width columns. Text
// wider than width is returned unchanged.
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	return strings.Repeat(" ", (width-len(text))/2) + text
}
