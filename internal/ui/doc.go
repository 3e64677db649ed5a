// Package ui renders proxy and login reports for the terminal with [lipgloss] styles.
//
// Renderers return strings so commands can write them to any [io.Writer]; nothing here prints directly.
package ui
